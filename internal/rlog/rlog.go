// Package rlog centralizes runexcl's logging setup. It is grounded on
// configLogrus in _examples/nayuta-ai-simple_runc/main.go: the same
// debug/log-file/log-format flags, the same logrus.TextFormatter
// CallerPrettyfier trick for trimming the module's own path prefix from
// reported file names, and the same "write straight to the chosen output,
// no secondary buffering" model.
package rlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config mirrors the subset of CLI flags that affect logging.
type Config struct {
	Debug     bool
	LogFile   string
	LogFormat string // "text" (default) or "json"
}

// Configure applies cfg to the standard logrus logger, returning an error
// for an unrecognized log format or an unopenable log file.
func Configure(cfg Config) error {
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetReportCaller(true)

		_, file, _, _ := runtime.Caller(0)
		prefix := filepath.Dir(filepath.Dir(filepath.Dir(file))) + "/"
		logrus.SetFormatter(&logrus.TextFormatter{
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				function := strings.TrimPrefix(f.Function, prefix) + "()"
				fileLine := strings.TrimPrefix(f.File, prefix) + ":" + strconv.Itoa(f.Line)
				return function, fileLine
			},
		})
	}

	switch cfg.LogFormat {
	case "", "text":
		// do nothing, logrus defaults to the text formatter
	case "json":
		logrus.SetFormatter(new(logrus.JSONFormatter))
	default:
		return fmt.Errorf("rlog: invalid log-format %q", cfg.LogFormat)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o644)
		if err != nil {
			return fmt.Errorf("rlog: open log file %q: %w", cfg.LogFile, err)
		}
		logrus.SetOutput(f)
	}

	return nil
}
