//go:build linux

package excl

import (
	"strconv"
	"strings"

	"github.com/edoenges/runexcl/sysfs"
)

func openChangeWatcher(path string) (*sysfs.ChangeWatcher, error) {
	return sysfs.Watch(path)
}

// readPopulated reads the "populated " key out of a cgroup.events file.
// Per spec §4.3, unrecognized content (missing key) is fatal.
func readPopulated(path string) (bool, error) {
	line, err := sysfs.ReadLine(path)
	if err != nil {
		return false, err
	}

	const key = "populated "
	idx := strings.Index(line, key)
	if idx == -1 {
		return false, &ErrUnexpectedContent{Path: path}
	}
	value := strings.TrimSpace(line[idx+len(key):])
	// Only the leading token is the value; cgroup.events could in
	// principle carry more keys on later lines, but we only read the
	// first line as the original implementation does.
	if sp := strings.IndexAny(value, " \t"); sp != -1 {
		value = value[:sp]
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return false, &ErrUnexpectedContent{Path: path}
	}
	return n != 0, nil
}
