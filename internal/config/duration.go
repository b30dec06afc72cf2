package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration reads the duration set at path. Empty and zero values give
// def. A bare integer counts seconds, so "30" and "30s" are the same.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (e.g. 500ms, 30s, 5m)", path, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
