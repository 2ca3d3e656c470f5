package session

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var durationRE = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDuration parses the compact duration strings used for token lifetimes:
// a positive integer followed by one of s, m, h or d ("15m", "7d").
func ParseDuration(s string) (time.Duration, error) {
	m := durationRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("session: invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("session: invalid duration %q", s)
	}

	unit := time.Second
	switch m[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("session: duration %q out of range", s)
	}
	return time.Duration(n) * unit, nil
}

// maxAgeSeconds converts a lifetime string to a cookie Max-Age, falling back to def.
func maxAgeSeconds(spec string, def time.Duration) int {
	d, err := ParseDuration(spec)
	if err != nil {
		d = def
	}
	return int(d / time.Second)
}
