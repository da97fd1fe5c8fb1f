package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RotateInterval is the rotate-by-time flag's value, with a grammar of
// "<N>{s|sec|min|hrs}". datasize.ByteSize already covers the byte
// suffixes for the size-mode threshold; this type layers the time
// suffixes on top for the time-mode interval.
type RotateInterval struct {
	Seconds int64
}

var timeSuffixes = []struct {
	suffix  string
	seconds int64
}{
	{"hrs", 3600},
	{"min", 60},
	{"sec", 1},
	{"s", 1},
}

// ParseRotateInterval parses a string like "30s", "5min" or "2hrs" into a
// RotateInterval.
func ParseRotateInterval(s string) (RotateInterval, error) {
	s = strings.TrimSpace(s)
	for _, ts := range timeSuffixes {
		if strings.HasSuffix(s, ts.suffix) {
			numPart := strings.TrimSuffix(s, ts.suffix)
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return RotateInterval{}, fmt.Errorf("config: invalid rotate interval %q: %w", s, err)
			}
			if n <= 0 {
				return RotateInterval{}, fmt.Errorf("config: rotate interval must be positive, got %q", s)
			}
			return RotateInterval{Seconds: n * ts.seconds}, nil
		}
	}
	return RotateInterval{}, fmt.Errorf("config: rotate interval %q has no recognized suffix (s|sec|min|hrs)", s)
}

func (r RotateInterval) String() string {
	return fmt.Sprintf("%ds", r.Seconds)
}
