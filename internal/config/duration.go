package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// durationField is one duration setting and the range it accepts. An empty
// or zero value resolves to def; any other value must be at least min.
type durationField struct {
	path string
	min  time.Duration
	def  time.Duration
}

var (
	pollIntervalField = durationField{path: "worker.poll_interval", min: 10 * time.Millisecond}
	lockBackoffField  = durationField{path: "worker.lock_backoff", min: 10 * time.Millisecond}
	drainTimeoutField = durationField{path: "worker.drain_timeout", def: 30 * time.Second}
	// Leases are renewed every ttl/3; anything shorter than a second
	// renews faster than a store round trip.
	lockTTLField     = durationField{path: "worker.lock_ttl", min: time.Second, def: 30 * time.Second}
	busyTimeoutField = durationField{path: "storage.busy_timeout"}
)

// ParseDurationField parses a duration setting. Empty means zero. Besides Go
// durations ("500ms", "1m30s") a bare integer is read as seconds, the same
// way task frequencies are.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return durationField{path: path}.parse(raw)
}

func (f durationField) parse(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return f.def, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Second) || n < math.MinInt64/int64(time.Second) {
			return 0, fmt.Errorf("%s: %s seconds is out of range", f.path, s)
		}
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (use e.g. \"500ms\", \"30s\", \"2m\")", f.path, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", f.path, s)
	case d == 0:
		return f.def, nil
	case d < f.min:
		return 0, fmt.Errorf("%s: %s is below the minimum of %s", f.path, d, f.min)
	}
	return d, nil
}
