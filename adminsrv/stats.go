package adminsrv

import (
	"time"
)

// Stats tracks process-wide state that isn't attributable to any single
// connection. It backs get_stats's top-level fields (§6). Message and
// byte counters are not duplicated here; handleGetStats sums them
// straight from the registry's live connections (registry.Connection.Stats),
// which are the counters actually bumped as the send/receive pipelines
// operate.
type Stats struct {
	startTime time.Time
}

// NewStats returns a Stats with its clock started now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime reports elapsed time since the stats were started.
func (s *Stats) Uptime() time.Duration { return time.Since(s.startTime) }
