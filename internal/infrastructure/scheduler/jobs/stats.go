// Package jobs contains the scheduled jobs of the notification service.
package jobs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
)

// RunStats summarizes one run of a notification job.
type RunStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Scanned   int
	Sent      int
	Skipped   int
	Failed    int
}

func (s *RunStats) record(r notification.TriggerResult) {
	switch {
	case r.NotificationSent:
		s.Sent++
	case r.Success:
		s.Skipped++
	default:
		s.Failed++
	}
}

// err reports a run with failed items as an error so the scheduler counts it.
func (s *RunStats) err(job string) error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d notifications failed", job, s.Failed, s.Scanned)
}

// lastStats stores the stats of the most recent run.
type lastStats struct {
	v atomic.Pointer[RunStats]
}

// LastRunStats returns statistics from the last run, or nil before the first.
func (l *lastStats) LastRunStats() *RunStats {
	return l.v.Load()
}
