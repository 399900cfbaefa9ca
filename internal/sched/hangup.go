package sched

import (
	"time"

	"github.com/sebac/pbxcore/internal/channel"
)

// ScheduleHangup arranges for ch to receive a SoftHangupTimeout request
// at deadline, the scheduler-side half of the interpreter's
// whentohangup field. Callers cancel it (via the returned TaskID) when
// the call ends normally or the deadline is extended.
func ScheduleHangup(s *Scheduler, ch *channel.Channel, deadline time.Time) TaskID {
	return s.RunAt(deadline, func() {
		ch.RequestSoftHangup(channel.SoftHangupTimeout)
	})
}
