// Package cdrbackend holds the concrete cdr.Backend implementations:
// a structured-log back-end, a SQLite back-end, and a manager-event
// re-emitter, each registered into a cdr.Registry at startup.
package cdrbackend

import (
	"log/slog"

	"github.com/sebac/pbxcore/internal/cdr"
)

// Logging posts each record in a batch as one structured log line.
// Useful on its own in development, or alongside SQLite/ManagerEvent in
// production for a human-readable trail.
type Logging struct {
	log *slog.Logger
}

// NewLogging returns a Logging back-end writing through log, or
// slog.Default() if log is nil.
func NewLogging(log *slog.Logger) *Logging {
	if log == nil {
		log = slog.Default()
	}
	return &Logging{log: log}
}

func (l *Logging) Name() string { return "cdr_log" }

func (l *Logging) Post(batch *cdr.Record) error {
	for set := batch; set != nil; set = set.BatchNext {
		for r := set; r != nil; r = r.Next {
			l.log.Info("cdr",
				"channel", r.Channel,
				"dst", r.Dst,
				"dst_context", r.DstContext,
				"dst_channel", r.DstChannel,
				"last_app", r.LastApp,
				"last_data", r.LastData,
				"start", r.StartTime,
				"answer", r.AnswerTime,
				"end", r.EndTime,
				"duration", r.DurationSec,
				"billsec", r.BillSec,
				"disposition", r.Disposition.String(),
				"amaflags", r.AMAFlags.String(),
				"account_code", r.AccountCode,
				"unique_id", r.UniqueID,
				"user_field", r.UserField,
			)
		}
	}
	return nil
}
