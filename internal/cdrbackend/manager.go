package cdrbackend

import (
	"log/slog"

	"github.com/sebac/pbxcore/internal/cdr"
)

// ManagerEvent re-emits every posted record as a structured event,
// the Go analogue of the manager interface's "Cdr" event: same field
// set, re-expressed as slog attributes instead of a CRLF-delimited
// text block, for whatever downstream consumer watches the log stream
// for call-completion notifications.
type ManagerEvent struct {
	log *slog.Logger
}

// NewManagerEvent returns a ManagerEvent back-end writing through log,
// or slog.Default() if log is nil.
func NewManagerEvent(log *slog.Logger) *ManagerEvent {
	if log == nil {
		log = slog.Default()
	}
	return &ManagerEvent{log: log}
}

func (m *ManagerEvent) Name() string { return "cdr_manager" }

func (m *ManagerEvent) Post(batch *cdr.Record) error {
	for set := batch; set != nil; set = set.BatchNext {
		for r := set; r != nil; r = r.Next {
			m.log.Info("Cdr",
				"AccountCode", r.AccountCode,
				"Source", r.CallerIDNum,
				"Destination", r.Dst,
				"DestinationContext", r.DstContext,
				"CallerID", r.CallerIDName,
				"Channel", r.Channel,
				"DestinationChannel", r.DstChannel,
				"LastApplication", r.LastApp,
				"LastData", r.LastData,
				"StartTime", r.StartTime,
				"AnswerTime", r.AnswerTime,
				"EndTime", r.EndTime,
				"Duration", r.DurationSec,
				"BillableSeconds", r.BillSec,
				"Disposition", r.Disposition.String(),
				"AMAFlags", r.AMAFlags.String(),
				"UniqueID", r.UniqueID,
				"UserField", r.UserField,
			)
		}
	}
	return nil
}
