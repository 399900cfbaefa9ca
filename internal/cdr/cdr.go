// Package cdr implements the call detail record subsystem: one record
// per channel leg, chained forward to represent transferred/forked
// calls, detached into a batch queue and drained by a single posting
// goroutine that fans out to the registered back-end set.
package cdr

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Flag is a bitmask of per-record state.
type Flag uint32

const (
	// FlagKeepVars preserves dialplan variables across a reset.
	FlagKeepVars Flag = 1 << iota
	// FlagPosted marks a record already shipped to the back-ends;
	// re-posting is logged as an error but not fatal.
	FlagPosted
	// FlagLocked freezes every mutator except End/Answer/SetCallerID.
	FlagLocked
	// FlagChild marks a record appended via Append rather than the
	// original leg.
	FlagChild
)

// Disposition is the outcome recorded for a call, ordered so Disposition
// only ever monotonically increases via raiseDisposition.
type Disposition int

const (
	DispositionNoAnswer Disposition = iota
	DispositionBusy
	DispositionAnswered
	DispositionFailed
)

func (d Disposition) String() string {
	switch d {
	case DispositionNoAnswer:
		return "NO ANSWER"
	case DispositionBusy:
		return "BUSY"
	case DispositionAnswered:
		return "ANSWERED"
	case DispositionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// AMAFlag controls how a record is treated for billing purposes.
type AMAFlag int

const (
	AMAOmit AMAFlag = iota + 1
	AMABilling
	AMADocumentation
)

func (f AMAFlag) String() string {
	switch f {
	case AMAOmit:
		return "OMIT"
	case AMABilling:
		return "BILLING"
	case AMADocumentation:
		return "DOCUMENTATION"
	default:
		return "DOCUMENTATION"
	}
}

// ParseAMAFlag converts a config string to an AMAFlag, defaulting to
// AMADocumentation when unrecognised.
func ParseAMAFlag(s string) AMAFlag {
	switch strings.ToLower(s) {
	case "omit":
		return AMAOmit
	case "billing":
		return AMABilling
	default:
		return AMADocumentation
	}
}

// DefaultAMAFlags is the process-wide default applied to a Record
// whose channel never set its own amaflags, the `cw_default_amaflags`
// analogue.
var DefaultAMAFlags = AMADocumentation

// DefaultAccountCode is the process-wide fallback account code.
var DefaultAccountCode string

// ResetMode controls whether Reset posts the record before clearing
// its fields.
type ResetMode int

const (
	// ResetSkipIfPosted clears fields in place without posting,
	// leaving an already-posted record's back-end copy untouched.
	// This is the default: most reset call sites are reusing a CDR
	// for a new leg on the same channel, not closing one out.
	ResetSkipIfPosted ResetMode = iota
	// ResetForcePost posts the record first (even if FlagPosted is
	// already set) and only then clears it, for call sites that reset
	// a CDR specifically to cut a new billing period mid-call.
	ResetForcePost
)

// Record is one call detail record. Field names mirror the original
// struct almost verbatim so operators migrating dashboards see the
// same vocabulary.
type Record struct {
	mu sync.Mutex

	CallerIDName string
	CallerIDNum  string
	Dst          string
	DstContext   string
	Channel      string
	DstChannel   string
	LastApp      string
	LastData     string

	StartTime  time.Time
	AnswerTime time.Time
	EndTime    time.Time

	DurationSec int
	BillSec     int

	Disposition Disposition
	AMAFlags    AMAFlag
	AccountCode string
	UniqueID    string
	UserField   string

	flags Flag

	vars map[string]string

	// Next chains forked/transferred legs of the same call.
	Next *Record
	// BatchNext chains this record into the process-wide posting
	// batch; nil once detached and consumed.
	BatchNext *Record
}

// New allocates a zero Record.
func New() *Record {
	return &Record{vars: make(map[string]string)}
}

// Init binds cdr to a channel's identity fields, the `cdr_init` step.
func (cdr *Record) Init(channelName, callerIDName, callerIDNum, uniqueID string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cdr.Channel = channelName
	cdr.CallerIDName = callerIDName
	cdr.CallerIDNum = callerIDNum
	cdr.UniqueID = uniqueID
	cdr.AMAFlags = DefaultAMAFlags
	cdr.AccountCode = DefaultAccountCode
}

func (cdr *Record) locked() bool { return cdr.flags&FlagLocked != 0 }

// StartCall records the call's start time, a no-op if Start has
// already been called (mirrors the source refusing to restart a
// running CDR).
func (cdr *Record) StartCall() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() || !cdr.StartTime.IsZero() {
		return
	}
	cdr.StartTime = time.Now()
}

// Answer records the answer time and raises disposition to at least
// ANSWERED. Runs even on a locked record.
func (cdr *Record) Answer() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.AnswerTime.IsZero() {
		cdr.AnswerTime = time.Now()
	}
	cdr.raiseDispositionLocked(DispositionAnswered)
}

// Busy raises disposition to at least BUSY and records the end time.
func (cdr *Record) Busy() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.raiseDispositionLocked(DispositionBusy)
	cdr.endLocked()
}

// Failed sets disposition to FAILED unconditionally and records the
// end time.
func (cdr *Record) Failed() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.Disposition = DispositionFailed
	cdr.endLocked()
}

// raiseDispositionLocked only ever increases disposition, caller must
// hold cdr.mu.
func (cdr *Record) raiseDispositionLocked(d Disposition) {
	if d > cdr.Disposition {
		cdr.Disposition = d
	}
}

// SetDisposition raises the disposition from the channel's state at
// hangup: ANSWERED if the channel was up, NO ANSWER otherwise.
func (cdr *Record) SetDisposition(wasUp bool) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	if wasUp {
		cdr.raiseDispositionLocked(DispositionAnswered)
	} else {
		cdr.raiseDispositionLocked(DispositionNoAnswer)
	}
}

// End records the end time and computes duration/billsec. Runs even
// on a locked record, since hangup must always be able to close out
// billing.
func (cdr *Record) End() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cdr.endLocked()
}

func (cdr *Record) endLocked() {
	if cdr.EndTime.IsZero() {
		cdr.EndTime = time.Now()
	}
	if !cdr.StartTime.IsZero() {
		cdr.DurationSec = int(cdr.EndTime.Sub(cdr.StartTime).Seconds())
	}
	if !cdr.AnswerTime.IsZero() {
		cdr.BillSec = int(cdr.EndTime.Sub(cdr.AnswerTime).Seconds())
	} else {
		cdr.BillSec = 0
	}
}

// SetApp records the last-executed application and its data.
func (cdr *Record) SetApp(app, data string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.LastApp = app
	cdr.LastData = data
}

// SetCallerID updates caller ID fields, one of the few mutators that
// runs even while locked.
func (cdr *Record) SetCallerID(name, num string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cdr.CallerIDName = name
	cdr.CallerIDNum = num
}

// SetDestChan records the destination channel name.
func (cdr *Record) SetDestChan(name string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.DstChannel = name
}

// SetAccount records the billing account code.
func (cdr *Record) SetAccount(code string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.AccountCode = code
}

// SetAMAFlags sets the AMA flags from their string form.
func (cdr *Record) SetAMAFlags(flag string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.AMAFlags = ParseAMAFlag(flag)
}

// SetUserField overwrites the free-form user field.
func (cdr *Record) SetUserField(v string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.UserField = v
}

// AppendUserField appends to the free-form user field.
func (cdr *Record) AppendUserField(v string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.UserField += v
}

// Lock sets FlagLocked, freezing most mutators.
func (cdr *Record) Lock() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cdr.flags |= FlagLocked
}

// Unlock clears FlagLocked.
func (cdr *Record) Unlock() {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cdr.flags &^= FlagLocked
}

// IsLocked reports whether FlagLocked is currently set.
func (cdr *Record) IsLocked() bool {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	return cdr.locked()
}

// IsPosted reports whether FlagPosted is currently set.
func (cdr *Record) IsPosted() bool {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	return cdr.flags&FlagPosted != 0
}

func (cdr *Record) markPosted() {
	cdr.mu.Lock()
	cdr.flags |= FlagPosted
	cdr.mu.Unlock()
}

// SetVar sets a dialplan-exported variable on the record.
func (cdr *Record) SetVar(name, value string) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	if cdr.vars == nil {
		cdr.vars = make(map[string]string)
	}
	cdr.vars[name] = value
}

// GetVar retrieves a record-local variable, falling back to the
// built-in field accessors (duration, billsec, disposition, amaflags,
// accountcode, uniqueid, userfield) the source exposes the same way.
func (cdr *Record) GetVar(name string) (string, bool) {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	switch strings.ToLower(name) {
	case "duration":
		return fmt.Sprintf("%d", cdr.DurationSec), true
	case "billsec":
		return fmt.Sprintf("%d", cdr.BillSec), true
	case "disposition":
		return cdr.Disposition.String(), true
	case "amaflags":
		return cdr.AMAFlags.String(), true
	case "accountcode":
		return cdr.AccountCode, true
	case "uniqueid":
		return cdr.UniqueID, true
	case "userfield":
		return cdr.UserField, true
	}
	if v, ok := cdr.vars[name]; ok {
		return v, true
	}
	return "", false
}

// SerializeVariables renders every record-local variable as
// "name=value" pairs joined by sep, sorted for determinism.
func (cdr *Record) SerializeVariables(sep string) string {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if len(cdr.vars) == 0 {
		return ""
	}
	names := make([]string, 0, len(cdr.vars))
	for n := range cdr.vars {
		names = append(names, n)
	}
	sortStrings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+"="+cdr.vars[n])
	}
	return strings.Join(parts, sep)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Reset clears the billing-relevant fields of cdr for reuse on a new
// leg. With ResetForcePost it posts the record first; with
// ResetSkipIfPosted it never posts. keepVars controls whether dialplan variables
// survive the reset, the FlagKeepVars behavior.
func (cdr *Record) Reset(mode ResetMode, keepVars bool, q *Queue) {
	if mode == ResetForcePost && q != nil {
		q.Post(cdr)
	} else if mode == ResetSkipIfPosted && cdr.IsPosted() && q != nil {
		// Already posted and the caller asked to skip re-posting:
		// nothing to submit, just clear below.
	}

	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	if cdr.locked() {
		return
	}
	cdr.StartTime = time.Time{}
	cdr.AnswerTime = time.Time{}
	cdr.EndTime = time.Time{}
	cdr.DurationSec = 0
	cdr.BillSec = 0
	cdr.Disposition = DispositionNoAnswer
	cdr.flags &^= FlagPosted
	if !keepVars {
		cdr.vars = make(map[string]string)
	}
}

// Append chains newcdr after the last record in cdr's Next list,
// marking it as a child record.
func Append(cdr, newcdr *Record) *Record {
	if cdr == nil {
		return newcdr
	}
	newcdr.mu.Lock()
	newcdr.flags |= FlagChild
	newcdr.mu.Unlock()

	tail := cdr
	for tail.Next != nil {
		tail = tail.Next
	}
	tail.Next = newcdr
	return cdr
}

// Dup returns a detached copy of cdr suitable for independent posting,
// carrying FlagChild so back-ends can distinguish it from the
// original leg.
func (cdr *Record) Dup() *Record {
	cdr.mu.Lock()
	defer cdr.mu.Unlock()
	cp := &Record{
		CallerIDName: cdr.CallerIDName,
		CallerIDNum:  cdr.CallerIDNum,
		Dst:          cdr.Dst,
		DstContext:   cdr.DstContext,
		Channel:      cdr.Channel,
		DstChannel:   cdr.DstChannel,
		LastApp:      cdr.LastApp,
		LastData:     cdr.LastData,
		StartTime:    cdr.StartTime,
		AnswerTime:   cdr.AnswerTime,
		EndTime:      cdr.EndTime,
		DurationSec:  cdr.DurationSec,
		BillSec:      cdr.BillSec,
		Disposition:  cdr.Disposition,
		AMAFlags:     cdr.AMAFlags,
		AccountCode:  cdr.AccountCode,
		UniqueID:     cdr.UniqueID,
		UserField:    cdr.UserField,
		flags:        cdr.flags | FlagChild,
		vars:         make(map[string]string, len(cdr.vars)),
	}
	for k, v := range cdr.vars {
		cp.vars[k] = v
	}
	return cp
}
