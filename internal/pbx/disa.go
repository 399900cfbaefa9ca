package pbx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/vars"
)

// DISA implements Direct Inward System Access: an answered channel is
// given a dialtone-equivalent indication, collects a numeric passcode
// terminated by '#' (or skips the check if the passcode is
// "no-password"), then collects a destination extension and re-enters
// the dialplan in the configured context as if the caller had dialed
// it directly. Args are "passcode[,context[,callerid[,mailbox]]]".
type DISA struct {
	Interp *Interpreter
	Global *vars.Store

	// DigitTimeout bounds how long DISA waits between digits before
	// treating the current collection as finished.
	DigitTimeout time.Duration

	// HasVoicemail, if set, lets DISA switch to a stutter dialtone
	// indication when the mailbox argument has pending messages.
	HasVoicemail func(mailbox string) bool
}

// NewDISA returns a DISA application wired to reenter it's dialplan
// and the process-global variable store.
func NewDISA(it *Interpreter, global *vars.Store) *DISA {
	return &DISA{Interp: it, Global: global, DigitTimeout: 5 * time.Second}
}

func (d *DISA) Name() string { return "DISA" }

func (d *DISA) Run(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
	args := strings.Split(data, ",")
	if len(args) == 0 || args[0] == "" {
		return AppReturn{}, fmt.Errorf("pbx: DISA requires a passcode argument")
	}
	passcode := args[0]
	destContext := "disa"
	if len(args) > 1 && args[1] != "" {
		destContext = args[1]
	}
	callerID := ""
	if len(args) > 2 {
		callerID = args[2]
	}
	mailbox := ""
	if len(args) > 3 {
		mailbox = args[3]
	}

	ind := channel.IndicateDialtone
	if mailbox != "" && d.HasVoicemail != nil && d.HasVoicemail(mailbox) {
		ind = channel.IndicateStutterDialtone
	}
	if err := ch.Indicate(ctx, ind); err != nil {
		return AppReturn{}, err
	}

	if passcode != "no-password" {
		entered, err := readDigitsUntil(ctx, ch, d.DigitTimeout, '#')
		if err != nil {
			return AppReturn{}, fmt.Errorf("pbx: DISA passcode entry: %w", err)
		}
		if entered != passcode {
			return AppReturn{}, fmt.Errorf("pbx: DISA passcode mismatch")
		}
	}

	if callerID != "" {
		ch.CallerIDNam = callerID
	}

	exten, err := d.collectExtension(ctx, ch, destContext, callerID)
	if err != nil {
		return AppReturn{}, fmt.Errorf("pbx: DISA extension entry: %w", err)
	}
	if exten == "" {
		return AppReturn{}, fmt.Errorf("pbx: DISA received no destination extension")
	}

	if err := d.Interp.Run(ctx, ch, destContext, exten, 1, d.Global); err != nil {
		return AppReturn{}, err
	}
	return AppReturn{Result: ResultKeepalive}, nil
}

// collectExtension reads digits one at a time, stopping as soon as
// the accumulated string is an exact match with no further possible
// match (mirroring the interpreter's own matchmore contract so DISA's
// loop is consistent with ordinary dialplan digit timing), on '#', or
// on DigitTimeout.
func (d *DISA) collectExtension(ctx context.Context, ch *channel.Channel, ctxName, cid string) (string, error) {
	var exten string
	for {
		digit, err := readOneDigit(ctx, ch, d.DigitTimeout)
		if err != nil {
			if exten != "" {
				return exten, nil
			}
			return "", err
		}
		if digit == '#' {
			return exten, nil
		}
		exten += string(digit)

		m, _, _ := d.Interp.Registry.Find(ctxName, exten, cid, lookupMatchMore, time.Now())
		if m == MatchExact {
			em, _, _ := d.Interp.Registry.Find(ctxName, exten, cid, lookupExists, time.Now())
			if em == MatchExact {
				return exten, nil
			}
		}
		if !m.AcceptsMatchMore() {
			return exten, nil
		}
	}
}

func readOneDigit(ctx context.Context, ch *channel.Channel, timeout time.Duration) (rune, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		f, err := ch.Read(deadline)
		if err != nil {
			return 0, err
		}
		if f.Type == frame.DTMF {
			if r, ok := media.EventToRune(uint8(f.Subclass)); ok {
				return r, nil
			}
		}
		if f.Type == frame.Hangup {
			return 0, fmt.Errorf("pbx: channel hung up during digit collection")
		}
	}
}

func readDigitsUntil(ctx context.Context, ch *channel.Channel, timeout time.Duration, terminator rune) (string, error) {
	var out strings.Builder
	for {
		r, err := readOneDigit(ctx, ch, timeout)
		if err != nil {
			return "", err
		}
		if r == terminator {
			return out.String(), nil
		}
		out.WriteRune(r)
	}
}
