package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/conference"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/pbx"
)

// registerBuiltinApps registers the small set of glue applications a
// classic-INI dialplan.conf would normally ship with the core itself:
// NoOp, Answer, Hangup, Goto, Playback and MeetMe. Anything heavier (Dial,
// Voicemail, Queue) is a separate module concern the spec leaves out
// of scope.
func registerBuiltinApps(apps *pbx.AppRegistry, confMgr *conference.Manager) {
	apps.Register(pbx.AppFunc{AppName: "NoOp", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		return pbx.AppReturn{}, nil
	}})

	apps.Register(pbx.AppFunc{AppName: "Answer", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		return pbx.AppReturn{}, ch.Answer(ctx)
	}})

	apps.Register(pbx.AppFunc{AppName: "Hangup", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		cause := 16 // normal clearing
		if data != "" {
			if n, err := strconv.Atoi(data); err == nil {
				cause = n
			}
		}
		return pbx.AppReturn{}, ch.Hangup(ctx, cause)
	}})

	apps.Register(pbx.AppFunc{AppName: "Goto", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		parts := strings.Split(data, ",")
		var target struct {
			Context  string
			Exten    string
			Priority int
		}
		switch len(parts) {
		case 1:
			target.Priority, _ = strconv.Atoi(parts[0])
		case 2:
			target.Exten = parts[0]
			target.Priority, _ = strconv.Atoi(parts[1])
		case 3:
			target.Context = parts[0]
			target.Exten = parts[1]
			target.Priority, _ = strconv.Atoi(parts[2])
		default:
			return pbx.AppReturn{}, fmt.Errorf("pbxcore: Goto requires 1-3 arguments, got %q", data)
		}
		if target.Context == "" {
			target.Context = ch.Context
		}
		if target.Exten == "" {
			target.Exten = ch.Exten
		}
		pbx.RequestAsyncGoto(ch, target.Context, target.Exten, target.Priority)
		return pbx.AppReturn{}, nil
	}})

	apps.Register(pbx.AppFunc{AppName: "Playback", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		// A real Playback reads an on-disk recording; the core itself
		// has no media library, so it just indicates PROGRESS and
		// returns, leaving audio file lookup to a future module.
		return pbx.AppReturn{}, ch.Indicate(ctx, channel.IndicateProgress)
	}})

	apps.Register(pbx.AppFunc{AppName: "MeetMe", Fn: func(ctx context.Context, ch *channel.Channel, data string) (pbx.AppReturn, error) {
		args := strings.Split(data, ",")
		if len(args) == 0 || args[0] == "" {
			return pbx.AppReturn{}, fmt.Errorf("pbxcore: MeetMe requires a conference number argument")
		}
		room := args[0]
		pin := ""
		typ := conference.MemberSpeaker
		for _, opt := range args[1:] {
			switch opt {
			case "a":
				typ = conference.MemberMaster
			case "l":
				typ = conference.MemberListener
			case "t":
				typ = conference.MemberTalker
			default:
				pin = opt
			}
		}

		if err := ch.Answer(ctx); err != nil {
			return pbx.AppReturn{}, err
		}
		member := conference.NewMember(ch, typ)
		codec := media.PCMU
		if len(ch.NativeFormats) > 0 {
			codec = ch.NativeFormats[0]
		}
		if _, err := confMgr.Join(room, codec, member, pin); err != nil {
			return pbx.AppReturn{}, err
		}
		defer member.Stop()

		select {
		case <-ctx.Done():
		case <-ch.Ctx().Done():
		}
		return pbx.AppReturn{}, nil
	}})
}

// collectDigits implements pbx.Interpreter.CollectDigits: it reads
// DTMF frames off ch until subsequent passes with no further digit,
// first bounds the wait for the very first digit.
func collectDigits(ctx context.Context, ch *channel.Channel, first, subsequent time.Duration) (string, error) {
	var out strings.Builder
	timeout := first
	for {
		deadline, cancel := context.WithTimeout(ctx, timeout)
		f, err := ch.Read(deadline)
		cancel()
		if err != nil {
			if out.Len() > 0 {
				return out.String(), nil
			}
			return "", err
		}
		if f.Type == frame.Hangup {
			return out.String(), fmt.Errorf("pbxcore: channel hung up during digit collection")
		}
		if f.Type == frame.DTMF {
			if r, ok := media.EventToRune(uint8(f.Subclass)); ok {
				out.WriteRune(r)
				timeout = subsequent
			}
		}
	}
}
