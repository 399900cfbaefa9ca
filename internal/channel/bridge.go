package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/sebac/pbxcore/internal/frame"
)

// BridgeFlags controls generic bridger behaviour.
type BridgeFlags uint32

const (
	// BridgeDTMFThrough passes DTMF frames through the bridge rather
	// than intercepting them (e.g. for a DISA-style listen-back).
	BridgeDTMFThrough BridgeFlags = 1 << iota
)

// BridgeResult reports why a bridge ended.
type BridgeResult struct {
	EndedBy *Channel
	Cause   int
}

// Bridge connects a and b. If both channels' Techs report the same
// type, native bridging is attempted first (letting the tech splice
// RTP directly); otherwise, and whenever native bridging declines, the
// generic bridger forwards frames between each channel's read side and
// the other's write side until either leg hangs up.
func Bridge(ctx context.Context, a, b *Channel, flags BridgeFlags) (*BridgeResult, error) {
	a.SetBridgePeer(b)
	b.SetBridgePeer(a)
	defer a.SetBridgePeer(nil)
	defer b.SetBridgePeer(nil)

	if a.Tech.Type() == b.Tech.Type() {
		if nb, ok := a.Tech.(nativeBridger); ok {
			res, err := nb.NativeBridge(ctx, a, b)
			if err == nil {
				return res, nil
			}
			if !errors.Is(err, errNativeBridgeDeclined) {
				return nil, err
			}
		}
	}
	return genericBridge(ctx, a, b, flags)
}

// errNativeBridgeDeclined lets a Tech opt out of a particular bridge
// attempt (e.g. mismatched codecs) and fall back to the generic path.
var errNativeBridgeDeclined = errors.New("channel: native bridge declined")

// nativeBridger is implemented by Techs that can splice two channels'
// media directly without the core copying frames through Go channels.
type nativeBridger interface {
	NativeBridge(ctx context.Context, a, b *Channel) (*BridgeResult, error)
}

// genericBridge forwards frames between a and b's read/write sides
// until one side hangs up or the context is cancelled.
func genericBridge(ctx context.Context, a, b *Channel, flags BridgeFlags) (*BridgeResult, error) {
	errCh := make(chan error, 2)
	done := make(chan *Channel, 2)

	forward := func(from, to *Channel) {
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-from.Ctx().Done():
				done <- from
				return
			default:
			}
			f, err := from.Read(ctx)
			if err != nil {
				errCh <- err
				return
			}
			if f.Type == frame.Hangup {
				done <- from
				return
			}
			if f.Type == frame.DTMF && flags&BridgeDTMFThrough == 0 {
				continue
			}
			if err := to.Write(ctx, f); err != nil {
				errCh <- err
				return
			}
		}
	}

	go forward(a, b)
	go forward(b, a)

	select {
	case ch := <-done:
		return &BridgeResult{EndedBy: ch, Cause: ch.HangupCause}, nil
	case err := <-errCh:
		return nil, fmt.Errorf("channel: bridge forwarding failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
