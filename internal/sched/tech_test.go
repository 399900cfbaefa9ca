package sched

import (
	"context"
	"time"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

// noopTech is the minimal channel.Tech needed to construct a channel
// for whentohangup tests; none of its methods are exercised.
type noopTech struct{}

func newNoopTech() *noopTech { return &noopTech{} }

func (t *noopTech) Type() string                { return "noop" }
func (t *noopTech) Capabilities() []media.Codec { return []media.Codec{media.PCMU} }
func (t *noopTech) Call(context.Context, *channel.Channel, string, time.Duration) error {
	return nil
}
func (t *noopTech) Answer(context.Context, *channel.Channel) error { return nil }
func (t *noopTech) Hangup(context.Context, *channel.Channel, int) error {
	return nil
}
func (t *noopTech) Read(context.Context, *channel.Channel) (*frame.Frame, error) {
	return nil, context.Canceled
}
func (t *noopTech) Write(context.Context, *channel.Channel, *frame.Frame) error {
	return nil
}
func (t *noopTech) Indicate(context.Context, *channel.Channel, channel.Indication) error {
	return nil
}
func (t *noopTech) SendDigit(context.Context, *channel.Channel, rune) error {
	return nil
}
