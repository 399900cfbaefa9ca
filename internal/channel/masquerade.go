package channel

import (
	"context"
	"fmt"
)

// RequestMasquerade queues an identity swap: target is scheduled to
// take over source's Tech, formats, caller ID, dialplan position,
// account code, language and variables (target keeps its own Name and
// state). target's owning goroutine performs the actual swap by
// calling Adopt at its next safe point (mirroring the soft-hangup
// checkpoint pattern); Adopt then hangs source up.
//
// This lets a goroutine that does not own target (e.g. a transfer
// handler running on source's thread) hand target a new identity
// without touching target's fields directly from the wrong goroutine.
func RequestMasquerade(target, source *Channel) error {
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.pendingAdopt != nil {
		return fmt.Errorf("channel: masquerade already pending on %s", target.Name)
	}
	target.pendingAdopt = source
	target.soft |= SoftHangupAsyncGoto
	select {
	case target.adoptReady <- struct{}{}:
	default:
	}
	return nil
}

// PendingAdopt reports whether a masquerade is queued on c, returning
// the source channel to adopt from if so.
func (c *Channel) PendingAdopt() (*Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingAdopt, c.pendingAdopt != nil
}

// Adopt performs a queued masquerade: c (running on its own owning
// goroutine) takes over source's Tech, formats, identity fields and
// variables (copied into c's own store), and source is hung up. Call this only from the
// goroutine that owns c, at a safe point (the dialplan interpreter's
// per-instruction checkpoint, or the generic bridger's loop top).
func (c *Channel) Adopt(ctx context.Context) error {
	c.mu.Lock()
	source := c.pendingAdopt
	c.pendingAdopt = nil
	c.soft &^= SoftHangupAsyncGoto
	c.mu.Unlock()

	if source == nil {
		return fmt.Errorf("channel: Adopt called on %s with no pending masquerade", c.Name)
	}

	source.mu.Lock()
	tech := source.Tech
	native := source.NativeFormats
	read := source.ReadFormat
	write := source.WriteFormat
	callerNum := source.CallerIDNum
	callerNam := source.CallerIDNam
	exten := source.Exten
	context_ := source.Context
	priority := source.Priority
	account := source.AccountCode
	lang := source.Language
	sourceVars := source.Vars
	source.state = StateDown
	source.mu.Unlock()

	c.mu.Lock()
	c.Tech = tech
	c.NativeFormats = native
	c.ReadFormat = read
	c.WriteFormat = write
	c.CallerIDNum = callerNum
	c.CallerIDNam = callerNam
	c.Exten = exten
	c.Context = context_
	c.Priority = priority
	c.AccountCode = account
	c.Language = lang
	c.mu.Unlock()

	sourceVars.IterateOrdered(func(name, value string) bool {
		c.Vars.Set(name, value)
		return true
	})

	return source.Hangup(ctx, 0)
}
