// Package sip implements the concrete channel.Tech for SIP call legs:
// one sipgo-backed Driver handles the wire protocol and hands each
// inbound INVITE to the core as a channel.Channel, while outbound
// calls get their own Tech instance from Driver.NewOutboundChannel.
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebac/pbxcore/internal/channel"
)

// Driver owns the SIP user agent, server and client, and the table of
// in-flight call legs needed to route BYE/ACK/CANCEL to the right Tech.
type Driver struct {
	cfg Config
	log *slog.Logger

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	ports *portPool

	mu    sync.Mutex
	calls map[string]*Tech

	// OnInboundCall is invoked for each new inbound INVITE with a
	// ready-to-use channel.Channel; the callback is expected to hand
	// it to the dialplan engine (pbx.Run in its own goroutine).
	OnInboundCall func(ch *channel.Channel)
}

// NewDriver creates the sipgo user agent, server and client, and
// registers the request handlers. It does not yet listen for traffic;
// call Start for that.
func NewDriver(cfg Config, log *slog.Logger) (*Driver, error) {
	if log == nil {
		log = slog.Default()
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("sip: create user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: create client: %w", err)
	}

	d := &Driver{
		cfg:    cfg,
		log:    log,
		ua:     ua,
		server: server,
		client: client,
		ports:  newPortPool(cfg.RTPMinPort, cfg.RTPMaxPort),
		calls:  make(map[string]*Tech),
	}

	server.OnRequest(sip.INVITE, d.handleInvite)
	server.OnRequest(sip.ACK, d.handleAck)
	server.OnRequest(sip.BYE, d.handleBye)
	server.OnRequest(sip.CANCEL, d.handleCancel)

	return d, nil
}

// Start listens for SIP traffic on the configured bind address. It
// blocks until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.cfg.BindAddr, d.cfg.Port)
	d.log.Info("sip: listening", "addr", addr)
	return d.server.ListenAndServe(ctx, "udp", addr)
}

// Close tears down the user agent, releasing its sockets.
func (d *Driver) Close() error {
	return d.ua.Close()
}

// NewOutboundChannel creates a Channel whose Tech dials out through
// this driver when Call is invoked. name is the channel's own
// identity, independent of the dialled destination.
func (d *Driver) NewOutboundChannel(name string) *channel.Channel {
	t := newOutboundTech(d, uuid.New().String())
	return channel.New(name, t, t.Capabilities())
}

func (d *Driver) registerCall(callID string, t *Tech) {
	d.mu.Lock()
	d.calls[callID] = t
	d.mu.Unlock()
}

func (d *Driver) forgetCall(callID string) {
	d.mu.Lock()
	delete(d.calls, callID)
	d.mu.Unlock()
}

func (d *Driver) lookupCall(callID string) (*Tech, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.calls[callID]
	return t, ok
}

func (d *Driver) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if _, dup := d.lookupCall(callID); dup {
		// Retransmission of an INVITE we're already processing;
		// sipgo's own transaction layer absorbs these, so this is
		// only reached for a genuinely new request sharing a Call-ID,
		// which we reject rather than create a second leg for it.
		resp := sip.NewResponseFromRequest(req, 482, "Loop Detected", nil)
		tx.Respond(resp)
		return
	}

	t := newInboundTech(d, req, tx)
	d.registerCall(callID, t)

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		d.log.Warn("sip: failed to send 100 Trying", "call_id", callID, "error", err)
	}

	from := req.From()
	name := callID
	if from != nil {
		name = from.Address.User
	}
	ch := channel.New(name, t, t.Capabilities())
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()

	if d.OnInboundCall != nil {
		d.OnInboundCall(ch)
	} else {
		d.log.Warn("sip: inbound call dropped, no OnInboundCall handler registered", "call_id", callID)
		resp := sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil)
		tx.Respond(resp)
		d.forgetCall(callID)
	}
}

func (d *Driver) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if t, ok := d.lookupCall(callID); ok {
		t.onAck()
	}
}

func (d *Driver) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		d.log.Warn("sip: failed to respond to BYE", "call_id", callID, "error", err)
	}
	if t, ok := d.lookupCall(callID); ok {
		t.mu.Lock()
		t.terminated = true
		t.mu.Unlock()
		t.onBye()
		t.closeMedia()
		d.forgetCall(callID)
	}
}

func (d *Driver) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		d.log.Warn("sip: failed to respond to CANCEL", "call_id", callID, "error", err)
	}
	if t, ok := d.lookupCall(callID); ok {
		t.mu.Lock()
		req := t.inviteReq
		serverTx := t.serverTx
		t.terminated = true
		t.mu.Unlock()
		if serverTx != nil && req != nil {
			terminated := sip.NewResponseFromRequest(req, 487, "Request Terminated", nil)
			serverTx.Respond(terminated)
		}
		t.onBye()
		t.closeMedia()
		d.forgetCall(callID)
	}
}
