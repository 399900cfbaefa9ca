package sip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/frame"
	"github.com/sebac/pbxcore/internal/media"
)

// pollInterval bounds how long a Read blocks between checks of ctx,
// the cancellable-UDP-read idiom of a short SetReadDeadline loop.
const pollInterval = 20 * time.Millisecond

// Tech is the concrete channel.Tech for SIP call legs: one instance per
// leg, holding the SIP dialog half (request/response/transaction) and
// the RTP media.Session half.
type Tech struct {
	driver   *Driver
	callID   string
	outbound bool

	mu         sync.Mutex
	inviteReq  *sip.Request
	serverTx   sip.ServerTransaction
	clientTx   sip.ClientTransaction
	answered   bool
	terminated bool
	acked      chan struct{}

	conn    *net.UDPConn
	port    int
	session *media.Session
	codec   media.Codec

	// remoteTarget is the peer's Contact URI, learned once the dialog
	// is established (from the INVITE's Contact on an inbound leg, from
	// the 2xx's Contact on an outbound leg). In-dialog requests we send
	// after that point go here, not to the original Request-URI.
	remoteTarget sip.Uri
	haveTarget   bool

	// localTag/remoteTag are the dialog's From/To tags, named by who
	// generated them rather than by header, since our role (UAC/UAS)
	// determines which header each one ends up in on an in-dialog
	// request we originate.
	localTag  string
	remoteTag string

	ch *channel.Channel
}

func newInboundTech(d *Driver, req *sip.Request, tx sip.ServerTransaction) *Tech {
	return &Tech{
		driver:    d,
		callID:    req.CallID().Value(),
		outbound:  false,
		inviteReq: req,
		serverTx:  tx,
		acked:     make(chan struct{}),
	}
}

func newOutboundTech(d *Driver, callID string) *Tech {
	return &Tech{
		driver:   d,
		callID:   callID,
		outbound: true,
		acked:    make(chan struct{}),
	}
}

// Type identifies this Tech to the channel-agnostic core.
func (t *Tech) Type() string { return "sip" }

// Capabilities lists the codecs this Tech can offer or answer.
func (t *Tech) Capabilities() []media.Codec {
	return []media.Codec{media.PCMU, media.PCMA}
}

func (t *Tech) openMedia() (int, error) {
	port, err := t.driver.ports.allocate()
	if err != nil {
		return 0, err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(t.driver.cfg.BindAddr), Port: port}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.driver.ports.release(port)
		return 0, fmt.Errorf("sip: open RTP socket: %w", err)
	}
	t.conn = conn
	t.port = port
	return port, nil
}

func (t *Tech) closeMedia() {
	if t.session != nil {
		t.session.Close()
	}
	if t.conn != nil {
		t.conn.Close()
		t.driver.ports.release(t.port)
	}
}

// Call sends an INVITE to dest and blocks until a final response
// arrives, the dial timeout elapses, or ctx is cancelled.
func (t *Tech) Call(ctx context.Context, ch *channel.Channel, dest string, timeout time.Duration) error {
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()

	port, err := t.openMedia()
	if err != nil {
		return err
	}

	offer, err := media.BuildOffer(t.driver.cfg.AdvertiseAddr, port, t.Capabilities())
	if err != nil {
		t.closeMedia()
		return fmt.Errorf("sip: build SDP offer: %w", err)
	}

	invite, err := t.buildInvite(ch, dest, offer)
	if err != nil {
		t.closeMedia()
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := t.driver.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		t.closeMedia()
		return fmt.Errorf("sip: send INVITE: %w", err)
	}
	t.mu.Lock()
	t.inviteReq = invite
	t.clientTx = tx
	t.mu.Unlock()

	t.driver.registerCall(t.callID, t)
	defer func() {
		if !t.isAnswered() {
			t.driver.forgetCall(t.callID)
		}
	}()

	authAttempted := false
	for {
		select {
		case <-dialCtx.Done():
			t.sendCancel(invite, tx)
			t.closeMedia()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sip: dial %s: %w", dest, context.DeadlineExceeded)

		case resp := <-tx.Responses():
			if resp == nil {
				t.closeMedia()
				return fmt.Errorf("sip: dial %s: transaction ended without response", dest)
			}

			if code := int(resp.StatusCode); (code == 401 || code == 407) && !authAttempted && t.driver.cfg.AuthUser != "" {
				authAttempted = true
				authInvite, aerr := t.authenticate(resp, invite)
				if aerr != nil {
					t.closeMedia()
					return aerr
				}
				authTx, serr := t.driver.client.TransactionRequest(dialCtx, authInvite)
				if serr != nil {
					t.closeMedia()
					return fmt.Errorf("sip: resend authenticated INVITE: %w", serr)
				}
				invite = authInvite
				tx = authTx
				t.mu.Lock()
				t.inviteReq = invite
				t.clientTx = tx
				t.mu.Unlock()
				continue
			}

			done, err := t.handleDialResponse(resp, invite, tx)
			if err != nil {
				t.closeMedia()
				return err
			}
			if done {
				return nil
			}

		case <-tx.Done():
			if t.isAnswered() {
				return nil
			}
			t.closeMedia()
			return fmt.Errorf("sip: dial %s: transaction terminated unexpectedly", dest)
		}
	}
}

// authenticate answers a 401/407 digest challenge by cloning the original
// INVITE with its Via removed, its CSeq incremented and the computed
// Authorization (or, for 407, Proxy-Authorization) header added.
func (t *Tech) authenticate(resp *sip.Response, invite *sip.Request) (*sip.Request, error) {
	authHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if resp.StatusCode == 407 {
		authHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}
	challenge := resp.GetHeader(authHeader)
	if challenge == nil {
		return nil, fmt.Errorf("sip: %d challenge missing %s header", resp.StatusCode, authHeader)
	}
	chal, err := digest.ParseChallenge(challenge.Value())
	if err != nil {
		return nil, fmt.Errorf("sip: parse auth challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   invite.Method.String(),
		URI:      invite.Recipient.String(),
		Username: t.driver.cfg.AuthUser,
		Password: t.driver.cfg.AuthPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("sip: compute digest response: %w", err)
	}

	authInvite := invite.Clone()
	authInvite.RemoveHeader("Via")
	cseq := authInvite.CSeq()
	cseq.SeqNo++
	authInvite.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authInvite, nil
}

func (t *Tech) handleDialResponse(resp *sip.Response, invite *sip.Request, tx sip.ClientTransaction) (done bool, err error) {
	code := int(resp.StatusCode)
	switch {
	case code < 200:
		return false, nil
	case code < 300:
		addr, port, codecs, perr := media.ParseOffer(resp.Body())
		if perr != nil {
			return false, fmt.Errorf("sip: parse SDP answer: %w", perr)
		}
		codec := t.Capabilities()[0]
		for _, c := range codecs {
			if c.PayloadType == media.PCMU.PayloadType || c.PayloadType == media.PCMA.PayloadType {
				codec = c
				break
			}
		}
		remote := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
		t.mu.Lock()
		t.session = media.NewSession(t.conn, remote, codec)
		t.codec = codec
		t.answered = true
		if contact := resp.Contact(); contact != nil {
			t.remoteTarget = contact.Address
			t.haveTarget = true
		}
		if to := resp.To(); to != nil {
			if tag, ok := to.Params.Get("tag"); ok {
				t.remoteTag = tag
			}
		}
		t.mu.Unlock()
		t.sendAck(resp, invite)
		return true, nil
	default:
		return false, fmt.Errorf("sip: dial rejected: %d %s", code, resp.Reason)
	}
}

func (t *Tech) buildInvite(ch *channel.Channel, dest string, sdpBody []byte) (*sip.Request, error) {
	var requestURI sip.Uri
	target := dest
	if !hasScheme(target) {
		target = "sip:" + target
	}
	if err := sip.ParseUri(target, &requestURI); err != nil {
		return nil, fmt.Errorf("sip: invalid destination %q: %w", dest, err)
	}

	invite := sip.NewRequest(sip.INVITE, requestURI)
	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	localTag := generateTag()
	t.mu.Lock()
	t.localTag = localTag
	t.mu.Unlock()

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: ch.Name,
		Address: sip.Uri{
			Scheme: "sip",
			User:   ch.Name,
			Host:   t.driver.cfg.AdvertiseAddr,
			Port:   t.driver.cfg.Port,
		},
		Params: fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{Address: requestURI, Params: sip.NewParams()})
	callIDHdr := sip.CallIDHeader(t.callID)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: sip.Uri{
		Scheme: "sip",
		User:   "pbxcore",
		Host:   t.driver.cfg.AdvertiseAddr,
		Port:   t.driver.cfg.Port,
	}})
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(sdpBody)
	return invite, nil
}

func (t *Tech) sendAck(resp *sip.Response, invite *sip.Request) {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	ack.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.ACK})
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	if err := t.driver.client.WriteRequest(ack); err != nil {
		t.driver.log.Warn("sip: failed to send ACK", "call_id", t.callID, "error", err)
	}
}

func (t *Tech) sendCancel(invite *sip.Request, tx sip.ClientTransaction) {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("From", invite, cancel)
	sip.CopyHeaders("To", invite, cancel)
	sip.CopyHeaders("Call-ID", invite, cancel)
	cancel.AppendHeader(&sip.CSeqHeader{SeqNo: invite.CSeq().SeqNo, MethodName: sip.CANCEL})
	if _, err := t.driver.client.TransactionRequest(context.Background(), cancel); err != nil {
		t.driver.log.Warn("sip: failed to send CANCEL", "call_id", t.callID, "error", err)
	}
}

// Answer accepts a pending inbound INVITE with a 200 OK/SDP answer.
func (t *Tech) Answer(ctx context.Context, ch *channel.Channel) error {
	if t.outbound {
		// The 2xx/ACK exchange already completed inside Call; Answer
		// only moves the channel's own state machine to UP.
		return nil
	}

	t.mu.Lock()
	req := t.inviteReq
	tx := t.serverTx
	t.mu.Unlock()
	if req == nil || tx == nil {
		return fmt.Errorf("sip: Answer called with no pending INVITE")
	}

	offerAddr, offerPort, offerCodecs, err := media.ParseOffer(req.Body())
	if err != nil {
		return fmt.Errorf("sip: parse SDP offer: %w", err)
	}
	codec := t.Capabilities()[0]
	for _, c := range offerCodecs {
		if c.PayloadType == media.PCMU.PayloadType || c.PayloadType == media.PCMA.PayloadType {
			codec = c
			break
		}
	}

	port, err := t.openMedia()
	if err != nil {
		return err
	}
	answer, err := media.BuildAnswer(t.driver.cfg.AdvertiseAddr, port, codec, true)
	if err != nil {
		t.closeMedia()
		return fmt.Errorf("sip: build SDP answer: %w", err)
	}

	localTag := generateTag()

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	if to := resp.To(); to != nil {
		to.Params.Add("tag", localTag)
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	resp.AppendHeader(&sip.ContactHeader{Address: sip.Uri{
		Scheme: "sip",
		User:   "pbxcore",
		Host:   t.driver.cfg.AdvertiseAddr,
		Port:   t.driver.cfg.Port,
	}})
	if err := tx.Respond(resp); err != nil {
		t.closeMedia()
		return fmt.Errorf("sip: respond 200 OK: %w", err)
	}

	remote := &net.UDPAddr{IP: net.ParseIP(offerAddr), Port: offerPort}
	t.mu.Lock()
	t.session = media.NewSession(t.conn, remote, codec)
	t.codec = codec
	t.answered = true
	t.localTag = localTag
	if contact := req.Contact(); contact != nil {
		t.remoteTarget = contact.Address
		t.haveTarget = true
	}
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			t.remoteTag = tag
		}
	}
	t.mu.Unlock()

	select {
	case <-t.acked:
	case <-time.After(4 * time.Second):
		t.driver.log.Debug("sip: answered without observing ACK", "call_id", t.callID)
	case <-ctx.Done():
	}
	return nil
}

// onAck is invoked by the Driver when an ACK arrives for this leg.
func (t *Tech) onAck() {
	select {
	case <-t.acked:
	default:
		close(t.acked)
	}
}

// Hangup tears down the SIP dialog: BYE if answered, CANCEL if still
// ringing outbound, or a cause-mapped final response if a pending
// inbound INVITE was never answered.
func (t *Tech) Hangup(ctx context.Context, ch *channel.Channel, cause int) error {
	defer t.closeMedia()
	defer t.driver.forgetCall(t.callID)

	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return nil
	}
	t.terminated = true
	answered := t.answered
	req := t.inviteReq
	serverTx := t.serverTx
	clientTx := t.clientTx
	target := req.Recipient
	if t.haveTarget {
		target = t.remoteTarget
	}
	t.mu.Unlock()

	if !answered {
		if t.outbound && clientTx != nil {
			t.sendCancel(req, clientTx)
			return nil
		}
		if !t.outbound && serverTx != nil {
			status, reason := causeToStatus(cause)
			resp := sip.NewResponseFromRequest(req, status, reason, nil)
			return serverTx.Respond(resp)
		}
		return nil
	}

	return t.sendBye(ctx, req, target)
}

// sendBye builds an in-dialog BYE. The dialog's From/To swap depending on
// which side of the original INVITE we are: a UAC (outbound leg) keeps its
// own From and addresses the peer's tag in To; a UAS (inbound leg) does the
// reverse, since the original INVITE's From/To named the peer and us.
func (t *Tech) sendBye(ctx context.Context, invite *sip.Request, target sip.Uri) error {
	t.mu.Lock()
	outbound := t.outbound
	localTag := t.localTag
	remoteTag := t.remoteTag
	t.mu.Unlock()

	origFrom := invite.From()
	origTo := invite.To()

	bye := sip.NewRequest(sip.BYE, target)
	localParams := sip.NewParams()
	localParams.Add("tag", localTag)
	remoteParams := sip.NewParams()
	remoteParams.Add("tag", remoteTag)

	if outbound {
		bye.AppendHeader(&sip.FromHeader{DisplayName: origFrom.DisplayName, Address: origFrom.Address, Params: localParams})
		bye.AppendHeader(&sip.ToHeader{DisplayName: origTo.DisplayName, Address: origTo.Address, Params: remoteParams})
	} else {
		bye.AppendHeader(&sip.FromHeader{DisplayName: origTo.DisplayName, Address: origTo.Address, Params: localParams})
		bye.AppendHeader(&sip.ToHeader{DisplayName: origFrom.DisplayName, Address: origFrom.Address, Params: remoteParams})
	}
	sip.CopyHeaders("Call-ID", invite, bye)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 2, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	tx, err := t.driver.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("sip: send BYE: %w", err)
	}
	select {
	case <-tx.Done():
	case <-ctx.Done():
	}
	return nil
}

// onBye is invoked by the Driver when an inbound BYE arrives for this
// leg, requesting the channel unwind at its next hangup checkpoint.
func (t *Tech) onBye() {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch != nil {
		ch.RequestSoftHangup(channel.SoftHangupDev)
	}
}

// Read blocks for the next RTP frame, polling with a short deadline so
// ctx cancellation is observed promptly (net.PacketConn has no native
// context support).
func (t *Tech) Read(ctx context.Context, ch *channel.Channel) (*frame.Frame, error) {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("sip: Read called before media session established")
	}

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.conn.SetReadDeadline(time.Now().Add(pollInterval))
		f, err := session.ReadFrame(buf)
		if err == nil {
			return f, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		return nil, err
	}
}

// Write sends f as one RTP packet to the negotiated remote endpoint.
func (t *Tech) Write(ctx context.Context, ch *channel.Channel, f *frame.Frame) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return fmt.Errorf("sip: Write called before media session established")
	}
	return session.WriteFrame(f)
}

// Indicate maps a channel indication to the equivalent SIP provisional
// response, for inbound legs only; outbound legs have no remote party
// to signal (the far end is the one generating these indications for
// us, observed as a response code in Call, not requested here).
func (t *Tech) Indicate(ctx context.Context, ch *channel.Channel, ind channel.Indication) error {
	if t.outbound {
		return nil
	}
	t.mu.Lock()
	req := t.inviteReq
	tx := t.serverTx
	answered := t.answered
	t.mu.Unlock()
	if req == nil || tx == nil || answered {
		return nil
	}

	switch ind {
	case channel.IndicateRinging:
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(180), "Ringing", nil))
	case channel.IndicateProgress:
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(183), "Session Progress", nil))
	case channel.IndicateBusy:
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(486), "Busy Here", nil))
	case channel.IndicateCongestion:
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(503), "Service Unavailable", nil))
	default:
		t.driver.log.Debug("sip: indication has no SIP equivalent", "indication", ind)
		return nil
	}
}

// SendDigit emits an RFC 4733 telephone-event frame out of band of the
// regular voice stream.
func (t *Tech) SendDigit(ctx context.Context, ch *channel.Channel, digit rune) error {
	event, ok := media.RuneToEvent(digit)
	if !ok {
		return fmt.Errorf("sip: unsupported DTMF digit %q", digit)
	}
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return fmt.Errorf("sip: SendDigit called before media session established")
	}
	return session.WriteFrame(frame.NewDTMF(event, int(media.DefaultDTMFDuration)))
}

func (t *Tech) isAnswered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answered
}

func hasScheme(uri string) bool {
	for i, r := range uri {
		if r == ':' {
			return i > 0
		}
		if !(r == '+' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return false
}

// causeToStatus maps a Q.850 hangup cause to the SIP final response a
// not-yet-answered inbound INVITE is rejected with.
func causeToStatus(cause int) (sip.StatusCode, string) {
	switch cause {
	case 17: // user busy
		return 486, "Busy Here"
	case 34, 38, 42: // no circuit/channel, network out of order, switching equipment congestion
		return 503, "Service Unavailable"
	case 19: // no answer from user
		return 408, "Request Timeout"
	case 1: // unallocated number
		return 404, "Not Found"
	default:
		return 480, "Temporarily Unavailable"
	}
}
