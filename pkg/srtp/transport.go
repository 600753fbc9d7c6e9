package srtp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
)

// Direction selects which packet stream simulate-lost fault injection
// applies to.
type Direction int

const (
	DirectionRTP Direction = iota
	DirectionRTCP
)

// UsageMode is the tri-state SRTP usage policy a Transport is configured
// with at media_create, and the tri-state this endpoint infers for the
// remote peer from its SDP attributes (spec.md §3/§6, pjmedia's
// PJMEDIA_SRTP_DISABLED/OPTIONAL/MANDATORY).
type UsageMode int

const (
	// UsageDisabled never offers crypto and never runs keying negotiation;
	// the member transport carries plain RTP/RTCP.
	UsageDisabled UsageMode = iota
	// UsageOptional negotiates crypto when the peer supports it. When every
	// keying method declines, NegotiateAnswer returns the last method's
	// error rather than ErrSDPRequiresCrypto.
	UsageOptional
	// UsageMandatory requires a successful crypto negotiation. Failure to
	// agree on a keying method returns ErrSDPRequiresCrypto (ESDPREQCRYPTO).
	UsageMandatory
)

func (u UsageMode) String() string {
	switch u {
	case UsageDisabled:
		return "disabled"
	case UsageMandatory:
		return "mandatory"
	default:
		return "optional"
	}
}

// peerUsageFromAttrs infers the remote endpoint's usage mode from its SDP
// attributes: an SAVP/SAVPF media protocol declares crypto mandatory per
// RFC 3711 §I; the presence of crypto or fingerprint lines without SAVP
// indicates an optional offer; no crypto-related attribute at all means the
// peer is not attempting SRTP.
func peerUsageFromAttrs(remote *MediaAttrs) UsageMode {
	if remote == nil {
		return UsageDisabled
	}
	if strings.Contains(strings.ToUpper(remote.MediaProto), "SAVP") {
		return UsageMandatory
	}
	if len(cryptoLines(remote.Lines)) > 0 || hasFingerprintLine(remote.Lines) {
		return UsageOptional
	}
	return UsageDisabled
}

func hasFingerprintLine(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimPrefix(l, "a="), "fingerprint:") {
			return true
		}
	}
	return false
}

// Transport is the outer wrapper around a Session and its keying methods: it
// owns SDP offer/answer plumbing, single-winner keying-method negotiation,
// the member transport send path, and the application-visible lifecycle
// (media_create / media_start / media_stop / destroy) of spec.md §4.8. It
// also implements Sender so Session forwards outbound packets through it
// rather than directly to the member transport, which is where fault
// injection (simulate_lost) and inbound demultiplexing are hooked in.
type Transport struct {
	mu sync.Mutex
	wg sync.WaitGroup

	member Sender
	logger *slog.Logger

	session *Session
	methods []Method

	keyingCount   int
	lastKeyingErr error

	use     UsageMode
	peerUse UsageMode

	started   bool
	destroyed bool

	lostPctRTP  int
	lostPctRTCP int
	rng         *rand.Rand
}

// NewTransport creates a Transport over a member transport sender with the
// given keying methods, tried in order during negotiation. mtu <= 0 uses the
// Session default.
func NewTransport(member Sender, mtu int, logger *slog.Logger, methods ...Method) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		member:  member,
		logger:  logger,
		methods: methods,
		use:     UsageOptional,
		rng:     rand.New(rand.NewSource(1)),
	}
	t.session = NewSession(mtu, t, logger)
	return t
}

// SetUsage configures whether SRTP is disabled, optional, or mandatory on
// this transport, mirroring pjmedia_srtp_setting.use (spec.md §3/§6).
// NewTransport defaults to UsageOptional. Call before EncodeOfferSDP or
// NegotiateAnswer for it to take effect.
func (t *Transport) SetUsage(mode UsageMode) {
	t.mu.Lock()
	t.use = mode
	t.mu.Unlock()
}

// Attach installs the application's decrypted-packet callbacks, per
// spec.md §4.4's attach operation.
func (t *Transport) Attach(rtpCB RTPCallback, rtcpCB RTCPCallback, userData any) {
	t.session.SetCallbacks(rtpCB, rtcpCB, userData)
}

// EncodeOfferSDP runs every configured keying method's Offer in order,
// accumulating their attribute lines into a single offer (spec.md §4.8
// media_create / encode_sdp).
func (t *Transport) EncodeOfferSDP(ctx context.Context, attrs *MediaAttrs) error {
	t.mu.Lock()
	use := t.use
	methods := append([]Method(nil), t.methods...)
	t.mu.Unlock()

	if use == UsageDisabled {
		t.logger.Debug("srtp disabled locally, omitting keying offer")
		return nil
	}

	for _, m := range methods {
		if err := m.Offer(ctx, attrs); err != nil {
			return fmt.Errorf("srtp transport: offer via %s: %w", m.Name(), err)
		}
	}
	return nil
}

// NegotiateAnswer is the answerer-side (or offer/answer-completion) path:
// it offers the remote attributes to each configured keying method until one
// claims the exchange, then collapses to that single winner — stopping and
// closing the rest — per spec.md §4.8's single-winner keying negotiation. A
// method that cannot resolve synchronously (e.g. DTLS-SRTP, which must
// complete a handshake) is started asynchronously instead; its completion
// arrives later via onAsyncComplete and triggers start_srtp internally.
func (t *Transport) NegotiateAnswer(ctx context.Context, remote *MediaAttrs) (*MediaAttrs, error) {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil, ErrInvalidOp
	}
	use := t.use
	t.peerUse = peerUsageFromAttrs(remote)
	methods := append([]Method(nil), t.methods...)
	t.mu.Unlock()

	local := &MediaAttrs{MediaProto: remote.MediaProto}

	if use == UsageDisabled {
		if err := t.session.Start(Policy{}, Policy{}); err != nil {
			return local, err
		}
		t.mu.Lock()
		t.started = true
		t.mu.Unlock()
		t.logger.Debug("srtp disabled locally, bypassing keying negotiation")
		return local, nil
	}

	var pending []Method

	for _, m := range methods {
		pols, ok, err := m.Answer(ctx, remote, local)
		t.mu.Lock()
		t.keyingCount++
		if err != nil {
			t.lastKeyingErr = err
		}
		t.mu.Unlock()
		if err != nil {
			t.logger.Debug("keying method declined", "method", m.Name(), "error", err)
			continue
		}
		if ok {
			t.selectWinner(methods, m, pols)
			return local, nil
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return local, t.negotiationFailure(use)
	}

	// spec.md caps keying methods at two; with no synchronous winner, the
	// first pending asynchronous method (offer order) proceeds and the rest
	// are dropped.
	winner := pending[0]
	for _, loser := range pending[1:] {
		_ = loser.Close()
	}
	t.mu.Lock()
	t.methods = []Method{winner}
	t.mu.Unlock()

	if err := winner.Start(ctx, func(pols NegotiatedPolicies, err error) {
		t.onAsyncComplete(winner, pols, err)
	}); err != nil {
		t.mu.Lock()
		t.lastKeyingErr = err
		t.mu.Unlock()
		return local, err
	}
	return local, nil
}

// negotiationFailure picks the error NegotiateAnswer returns once every
// keying method has declined or none are configured: a mandatory usage mode
// always fails closed with ErrSDPRequiresCrypto (ESDPREQCRYPTO) regardless
// of the specific per-method cause, per spec.md §7's closed error taxonomy;
// optional usage surfaces whatever the last keying method reported.
func (t *Transport) negotiationFailure(use UsageMode) error {
	t.mu.Lock()
	err := t.lastKeyingErr
	t.mu.Unlock()
	if use == UsageMandatory {
		return ErrSDPRequiresCrypto
	}
	if err == nil {
		err = ErrNotSupportedCrypto
	}
	return err
}

// selectWinner stops and closes every method but the winner, installs the
// winner's negotiated policies on the Session (start_srtp), and narrows the
// method set to just the winner for future InspectInbound fan-out.
func (t *Transport) selectWinner(all []Method, winner Method, pols NegotiatedPolicies) {
	for _, m := range all {
		if m != winner {
			_ = m.Stop()
			_ = m.Close()
		}
	}
	t.mu.Lock()
	t.methods = []Method{winner}
	t.mu.Unlock()

	if err := t.session.Start(pols.TX, pols.RX); err != nil {
		t.logger.Error("start_srtp failed after keying negotiation", "method", winner.Name(), "error", err)
		t.mu.Lock()
		t.lastKeyingErr = err
		t.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.logger.Info("srtp transport started", "keying_method", winner.Name())
}

// onAsyncComplete is the StartFunc handed to an asynchronous keying method
// (spec.md §4.5/§4.8's deferred start_srtp trampoline).
func (t *Transport) onAsyncComplete(method Method, pols NegotiatedPolicies, err error) {
	if err != nil {
		t.mu.Lock()
		t.lastKeyingErr = err
		t.mu.Unlock()
		t.logger.Error("keying method failed asynchronously", "method", method.Name(), "error", err)
		return
	}
	if serr := t.session.Start(pols.TX, pols.RX); serr != nil {
		t.mu.Lock()
		t.lastKeyingErr = serr
		t.mu.Unlock()
		t.logger.Error("start_srtp failed after async keying completion", "method", method.Name(), "error", serr)
		return
	}
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.logger.Info("srtp transport started", "keying_method", method.Name())
}

// MediaStart is the explicit counterpart to NegotiateAnswer for callers that
// already hold negotiated policies out of band (spec.md §4.8 media_start).
func (t *Transport) MediaStart(tx, rx Policy) error {
	return t.session.Start(tx, rx)
}

// MediaStop aborts any in-progress keying negotiation and tears down the
// Session's crypto contexts, leaving the Transport reusable for a future
// MediaStart/NegotiateAnswer (spec.md §4.8 media_stop).
func (t *Transport) MediaStop() error {
	t.mu.Lock()
	methods := append([]Method(nil), t.methods...)
	t.started = false
	t.mu.Unlock()

	for _, m := range methods {
		_ = m.Stop()
	}
	return t.session.Stop()
}

// ProtectRTP delivers an outbound RTP packet through the Session for
// encryption, tracked so Destroy can drain in-flight calls first.
func (t *Transport) ProtectRTP(buf []byte) error {
	t.wg.Add(1)
	defer t.wg.Done()
	if t.isDestroyed() {
		return ErrInvalidOp
	}
	return t.session.ProtectRTP(buf)
}

// ProtectRTCP delivers an outbound RTCP packet through the Session for
// encryption, tracked so Destroy can drain in-flight calls first.
func (t *Transport) ProtectRTCP(buf []byte, addr net.Addr) error {
	t.wg.Add(1)
	defer t.wg.Done()
	if t.isDestroyed() {
		return ErrInvalidOp
	}
	return t.session.ProtectRTCP(buf, addr)
}

// HandleInboundRTP is the member transport's upcall for a received RTP
// packet: it fans out to the live keying methods, then unprotects.
func (t *Transport) HandleInboundRTP(buf []byte) {
	t.wg.Add(1)
	defer t.wg.Done()
	if t.isDestroyed() {
		return
	}
	t.mu.Lock()
	methods := t.methods
	t.mu.Unlock()
	t.session.UnprotectRTP(buf, methods)
}

// HandleInboundRTCP is the member transport's upcall for a received RTCP
// packet.
func (t *Transport) HandleInboundRTCP(buf []byte) {
	t.wg.Add(1)
	defer t.wg.Done()
	if t.isDestroyed() {
		return
	}
	t.session.UnprotectRTCP(buf)
}

// GetInfo reports the underlying Session's negotiated state plus which
// keying method (if any) is currently active.
func (t *Transport) GetInfo() (Info, string) {
	t.mu.Lock()
	var name string
	if len(t.methods) == 1 {
		name = t.methods[0].Name()
	}
	use, peerUse := t.use, t.peerUse
	t.mu.Unlock()

	info := t.session.GetInfo()
	info.Use = use
	info.PeerUse = peerUse
	return info, name
}

// SimulateLost configures a fixed percentage of outbound packets on the
// given direction to be silently dropped, for fault-injection testing
// (grounded on original_source/transport_srtp.c's simulate_lost operation).
// pct is clamped to [0,100]; pct<=0 disables drops for that direction.
func (t *Transport) SimulateLost(dir Direction, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch dir {
	case DirectionRTP:
		t.lostPctRTP = pct
	case DirectionRTCP:
		t.lostPctRTCP = pct
	}
}

// SendRTP implements Sender for the Session, applying simulate_lost before
// forwarding to the real member transport.
func (t *Transport) SendRTP(buf []byte) error {
	if t.shouldDrop(DirectionRTP) {
		return nil
	}
	return t.member.SendRTP(buf)
}

// SendRTCP implements Sender for the Session, applying simulate_lost before
// forwarding to the real member transport.
func (t *Transport) SendRTCP(buf []byte, addr net.Addr) error {
	if t.shouldDrop(DirectionRTCP) {
		return nil
	}
	return t.member.SendRTCP(buf, addr)
}

func (t *Transport) shouldDrop(dir Direction) bool {
	t.mu.Lock()
	var pct int
	switch dir {
	case DirectionRTP:
		pct = t.lostPctRTP
	case DirectionRTCP:
		pct = t.lostPctRTCP
	}
	if pct <= 0 {
		t.mu.Unlock()
		return false
	}
	roll := t.rng.Intn(100)
	t.mu.Unlock()
	return roll < pct
}

func (t *Transport) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// Destroy drains in-flight Protect/Unprotect calls, stops and closes every
// keying method, and tears down the Session. Safe to call once; subsequent
// calls are no-ops (spec.md §4.8 destroy).
func (t *Transport) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	methods := append([]Method(nil), t.methods...)
	t.mu.Unlock()

	t.wg.Wait()

	for _, m := range methods {
		_ = m.Stop()
		_ = m.Close()
	}
	return t.session.Close()
}
