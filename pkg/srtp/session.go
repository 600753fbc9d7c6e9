package srtp

import (
	"log/slog"
	"net"
	"sync"

	pionsrtp "github.com/pion/srtp/v2"
)

const (
	// defaultMTU sizes the per-direction scratch buffers when the caller
	// does not specify one.
	defaultMTU = 1500
	// mtuGuardSlack is the headroom protect_* reserves for SRTP/SRTCP
	// expansion (auth tag + optional MKI), per spec.md §4.4's "MTU - 10".
	mtuGuardSlack = 10
	// initialProbation is the replay-probation window, reset on every
	// successful (re)start.
	initialProbation = 100
	// replayWindowWidth is the size of the primitive library's replay
	// detection window.
	replayWindowWidth = 256
)

// RTPCallback delivers a decrypted RTP payload to the application.
type RTPCallback func(buf []byte)

// RTCPCallback delivers a decrypted RTCP payload to the application.
type RTCPCallback func(buf []byte)

// Sender is the minimal member-transport contract the Session needs in order
// to forward protected outbound packets (spec.md §1's "underlying packet
// transport", consumed abstractly).
type Sender interface {
	SendRTP(buf []byte) error
	SendRTCP(buf []byte, addr net.Addr) error
}

// Info reports the Session's current negotiated state (spec.md §6 get_info),
// extended with tri-state usage reporting per SPEC_FULL.md §4's
// pjmedia_srtp_info mirror. TxPolicy/RxPolicy are nil while the session is
// inactive; Use/PeerUse are filled in by the owning Transport, not the
// Session itself, since usage mode is negotiated above the crypto layer.
type Info struct {
	Active   bool
	TxPolicy *CryptoPolicy
	RxPolicy *CryptoPolicy
	Use      UsageMode
	PeerUse  UsageMode
}

// Session owns the two per-direction crypto contexts, the negotiated
// policies, the replay-probation counter, and the application callbacks —
// the "SRTP Session Core" (C4) of spec.md §4.4.
//
// A single Session instance assumes one sender goroutine per direction: the
// scratch-buffer copy in Protect* happens outside the mutex intentionally to
// minimize lock time, so concurrent callers of ProtectRTP (or ProtectRTCP)
// on the same Session would race on the scratch buffer. This mirrors
// spec.md §5's documented caller contract.
type Session struct {
	mu sync.Mutex

	sender Sender
	logger *slog.Logger

	txCtx *pionsrtp.Context
	rxCtx *pionsrtp.Context

	txPolicy Policy
	rxPolicy Policy

	initialized bool
	bypass      bool
	probation   int

	rtpCB    RTPCallback
	rtcpCB   RTCPCallback
	userData any

	rtpScratch  []byte
	rtcpScratch []byte

	closeOnce sync.Once
}

// NewSession creates a Session bound to a member transport sender. mtu <= 0
// uses defaultMTU. It acquires a reference on the package's lifecycle (C9);
// the matching release happens in Close.
func NewSession(mtu int, sender Sender, logger *slog.Logger) *Session {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	if logger == nil {
		logger = slog.Default()
	}
	libAcquire(logger)
	return &Session{
		sender:      sender,
		logger:      logger,
		probation:   initialProbation,
		rtpScratch:  make([]byte, mtu),
		rtcpScratch: make([]byte, mtu),
	}
}

// Close releases this Session's hold on the package lifecycle. It is safe to
// call multiple times; only the first call has effect.
func (s *Session) Close() error {
	err := s.Stop()
	s.closeOnce.Do(libRelease)
	return err
}

// SetCallbacks installs the application's packet callbacks and opaque user
// data, read under the mutex by unprotect (spec.md §3 Ownership).
func (s *Session) SetCallbacks(rtpCB RTPCallback, rtcpCB RTCPCallback, userData any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtpCB = rtpCB
	s.rtcpCB = rtcpCB
	s.userData = userData
}

// UserData returns the opaque pointer installed via SetCallbacks.
func (s *Session) UserData() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userData
}

// Start validates and installs tx/rx policies (spec.md §4.4 start). Two NULL
// policies with no restricting flags switch the session into bypass mode
// without creating any crypto context.
func (s *Session) Start(tx, rx Policy) error {
	txSuite, err := resolveSuite(tx)
	if err != nil {
		return err
	}
	rxSuite, err := resolveSuite(rx)
	if err != nil {
		return err
	}

	if isNullPolicy(tx) && isNullPolicy(rx) {
		s.mu.Lock()
		s.bypass = true
		s.initialized = false
		s.txCtx, s.rxCtx = nil, nil
		s.mu.Unlock()
		s.logger.Debug("srtp session entering bypass mode")
		return nil
	}

	if err := Validate(tx, txSuite); err != nil {
		return err
	}
	if err := Validate(rx, rxSuite); err != nil {
		return err
	}

	txProfile, ok := suiteProfile(txSuite.Name)
	if !ok {
		e := *ErrNotSupportedCrypto
		e.Message = txSuite.Name + " not linked into the primitive library"
		return &e
	}
	rxProfile, ok := suiteProfile(rxSuite.Name)
	if !ok {
		e := *ErrNotSupportedCrypto
		e.Message = rxSuite.Name + " not linked into the primitive library"
		return &e
	}

	txKeyLen := txSuite.KeySaltLength - txSuite.SaltLength
	rxKeyLen := rxSuite.KeySaltLength - rxSuite.SaltLength

	txCtx, err := pionsrtp.CreateContext(tx.Key[:txKeyLen], tx.Key[txKeyLen:txSuite.KeySaltLength], txProfile)
	if err != nil {
		return translatePrimitiveError(err)
	}

	rxCtx, err := pionsrtp.CreateContext(
		rx.Key[:rxKeyLen], rx.Key[rxKeyLen:rxSuite.KeySaltLength], rxProfile,
		pionsrtp.SRTPReplayProtection(replayWindowWidth),
	)
	if err != nil {
		// tx context is deallocated before returning, per spec.md §4.4; pion's
		// Context carries no explicit Close, so dropping the reference here
		// lets it be collected without ever being installed on the Session.
		return translatePrimitiveError(err)
	}

	s.mu.Lock()
	s.txCtx = txCtx
	s.rxCtx = rxCtx
	s.txPolicy = clonePolicy(tx)
	s.rxPolicy = clonePolicy(rx)
	s.bypass = false
	s.initialized = true
	s.probation = initialProbation
	s.mu.Unlock()

	s.logger.Debug("srtp session started", "tx_suite", txSuite.Name, "rx_suite", rxSuite.Name)
	return nil
}

// Stop tears down both contexts. It is a no-op if the session was never
// initialized, and never surfaces a primitive-library error (spec.md §4.4).
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.rxCtx = nil
	s.txCtx = nil
	s.txPolicy = Policy{}
	s.rxPolicy = Policy{}
	s.initialized = false
	return nil
}

// IsBypass reports whether the session is forwarding packets unencrypted.
func (s *Session) IsBypass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bypass
}

// GetInfo reports the session's active flag and negotiated policies. Use and
// PeerUse are left at their zero value here; Transport.GetInfo fills them in.
func (s *Session) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{Active: s.initialized}
	if s.initialized {
		tx, rx := s.txPolicy, s.rxPolicy
		info.TxPolicy = &tx
		info.RxPolicy = &rx
	}
	return info
}

// ProtectRTP encrypts an outbound RTP packet and forwards it to the member
// transport sender (spec.md §4.4 protect_rtp).
func (s *Session) ProtectRTP(buf []byte) error {
	if s.IsBypass() {
		return s.sender.SendRTP(buf)
	}
	if len(buf) > len(s.rtpScratch)-mtuGuardSlack {
		return ErrTooBig
	}
	copy(s.rtpScratch, buf)
	scratch := s.rtpScratch[:len(buf)]

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrInvalidOp
	}
	ctx := s.txCtx
	out, err := ctx.EncryptRTP(nil, scratch, nil)
	s.mu.Unlock()
	if err != nil {
		return translatePrimitiveError(err)
	}
	return s.sender.SendRTP(out)
}

// ProtectRTCP encrypts an outbound RTCP compound packet and forwards it. addr
// overrides the member transport's default RTCP peer when non-nil (spec.md
// §4.4 protect_rtcp's optional_remote_addr).
func (s *Session) ProtectRTCP(buf []byte, addr net.Addr) error {
	if s.IsBypass() {
		return s.sender.SendRTCP(buf, addr)
	}
	if len(buf) > len(s.rtcpScratch)-mtuGuardSlack {
		return ErrTooBig
	}
	copy(s.rtcpScratch, buf)
	scratch := s.rtcpScratch[:len(buf)]

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrInvalidOp
	}
	ctx := s.txCtx
	out, err := ctx.EncryptRTCP(nil, scratch, nil)
	s.mu.Unlock()
	if err != nil {
		return translatePrimitiveError(err)
	}
	return s.sender.SendRTCP(out, addr)
}

// UnprotectRTP verifies and decrypts an inbound RTP packet, first offering it
// to each live keying method (spec.md §4.4 unprotect_rtp). A method other
// than Ignored consumes the packet; otherwise it proceeds to SRTP unprotect,
// with one silent replay-probation recovery retry.
func (s *Session) UnprotectRTP(buf []byte, methods []Method) {
	if s.IsBypass() {
		s.emitRTP(buf)
		return
	}

	for _, m := range methods {
		if m == nil {
			continue
		}
		if m.InspectInbound(buf) == Consumed {
			return
		}
	}

	if len(buf)%4 != 0 {
		s.logger.Debug("dropping misaligned rtp packet", "len", len(buf))
		return
	}

	s.mu.Lock()
	if s.probation > 0 {
		s.probation--
	}
	if !s.initialized {
		s.mu.Unlock()
		s.logger.Debug("unprotect_rtp invoked before start, dropping packet")
		return
	}
	ctx := s.rxCtx
	probation := s.probation
	lastTX, lastRX := s.txPolicy, s.rxPolicy
	s.mu.Unlock()

	out, err := ctx.DecryptRTP(nil, buf, nil)
	if err != nil {
		translated := translatePrimitiveError(err)
		if isReplayError(translated) && probation > 0 {
			s.logger.Debug("replay-looking rtp packet within probation window, restarting rx context")
			if rerr := s.Start(lastTX, lastRX); rerr == nil {
				s.mu.Lock()
				ctx = s.rxCtx
				s.mu.Unlock()
				out, err = ctx.DecryptRTP(nil, buf, nil)
			}
		}
		if err != nil {
			s.logger.Debug("unprotect_rtp failed, dropping packet", "error", translatePrimitiveError(err))
			return
		}
	}
	s.emitRTP(out)
}

// UnprotectRTCP verifies and decrypts an inbound RTCP packet. Unlike
// UnprotectRTP it does not fan out to keying methods and does not attempt
// probation recovery on replay errors (see SPEC_FULL.md OQ-1).
func (s *Session) UnprotectRTCP(buf []byte) {
	if s.IsBypass() {
		s.emitRTCP(buf)
		return
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		s.logger.Debug("unprotect_rtcp invoked before start, dropping packet")
		return
	}
	ctx := s.rxCtx
	s.mu.Unlock()

	out, err := ctx.DecryptRTCP(nil, buf, nil)
	if err != nil {
		s.logger.Debug("unprotect_rtcp failed, dropping packet", "error", translatePrimitiveError(err))
		return
	}
	s.emitRTCP(out)
}

// DecryptInPlace is the utility path for callers holding a captured packet
// outside the member-transport upcall. It fails fast with ErrInvalidOp
// instead of dropping silently (spec.md §4.4 decrypt_in_place).
func (s *Session) DecryptInPlace(isRTP bool, buf []byte) ([]byte, error) {
	if s.IsBypass() {
		return buf, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrInvalidOp
	}
	if isRTP {
		out, err := s.rxCtx.DecryptRTP(nil, buf, nil)
		if err != nil {
			return nil, translatePrimitiveError(err)
		}
		return out, nil
	}
	out, err := s.rxCtx.DecryptRTCP(nil, buf, nil)
	if err != nil {
		return nil, translatePrimitiveError(err)
	}
	return out, nil
}

func (s *Session) emitRTP(buf []byte) {
	s.mu.Lock()
	cb := s.rtpCB
	s.mu.Unlock()
	if cb != nil {
		cb(buf)
	}
}

func (s *Session) emitRTCP(buf []byte) {
	s.mu.Lock()
	cb := s.rtcpCB
	s.mu.Unlock()
	if cb != nil {
		cb(buf)
	}
}

func clonePolicy(p Policy) Policy {
	k := make([]byte, len(p.Key))
	copy(k, p.Key)
	return Policy{Name: p.Name, Key: k, Flags: p.Flags}
}

// suiteProfile maps a suite name to the pion/srtp protection profile that
// implements it. Suites the primitive library does not link return ok=false
// — this is the "presence check" spec.md §3 reserves on the Suite entry.
func suiteProfile(name string) (pionsrtp.ProtectionProfile, bool) {
	switch name {
	case "AES_CM_128_HMAC_SHA1_80":
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_80, true
	case "AES_CM_128_HMAC_SHA1_32":
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_32, true
	case "AEAD_AES_128_GCM":
		return pionsrtp.ProtectionProfileAeadAes128Gcm, true
	case "AEAD_AES_256_GCM":
		return pionsrtp.ProtectionProfileAeadAes256Gcm, true
	default:
		return 0, false
	}
}
