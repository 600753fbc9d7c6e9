package srtp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/dtls/v3"
)

// dtlsSRTPLabel is the RFC 5764 keying-material export label.
const dtlsSRTPLabel = "EXTRACTOR-dtls_srtp"

// Role is the DTLS-SRTP directional role carried in SDP as `a=setup`.
type Role string

const (
	RoleActive  Role = "active"
	RolePassive Role = "passive"
)

// DTLSSRTPMethod implements Method by driving an in-band DTLS handshake over
// the RTP/RTCP channel (RFC 5763/5764), demultiplexed per RFC 7983. Its
// sessions-map-plus-mutex-plus-logger shape is grounded on pkg/sip/zrtp.go's
// ZRTPManager, repurposed from ZRTP's ad hoc KDF to a real DTLS handshake.
type DTLSSRTPMethod struct {
	mu sync.Mutex

	logger *slog.Logger
	negID  uuid.UUID
	sender Sender

	cert        tls.Certificate
	fingerprint string // our own, RFC 4572 "sha-256 AA:BB:..." form

	role             Role
	remoteFingerprint string

	adapter *dtlsConnAdapter
	conn    *dtls.Conn
	cancel  context.CancelFunc
	done    StartFunc

	started bool
	stopped bool
}

// NewDTLSSRTPMethod creates a DTLS-SRTP keying method with a fresh
// self-signed certificate. role is the default offered role; it may be
// overridden by SetRole or flipped by the peer's `a=setup` answer.
func NewDTLSSRTPMethod(sender Sender, role Role, logger *slog.Logger) (*DTLSSRTPMethod, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if role == "" {
		role = RoleActive
	}
	cert, fp, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("dtls-srtp: generate certificate: %w", err)
	}
	return &DTLSSRTPMethod{
		logger:      logger,
		negID:       uuid.New(),
		sender:      sender,
		cert:        cert,
		fingerprint: fp,
		role:        role,
	}, nil
}

func (d *DTLSSRTPMethod) Name() string { return "DTLS-SRTP" }

// Fingerprint returns this endpoint's certificate fingerprint for the
// `a=fingerprint:sha-256 ...` SDP attribute.
func (d *DTLSSRTPMethod) Fingerprint() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fingerprint
}

// SetRole overrides the offered/default directional role.
func (d *DTLSSRTPMethod) SetRole(role Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.role = role
}

// Offer emits our fingerprint and a tentative `actpass` setup attribute, per
// RFC 5763 §5 (the offerer should be setup-agnostic).
func (d *DTLSSRTPMethod) Offer(_ context.Context, attrs *MediaAttrs) error {
	d.mu.Lock()
	fp := d.fingerprint
	d.mu.Unlock()
	attrs.Lines = append(attrs.Lines,
		"fingerprint:sha-256 "+fp,
		"setup:actpass",
	)
	return nil
}

// Answer reads the peer's fingerprint/setup attributes, resolves our
// complementary role, and — if we are answering an offer rather than reading
// an answer to our own offer — emits our own fingerprint/setup lines. DTLS
// negotiation never completes synchronously from Answer; it always defers to
// Start, matching spec.md §4.5's asynchronous-completion path.
func (d *DTLSSRTPMethod) Answer(_ context.Context, remote *MediaAttrs, local *MediaAttrs) (NegotiatedPolicies, bool, error) {
	if remote == nil {
		return NegotiatedPolicies{}, false, nil
	}
	remoteFP, remoteSetup, ok := parseDTLSAttrs(remote.Lines)
	if !ok {
		return NegotiatedPolicies{}, false, nil
	}

	d.mu.Lock()
	d.remoteFingerprint = remoteFP
	switch remoteSetup {
	case "active":
		d.role = RolePassive
	case "passive":
		d.role = RoleActive
	case "actpass":
		// Peer is setup-agnostic; we keep the role already configured
		// (active unless changed via SetRole).
	}
	alreadyOffered := local == nil
	fp := d.fingerprint
	role := d.role
	d.mu.Unlock()

	if !alreadyOffered && local != nil {
		// RFC 4145 setup values describe the advertising endpoint itself,
		// so we advertise our own role.
		local.Lines = append(local.Lines,
			"fingerprint:sha-256 "+fp,
			"setup:"+string(role),
		)
	}

	return NegotiatedPolicies{}, false, nil
}

// complementRole returns the opposite directional role: passive for active
// and active for anything else.
func complementRole(r Role) Role {
	if r == RoleActive {
		return RolePassive
	}
	return RoleActive
}

// Start launches the DTLS handshake in a goroutine and returns immediately;
// done is invoked exactly once when the handshake completes or fails.
func (d *DTLSSRTPMethod) Start(ctx context.Context, done StartFunc) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.done = done
	adapter := newDTLSConnAdapter(d.sender)
	d.adapter = adapter
	role := d.role
	cert := d.cert
	d.mu.Unlock()

	hctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.runHandshake(hctx, adapter, role, cert)
	return nil
}

func (d *DTLSSRTPMethod) runHandshake(ctx context.Context, adapter *dtlsConnAdapter, role Role, cert tls.Certificate) {
	cfg := &dtls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // fingerprint verified explicitly below, per RFC 5763
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AEAD_AES_128_GCM,
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
			dtls.SRTP_AES128_CM_HMAC_SHA1_32,
		},
	}

	var conn *dtls.Conn
	var err error
	if role == RoleActive {
		conn, err = dtls.ClientWithContext(ctx, adapter, cfg)
	} else {
		conn, err = dtls.ServerWithContext(ctx, adapter, cfg)
	}
	if err != nil {
		d.finish(NegotiatedPolicies{}, fmt.Errorf("dtls-srtp handshake: %w", err))
		return
	}

	if err := d.verifyFingerprint(conn); err != nil {
		_ = conn.Close()
		d.finish(NegotiatedPolicies{}, err)
		return
	}

	pols, err := deriveSRTPPolicies(conn, role)
	if err != nil {
		_ = conn.Close()
		d.finish(NegotiatedPolicies{}, err)
		return
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.logger.Info("dtls-srtp handshake complete", "neg_id", d.negID, "role", role, "suite", pols.TX.Name)
	d.finish(pols, nil)
}

func (d *DTLSSRTPMethod) verifyFingerprint(conn *dtls.Conn) error {
	d.mu.Lock()
	expected := d.remoteFingerprint
	d.mu.Unlock()
	if expected == "" {
		return nil // no fingerprint advertised (shouldn't happen once negotiated); accept
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("dtls-srtp: peer presented no certificate")
	}
	sum := sha256.Sum256(state.PeerCertificates[0])
	got := fingerprintHex(sum[:])
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("dtls-srtp: certificate fingerprint mismatch: got %s want %s", got, expected)
	}
	return nil
}

func deriveSRTPPolicies(conn *dtls.Conn, role Role) (NegotiatedPolicies, error) {
	profile := conn.ConnectionState().SRTPProtectionProfile
	suiteName, keyLen, saltLen, ok := dtlsProfileToSuite(profile)
	if !ok {
		return NegotiatedPolicies{}, fmt.Errorf("dtls-srtp: unsupported negotiated profile %v", profile)
	}

	material, err := conn.ExportKeyingMaterial([]byte(dtlsSRTPLabel), nil, 2*(keyLen+saltLen))
	if err != nil {
		return NegotiatedPolicies{}, fmt.Errorf("dtls-srtp: export keying material: %w", err)
	}

	// RFC 5764 §4.2 ordering: client_write_key, server_write_key,
	// client_write_salt, server_write_salt.
	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	clientPolicy := Policy{Name: suiteName, Key: concat(clientKey, clientSalt)}
	serverPolicy := Policy{Name: suiteName, Key: concat(serverKey, serverSalt)}

	if role == RoleActive {
		return NegotiatedPolicies{TX: clientPolicy, RX: serverPolicy}, nil
	}
	return NegotiatedPolicies{TX: serverPolicy, RX: clientPolicy}, nil
}

func (d *DTLSSRTPMethod) finish(pols NegotiatedPolicies, err error) {
	d.mu.Lock()
	done := d.done
	d.done = nil
	d.mu.Unlock()
	if done != nil {
		done(pols, err)
	}
}

// InspectInbound classifies a packet per RFC 7983: bytes 20..63 are DTLS
// records, which this method consumes and feeds to the handshake engine.
func (d *DTLSSRTPMethod) InspectInbound(buf []byte) InspectResult {
	if len(buf) == 0 {
		return Ignored
	}
	b := buf[0]
	if b < 20 || b > 63 {
		return Ignored
	}
	d.mu.Lock()
	adapter := d.adapter
	d.mu.Unlock()
	if adapter == nil {
		return Ignored
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	adapter.deliver(cp)
	return Consumed
}

// Stop aborts any in-progress handshake and releases handshake state. Safe
// to call multiple times.
func (d *DTLSSRTPMethod) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	cancel := d.cancel
	adapter := d.adapter
	conn := d.conn
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if adapter != nil {
		_ = adapter.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (d *DTLSSRTPMethod) Close() error { return d.Stop() }

func dtlsProfileToSuite(p dtls.SRTPProtectionProfile) (name string, keyLen, saltLen int, ok bool) {
	switch p {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80:
		return "AES_CM_128_HMAC_SHA1_80", 16, 14, true
	case dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		return "AES_CM_128_HMAC_SHA1_32", 16, 14, true
	case dtls.SRTP_AEAD_AES_128_GCM:
		return "AEAD_AES_128_GCM", 16, 12, true
	case dtls.SRTP_AEAD_AES_256_GCM:
		return "AEAD_AES_256_GCM", 32, 12, true
	default:
		return "", 0, 0, false
	}
}

func parseDTLSAttrs(lines []string) (fingerprint, setup string, ok bool) {
	for _, l := range lines {
		l = strings.TrimPrefix(l, "a=")
		switch {
		case strings.HasPrefix(l, "fingerprint:"):
			fields := strings.Fields(strings.TrimPrefix(l, "fingerprint:"))
			if len(fields) == 2 {
				fingerprint = fields[1]
				ok = true
			}
		case strings.HasPrefix(l, "setup:"):
			setup = strings.TrimPrefix(l, "setup:")
		}
	}
	return fingerprint, setup, ok
}

func fingerprintHex(sum []byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// generateSelfSignedCert creates an ephemeral ECDSA self-signed certificate
// for the DTLS handshake, matching pkg/sip/certmanager.go's use of
// crypto/tls and crypto/x509 for the signaling-plane TLS material.
func generateSelfSignedCert() (tls.Certificate, string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, "", err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, "", err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "meridian-dtls-srtp"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, "", err
	}
	sum := sha256.Sum256(der)
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, fingerprintHex(sum[:]), nil
}

// dtlsConnAdapter turns the member transport's Sender plus an inbound-packet
// feed (driven by InspectInbound) into a net.Conn suitable for pion/dtls,
// since DTLS records ride in-band on the RTP channel rather than a dedicated
// socket.
type dtlsConnAdapter struct {
	sender   Sender
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newDTLSConnAdapter(sender Sender) *dtlsConnAdapter {
	return &dtlsConnAdapter{
		sender:   sender,
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (a *dtlsConnAdapter) deliver(buf []byte) {
	select {
	case a.incoming <- buf:
	case <-a.closed:
	default:
		// Handshake record backlog full; discard this newly arrived record
		// rather than blocking the packet-inspection hot path.
	}
}

func (a *dtlsConnAdapter) Read(p []byte) (int, error) {
	select {
	case buf := <-a.incoming:
		return copy(p, buf), nil
	case <-a.closed:
		return 0, io.EOF
	}
}

func (a *dtlsConnAdapter) Write(p []byte) (int, error) {
	if err := a.sender.SendRTP(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a *dtlsConnAdapter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}

func (a *dtlsConnAdapter) LocalAddr() net.Addr                { return dtlsAddr{} }
func (a *dtlsConnAdapter) RemoteAddr() net.Addr               { return dtlsAddr{} }
func (a *dtlsConnAdapter) SetDeadline(_ time.Time) error      { return nil }
func (a *dtlsConnAdapter) SetReadDeadline(_ time.Time) error  { return nil }
func (a *dtlsConnAdapter) SetWriteDeadline(_ time.Time) error { return nil }

// dtlsAddr is a placeholder net.Addr: the in-band adapter has no socket
// address of its own, only the member transport does.
type dtlsAddr struct{}

func (dtlsAddr) Network() string { return "srtp-inband" }
func (dtlsAddr) String() string  { return "srtp-inband" }
