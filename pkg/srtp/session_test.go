package srtp

import (
	"net"
	"testing"
)

type captureSender struct {
	rtp  [][]byte
	rtcp [][]byte
}

func (c *captureSender) SendRTP(buf []byte) error {
	cp := append([]byte{}, buf...)
	c.rtp = append(c.rtp, cp)
	return nil
}

func (c *captureSender) SendRTCP(buf []byte, _ net.Addr) error {
	cp := append([]byte{}, buf...)
	c.rtcp = append(c.rtcp, cp)
	return nil
}

func samplePacket() []byte {
	// Minimal valid RTP packet: version 2, no padding/extension/CSRC,
	// seq=1, timestamp=0, ssrc=0x12345678, 6-byte payload.
	return []byte{0x80, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0x12, 0x34, 0x56, 0x78, 'h', 'e', 'l', 'l', 'o', '!'}
}

func TestSessionBypassRoundTrip(t *testing.T) {
	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	if err := s.Start(Policy{}, Policy{}); err != nil {
		t.Fatalf("Start(NULL, NULL) = %v, want nil", err)
	}
	if !s.IsBypass() {
		t.Fatalf("expected bypass mode after NULL/NULL start")
	}

	var got []byte
	s.SetCallbacks(func(buf []byte) { got = buf }, nil, nil)

	pkt := samplePacket()
	if err := s.ProtectRTP(pkt); err != nil {
		t.Fatalf("ProtectRTP in bypass = %v, want nil", err)
	}
	if len(sender.rtp) != 1 {
		t.Fatalf("expected 1 forwarded packet, got %d", len(sender.rtp))
	}

	s.UnprotectRTP(pkt, nil)
	if string(got) != string(pkt) {
		t.Fatalf("bypass UnprotectRTP delivered %v, want %v", got, pkt)
	}
}

func TestSessionStartRejectsShortKey(t *testing.T) {
	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	short := Policy{Name: "AES_CM_128_HMAC_SHA1_80", Key: make([]byte, 5)}
	err := s.Start(short, short)
	if err == nil {
		t.Fatal("expected error for undersized key")
	}
	var srtpErr *Error
	if !asErr(err, &srtpErr) || srtpErr.Kind != KindKeyLength {
		t.Fatalf("expected KindKeyLength, got %v", err)
	}
}

func TestSessionStartUnsupportedLinkedSuite(t *testing.T) {
	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	suite := Entry(IndexOf("AES_192_CM_HMAC_SHA1_80"))
	p := Policy{Name: suite.Name, Key: make([]byte, suite.KeySaltLength)}
	err := s.Start(p, p)
	if err == nil {
		t.Fatal("expected error: AES-192 is not linked into pion/srtp/v2")
	}
}

func TestSessionProtectRequiresStart(t *testing.T) {
	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	key := make([]byte, suite.KeySaltLength)
	for i := range key {
		key[i] = byte(i)
	}
	// Start then Stop, leaving the session initialized=false again.
	p := Policy{Name: suite.Name, Key: key}
	if err := s.Start(p, p); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
	if err := s.ProtectRTP(samplePacket()); err == nil {
		t.Fatal("expected ErrInvalidOp after Stop")
	}
}

func TestSessionEncryptDecryptRoundTrip(t *testing.T) {
	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	key := make([]byte, suite.KeySaltLength)
	for i := range key {
		key[i] = byte(i + 1)
	}
	policy := Policy{Name: suite.Name, Key: key}

	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	// Symmetric tx/rx: encrypting with this session's tx context and
	// decrypting with its own rx context (same key/suite) round-trips,
	// since SRTP context state depends only on key material and the
	// packet's own sequence number / SSRC, not on which logical
	// direction created the context.
	if err := s.Start(policy, policy); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	plaintext := samplePacket()
	if err := s.ProtectRTP(plaintext); err != nil {
		t.Fatalf("ProtectRTP() = %v, want nil", err)
	}
	if len(sender.rtp) != 1 {
		t.Fatalf("expected 1 protected packet, got %d", len(sender.rtp))
	}
	ciphertext := sender.rtp[0]
	if string(ciphertext) == string(plaintext) {
		t.Fatalf("ciphertext should differ from plaintext")
	}

	var got []byte
	s.SetCallbacks(func(buf []byte) { got = buf }, nil, nil)
	s.UnprotectRTP(ciphertext, nil)

	if string(got) != string(plaintext) {
		t.Fatalf("UnprotectRTP delivered %v, want %v", got, plaintext)
	}
}

func TestSessionProtectTooBig(t *testing.T) {
	sender := &captureSender{}
	s := NewSession(16, sender, nil) // tiny MTU
	defer s.Close()

	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	key := make([]byte, suite.KeySaltLength)
	p := Policy{Name: suite.Name, Key: key}
	if err := s.Start(p, p); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	if err := s.ProtectRTP(samplePacket()); err != ErrTooBig {
		t.Fatalf("ProtectRTP() = %v, want ErrTooBig", err)
	}
}

// rtpPacketWithSeq builds a minimal valid RTP packet like samplePacket but
// with an explicit sequence number, for replay/probation tests that need a
// run of distinct sequence numbers.
func rtpPacketWithSeq(seq uint16) []byte {
	return []byte{
		0x80, 0x00, byte(seq >> 8), byte(seq),
		0, 0, 0, 0,
		0x12, 0x34, 0x56, 0x78,
		'h', 'e', 'l', 'l', 'o', '!',
	}
}

// TestProbationRecoveryRestartsWithinWindowThenDropsOnceExhausted exercises
// UnprotectRTP's replay-probation recovery: while the probation counter is
// still positive, a replayed packet makes the session silently restart its
// rx context (reusing the last-installed policies) and retry the decrypt
// once, recovering the packet instead of dropping it. Once probation is
// exhausted the same kind of replay is dropped silently instead.
func TestProbationRecoveryRestartsWithinWindowThenDropsOnceExhausted(t *testing.T) {
	suite := Entry(IndexOf("AES_CM_128_HMAC_SHA1_80"))
	key := make([]byte, suite.KeySaltLength)
	for i := range key {
		key[i] = byte(i + 7)
	}
	policy := Policy{Name: suite.Name, Key: key}

	sender := &captureSender{}
	s := NewSession(0, sender, nil)
	defer s.Close()

	if err := s.Start(policy, policy); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	var delivered []byte
	s.SetCallbacks(func(buf []byte) { delivered = append([]byte(nil), buf...) }, nil, nil)

	ciphertexts := make(map[uint16][]byte)
	for seq := uint16(100); seq <= 110; seq++ {
		if err := s.ProtectRTP(rtpPacketWithSeq(seq)); err != nil {
			t.Fatalf("ProtectRTP(seq=%d) = %v, want nil", seq, err)
		}
		ciphertexts[seq] = append([]byte(nil), sender.rtp[len(sender.rtp)-1]...)

		delivered = nil
		s.UnprotectRTP(ciphertexts[seq], nil)
		if delivered == nil {
			t.Fatalf("UnprotectRTP(seq=%d) did not deliver a packet", seq)
		}
	}
	// 11 calls spent so far; initialProbation(100) - 11 = 89 remain.

	// Resending an already-decrypted packet is a replay; with probation
	// remaining, the session restarts its rx context and retries, so the
	// packet is recovered rather than dropped.
	delivered = nil
	s.UnprotectRTP(ciphertexts[109], nil)
	if delivered == nil {
		t.Fatal("expected probation-window replay to recover and deliver the retried packet")
	}
	// The recovery restarted the session, and Start resets probation to
	// initialProbation: 100 remain.

	// Drain the whole probation budget with a run of fresh, strictly
	// increasing sequence numbers, properly protected against the rx
	// context the recovery above installed.
	for seq := uint16(111); seq <= 210; seq++ {
		if err := s.ProtectRTP(rtpPacketWithSeq(seq)); err != nil {
			t.Fatalf("ProtectRTP(seq=%d) = %v, want nil", seq, err)
		}
		s.UnprotectRTP(sender.rtp[len(sender.rtp)-1], nil)
	}
	// 100 more calls spent; probation is now 0.

	delivered = nil
	s.UnprotectRTP(ciphertexts[109], nil)
	if delivered != nil {
		t.Fatal("expected replay with exhausted probation to be dropped silently")
	}
}

// asErr is a small helper so tests can assert on the concrete *Error type
// without importing errors.As at every call site.
func asErr(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
