package srtp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SDESMethod implements Method via in-SDP `a=crypto` attributes (RFC 4568),
// grounded on pkg/sip/srtp.go's SDPCryptoAttribute/GenerateKeyMaterial shape
// but generalized to the Method interface instead of ad hoc SDP string
// rewriting.
type SDESMethod struct {
	mu sync.Mutex

	suites []string // locally enabled suite names, in preference order
	logger *slog.Logger
	negID  uuid.UUID

	offererSide bool
	localKeys   map[string][]byte // suite name -> generated key, set by Offer
}

// NewSDESMethod creates an SDES keying method offering the given suites, in
// order. An empty list defaults to every registered non-NULL suite.
func NewSDESMethod(suites []string, logger *slog.Logger) *SDESMethod {
	if len(suites) == 0 {
		suites = NonNullNames()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SDESMethod{
		suites:    suites,
		logger:    logger,
		negID:     uuid.New(),
		localKeys: make(map[string][]byte),
	}
}

func (m *SDESMethod) Name() string { return "SDES" }

// Offer emits one crypto line per enabled suite with a freshly generated
// random key, per spec.md §4.6.
func (m *SDESMethod) Offer(_ context.Context, attrs *MediaAttrs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offererSide = true
	for i, suiteName := range m.suites {
		suite := Entry(IndexOf(suiteName))
		key := make([]byte, suite.KeySaltLength)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("sdes: generate key for %s: %w", suiteName, err)
		}
		m.localKeys[suiteName] = key
		line := fmt.Sprintf("crypto:%d %s inline:%s", i+1, suiteName, base64.StdEncoding.EncodeToString(key))
		attrs.Lines = append(attrs.Lines, line)
	}
	m.logger.Debug("sdes offer emitted", "neg_id", m.negID, "suites", m.suites)
	return nil
}

// Answer resolves either side of the exchange: as the offerer it parses the
// peer's single chosen crypto line, as the answerer it picks the first
// offered line matching a locally enabled suite and echoes one crypto line
// back (spec.md §4.6).
func (m *SDESMethod) Answer(_ context.Context, remote *MediaAttrs, local *MediaAttrs) (NegotiatedPolicies, bool, error) {
	if remote == nil {
		return NegotiatedPolicies{}, false, nil
	}
	lines := cryptoLines(remote.Lines)
	if len(lines) == 0 {
		return NegotiatedPolicies{}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offererSide {
		attr, err := parseCryptoLine(lines[0])
		if err != nil {
			e := *ErrNotSupportedCrypto
			e.Message = err.Error()
			return NegotiatedPolicies{}, false, &e
		}
		localKey, ok := m.localKeys[attr.Suite]
		if !ok {
			e := *ErrNotSupportedCrypto
			e.Message = "answer selected suite we did not offer: " + attr.Suite
			return NegotiatedPolicies{}, false, &e
		}
		remoteKey, err := decodeCryptoKey(attr.KeyB64, attr.Suite)
		if err != nil {
			return NegotiatedPolicies{}, false, err
		}
		m.logger.Debug("sdes offer answered", "neg_id", m.negID, "suite", attr.Suite)
		return NegotiatedPolicies{
			TX: Policy{Name: attr.Suite, Key: localKey},
			RX: Policy{Name: attr.Suite, Key: remoteKey},
		}, true, nil
	}

	for _, line := range lines {
		attr, err := parseCryptoLine(line)
		if err != nil {
			continue
		}
		if !m.isEnabled(attr.Suite) {
			continue
		}
		remoteKey, err := decodeCryptoKey(attr.KeyB64, attr.Suite)
		if err != nil {
			continue
		}
		suite := Entry(IndexOf(attr.Suite))
		localKey := make([]byte, suite.KeySaltLength)
		if _, err := rand.Read(localKey); err != nil {
			return NegotiatedPolicies{}, false, fmt.Errorf("sdes: generate answer key: %w", err)
		}
		if local != nil {
			local.Lines = append(local.Lines, fmt.Sprintf("crypto:%d %s inline:%s",
				attr.Tag, attr.Suite, base64.StdEncoding.EncodeToString(localKey)))
		}
		m.logger.Debug("sdes answer emitted", "neg_id", m.negID, "suite", attr.Suite)
		return NegotiatedPolicies{
			TX: Policy{Name: attr.Suite, Key: localKey},
			RX: Policy{Name: attr.Suite, Key: remoteKey},
		}, true, nil
	}

	e := *ErrNotSupportedCrypto
	e.Message = "no offered crypto suite matches a locally enabled suite"
	return NegotiatedPolicies{}, false, &e
}

// Start is a no-op for SDES: negotiation always completes synchronously from
// Answer, so there is nothing to drive asynchronously.
func (m *SDESMethod) Start(_ context.Context, _ StartFunc) error { return nil }

func (m *SDESMethod) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localKeys = make(map[string][]byte)
	return nil
}

// InspectInbound never claims a packet: SDES carries no in-band wire format.
func (m *SDESMethod) InspectInbound(_ []byte) InspectResult { return Ignored }

func (m *SDESMethod) Close() error { return m.Stop() }

func (m *SDESMethod) isEnabled(suiteName string) bool {
	for _, s := range m.suites {
		if strings.EqualFold(s, suiteName) {
			return true
		}
	}
	return false
}

type cryptoAttr struct {
	Tag    int
	Suite  string
	KeyB64 string
}

// cryptoLines filters SDP attribute lines down to `crypto:` entries,
// tolerating an optional leading `a=`.
func cryptoLines(lines []string) []string {
	var out []string
	for _, l := range lines {
		l = strings.TrimPrefix(l, "a=")
		if strings.HasPrefix(l, "crypto:") {
			out = append(out, l)
		}
	}
	return out
}

// parseCryptoLine parses `crypto:<tag> <suite> inline:<base64>[|...]` per
// RFC 4568, ignoring trailing session params.
func parseCryptoLine(line string) (cryptoAttr, error) {
	line = strings.TrimPrefix(strings.TrimPrefix(line, "a="), "crypto:")
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return cryptoAttr{}, fmt.Errorf("malformed crypto attribute: %q", line)
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return cryptoAttr{}, fmt.Errorf("malformed crypto tag: %w", err)
	}
	keyParts := strings.SplitN(fields[2], ":", 2)
	if len(keyParts) != 2 || keyParts[0] != "inline" {
		return cryptoAttr{}, fmt.Errorf("unsupported key method in %q", fields[2])
	}
	return cryptoAttr{Tag: tag, Suite: fields[1], KeyB64: keyParts[1]}, nil
}

// decodeCryptoKey base64-decodes the key portion of a crypto attribute
// (stripping optional |lifetime|MKI suffixes) and validates its length
// against the named suite.
func decodeCryptoKey(keyInfo, suiteName string) ([]byte, error) {
	b64 := strings.SplitN(keyInfo, "|", 2)[0]
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		e := *ErrKeyLength
		e.Message = "malformed base64 key material"
		return nil, &e
	}
	idx := IndexOf(suiteName)
	if idx < 0 {
		e := *ErrNotSupportedCrypto
		e.Message = "unknown suite " + suiteName
		return nil, &e
	}
	suite := Entry(idx)
	if len(raw) < suite.KeySaltLength {
		e := *ErrKeyLength
		e.Message = fmt.Sprintf("key material too short for %s: got %d want %d", suiteName, len(raw), suite.KeySaltLength)
		return nil, &e
	}
	return raw[:suite.KeySaltLength], nil
}
