package srtp

import (
	"bytes"
	"strings"
)

// PolicyFlag toggles service-level restrictions on an otherwise normal suite.
type PolicyFlag int

const (
	// FlagNoEncryption disables confidentiality while keeping authentication.
	FlagNoEncryption PolicyFlag = 1 << iota
	// FlagNoAuthentication disables authentication while keeping confidentiality.
	FlagNoAuthentication
)

// CryptoPolicy is the name Info's fields use when reporting negotiated
// policies back to the application, mirroring pjmedia_srtp_info's
// tx_policy/rx_policy naming (SPEC_FULL.md §4).
type CryptoPolicy = Policy

// Policy is a crypto policy: a suite name, raw key+salt bytes, and flags.
// A Policy is empty iff Name or Key is zero-length (spec.md §3).
type Policy struct {
	Name  string
	Key   []byte
	Flags PolicyFlag
}

// IsEmpty reports whether the policy carries no name or no key material.
func (p Policy) IsEmpty() bool {
	return len(p.Name) == 0 || len(p.Key) == 0
}

// Equal reports whether two policies are equal: exact key-byte equality,
// case-insensitive name equality, and equal flags (spec.md §4.2).
func (p Policy) Equal(other Policy) bool {
	return bytes.Equal(p.Key, other.Key) &&
		strings.EqualFold(p.Name, other.Name) &&
		p.Flags == other.Flags
}

// ServiceLevel derives the effective protection level for a policy from its
// flag combination, per spec.md §4.4: {cipher,auth}->conf+auth;
// {cipher}->conf; {auth}->auth; {}->none. A suite's default service already
// encodes "neither flag set means full protection"; flags only ever narrow it.
func (p Policy) ServiceLevel(suite Suite) ServiceLevel {
	if suite.Name == "NULL" {
		return ServiceNone
	}
	hasCipher := p.Flags&FlagNoEncryption == 0
	hasAuth := p.Flags&FlagNoAuthentication == 0
	switch {
	case hasCipher && hasAuth:
		return ServiceConfAndAuth
	case hasCipher:
		return ServiceConf
	case hasAuth:
		return ServiceAuth
	default:
		return ServiceNone
	}
}

// Validate checks an offered key against the suite's declared key+salt
// length. It fails with ErrKeyLength when the key is non-empty but shorter
// than required (spec.md §4.2). An empty key (NULL policy) is not a length
// violation — that is handled by IsEmpty/bypass detection upstream.
func Validate(p Policy, suite Suite) error {
	if len(p.Key) == 0 {
		return nil
	}
	if len(p.Key) < suite.KeySaltLength {
		e := *ErrKeyLength
		e.Message = "key too short for " + suite.Name
		return &e
	}
	return nil
}

// resolveSuite looks up a policy's suite, failing with ErrNotSupportedCrypto
// when the name is unknown.
func resolveSuite(p Policy) (Suite, error) {
	idx := IndexOf(p.Name)
	if idx < 0 {
		e := *ErrNotSupportedCrypto
		e.Message = "unknown suite " + p.Name
		return Suite{}, &e
	}
	return Entry(idx), nil
}

// isNullPolicy reports whether a resolved policy is the NULL suite with no
// restricting flags — the "both NULL/NULL" bypass condition of spec.md §4.4.
func isNullPolicy(p Policy) bool {
	return (p.Name == "" || strings.EqualFold(p.Name, "NULL")) && p.Flags == 0
}
