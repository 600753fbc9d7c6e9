// Package srtp implements a pluggable SRTP/SRTCP transport wrapper: per-direction
// authenticated encryption of RTP/RTCP media plus SDP- and DTLS-based keying
// negotiation. It wraps an arbitrary member transport and an external SRTP
// primitive library (pion/srtp) the way a media proxy sits between an RTP/RTCP
// endpoint and the network.
package srtp

import "strings"

// ServiceLevel describes which of confidentiality/authentication a suite provides.
type ServiceLevel int

const (
	ServiceNone ServiceLevel = iota
	ServiceAuth
	ServiceConf
	ServiceConfAndAuth
)

// Suite is an immutable crypto-suite table entry: cipher/auth identifiers and
// the lengths derived from them. Index 0 is always the NULL (bypass) suite.
type Suite struct {
	Name            string
	CipherID        string
	KeySaltLength   int // combined master key + salt length in bytes
	SaltLength      int
	AuthID          string
	AuthKeyLength   int
	SRTPAuthTagLen  int
	SRTCPAuthTagLen int
	DefaultService  ServiceLevel
}

// registry is the process-wide, compile-time table of known suites. It must
// never grow at runtime. Index 0 is the NULL suite per the data model.
var registry = []Suite{
	{
		Name:           "NULL",
		CipherID:       "null",
		KeySaltLength:  0,
		SaltLength:     0,
		AuthID:         "null",
		DefaultService: ServiceNone,
	},
	{
		Name:            "AES_CM_128_HMAC_SHA1_80",
		CipherID:        "aes-cm-128",
		KeySaltLength:   30,
		SaltLength:      14,
		AuthID:          "hmac-sha1",
		AuthKeyLength:   20,
		SRTPAuthTagLen:  10,
		SRTCPAuthTagLen: 10,
		DefaultService:  ServiceConfAndAuth,
	},
	{
		Name:            "AES_CM_128_HMAC_SHA1_32",
		CipherID:        "aes-cm-128",
		KeySaltLength:   30,
		SaltLength:      14,
		AuthID:          "hmac-sha1",
		AuthKeyLength:   20,
		SRTPAuthTagLen:  4,
		SRTCPAuthTagLen: 10,
		DefaultService:  ServiceConfAndAuth,
	},
	{
		Name:            "AES_192_CM_HMAC_SHA1_80",
		CipherID:        "aes-cm-192",
		KeySaltLength:   38,
		SaltLength:      14,
		AuthID:          "hmac-sha1",
		AuthKeyLength:   20,
		SRTPAuthTagLen:  10,
		SRTCPAuthTagLen: 10,
		DefaultService:  ServiceConfAndAuth,
	},
	{
		Name:            "AES_256_CM_HMAC_SHA1_80",
		CipherID:        "aes-cm-256",
		KeySaltLength:   46,
		SaltLength:      14,
		AuthID:          "hmac-sha1",
		AuthKeyLength:   20,
		SRTPAuthTagLen:  10,
		SRTCPAuthTagLen: 10,
		DefaultService:  ServiceConfAndAuth,
	},
	{
		Name:            "AEAD_AES_128_GCM",
		CipherID:        "aes-gcm-128",
		KeySaltLength:   28,
		SaltLength:      12,
		AuthID:          "gcm",
		SRTPAuthTagLen:  16,
		SRTCPAuthTagLen: 16,
		DefaultService:  ServiceConfAndAuth,
	},
	{
		Name:            "AEAD_AES_256_GCM",
		CipherID:        "aes-gcm-256",
		KeySaltLength:   44,
		SaltLength:      12,
		AuthID:          "gcm",
		SRTPAuthTagLen:  16,
		SRTCPAuthTagLen: 16,
		DefaultService:  ServiceConfAndAuth,
	},
}

// IndexOf looks up a suite by case-insensitive name. An empty name resolves to
// 0 (the NULL suite). Unknown names return -1.
func IndexOf(name string) int {
	if name == "" {
		return 0
	}
	for i, s := range registry {
		if strings.EqualFold(s.Name, name) {
			return i
		}
	}
	return -1
}

// Entry returns the registry entry at index, or the NULL suite if out of range.
func Entry(index int) Suite {
	if index < 0 || index >= len(registry) {
		return registry[0]
	}
	return registry[index]
}

// NullSuite is the bypass suite at registry index 0.
func NullSuite() Suite { return registry[0] }

// Names returns every registered suite name in table order, NULL included.
func Names() []string {
	names := make([]string, len(registry))
	for i, s := range registry {
		names[i] = s.Name
	}
	return names
}

// NonNullNames returns every registered suite name excluding NULL, in table order.
func NonNullNames() []string {
	names := make([]string, 0, len(registry)-1)
	for _, s := range registry[1:] {
		names = append(names, s.Name)
	}
	return names
}
