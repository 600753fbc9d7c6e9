package config

import "strings"

// SRTPConfig controls SDES-keyed SRTP on SIP media legs.
type SRTPConfig struct {
	Enabled bool
	Profile string // crypto suite name, e.g. "AES_CM_128_HMAC_SHA1_80"
	// Use is the tri-state usage policy: "disabled", "optional", or
	// "mandatory" (pkg/srtp.UsageMode). Unrecognized values are treated as
	// "optional" by pkg/sip.UsageModeFromConfig.
	Use string
}

// DTLSConfig controls DTLS-SRTP keyed media legs, layered alongside SDES.
type DTLSConfig struct {
	Enabled     bool
	DefaultRole string // "active" or "passive"
	Suites      []string
}

// ZRTPConfig controls end-to-end ZRTP keyed media legs.
type ZRTPConfig struct {
	Enabled         bool
	Mode            string
	CacheExpiryDays int
}

// LoadSRTPConfig reads SDES-SRTP settings from the environment.
func LoadSRTPConfig() *SRTPConfig {
	return &SRTPConfig{
		Enabled: getEnvBool("MERIDIAN_SRTP_ENABLED", false),
		Profile: getEnv("MERIDIAN_SRTP_PROFILE", "AES_CM_128_HMAC_SHA1_80"),
		Use:     getEnv("MERIDIAN_SRTP_USE", "optional"),
	}
}

// LoadDTLSConfig reads DTLS-SRTP settings from the environment.
func LoadDTLSConfig() *DTLSConfig {
	cfg := &DTLSConfig{
		Enabled:     getEnvBool("MERIDIAN_DTLS_SRTP_ENABLED", false),
		DefaultRole: getEnv("MERIDIAN_DTLS_SRTP_ROLE", "active"),
	}
	if suites := getEnv("MERIDIAN_DTLS_SRTP_SUITES", ""); suites != "" {
		cfg.Suites = splitCommaList(suites)
	}
	return cfg
}

// LoadZRTPConfig reads ZRTP settings from the environment.
func LoadZRTPConfig() *ZRTPConfig {
	return &ZRTPConfig{
		Enabled:         getEnvBool("MERIDIAN_ZRTP_ENABLED", false),
		Mode:            getEnv("MERIDIAN_ZRTP_MODE", "opportunistic"),
		CacheExpiryDays: getEnvInt("MERIDIAN_ZRTP_CACHE_EXPIRY_DAYS", 90),
	}
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
