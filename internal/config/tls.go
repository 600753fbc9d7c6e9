package config

// TLSConfig controls SIP-over-TLS and the signaling-plane certificate
// lifecycle (manual file-based certificates or ACME via certmagic).
type TLSConfig struct {
	Enabled             bool
	DisableUnencrypted  bool
	Port                int // SIP-over-TLS listener port
	WSSPort             int // SIP-over-WebSocket-TLS listener port
	CertMode            string // "manual" or "acme"
	MinVersion          string // e.g. "1.2", "1.3"
	ClientAuth          string // e.g. "none", "request", "require"

	// Manual mode
	CertFile string
	KeyFile  string
	CAFile   string

	// ACME mode
	ACMEEmail          string
	ACMEDomain         string
	ACMEDomains        []string
	ACMECA             string // "production" or "staging"
	CloudflareAPIToken string
}

// LoadTLSConfig reads TLS settings from the environment, following the same
// getEnv*/MERIDIAN_ prefix convention as Config.Load.
func LoadTLSConfig() *TLSConfig {
	cfg := &TLSConfig{
		Enabled:            getEnvBool("MERIDIAN_TLS_ENABLED", false),
		DisableUnencrypted: getEnvBool("MERIDIAN_TLS_DISABLE_UNENCRYPTED", false),
		Port:               getEnvInt("MERIDIAN_TLS_PORT", 5061),
		WSSPort:            getEnvInt("MERIDIAN_TLS_WSS_PORT", 7443),
		CertMode:           getEnv("MERIDIAN_TLS_CERT_MODE", "manual"),
		MinVersion:         getEnv("MERIDIAN_TLS_MIN_VERSION", "1.2"),
		ClientAuth:         getEnv("MERIDIAN_TLS_CLIENT_AUTH", "none"),

		CertFile: getEnv("MERIDIAN_TLS_CERT_FILE", ""),
		KeyFile:  getEnv("MERIDIAN_TLS_KEY_FILE", ""),
		CAFile:   getEnv("MERIDIAN_TLS_CA_FILE", ""),

		ACMEEmail:          getEnv("MERIDIAN_ACME_EMAIL", ""),
		ACMEDomain:         getEnv("MERIDIAN_ACME_DOMAIN", ""),
		ACMECA:             getEnv("MERIDIAN_ACME_CA", "production"),
		CloudflareAPIToken: getEnv("MERIDIAN_CLOUDFLARE_API_TOKEN", ""),
	}
	if extra := getEnv("MERIDIAN_ACME_DOMAINS", ""); extra != "" {
		cfg.ACMEDomains = splitCommaList(extra)
	}
	return cfg
}
