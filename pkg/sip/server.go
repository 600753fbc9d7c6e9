// Package sip provides SIP server functionality using sipgo
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridiantel/meridian/internal/config"
	srtpcore "github.com/meridiantel/meridian/pkg/srtp"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Config holds SIP server configuration
type Config struct {
	Port      int
	UserAgent string
	DataDir   string // Data directory for certificates
	TLS       *config.TLSConfig
	SRTP      *config.SRTPConfig
	DTLS      *config.DTLSConfig
	ZRTP      *config.ZRTPConfig
}

// Server wraps sipgo server with Meridian-specific functionality. It owns
// the signaling plane only: it negotiates media keys (SDES, DTLS-SRTP,
// ZRTP) and hands the resulting key material to whatever owns the actual
// media socket; it never opens an RTP/RTCP listener itself.
type Server struct {
	cfg    Config
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	// TLS/Certificate management
	certMgr *CertManager

	// SRTP session management
	srtpMgr *SRTPSessionManager

	// ZRTP session management
	zrtpMgr *ZRTPManager

	mu       sync.RWMutex
	running  bool
	cancelFn context.CancelFunc
}

// NewServer creates a new SIP server
func NewServer(cfg Config) (*Server, error) {
	// Create user agent
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}

	// Create server
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	// Create client for outbound requests
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	server := &Server{
		cfg:     cfg,
		ua:      ua,
		srv:     srv,
		client:  client,
		srtpMgr: NewSRTPSessionManager(),
	}

	// Validate TLS configuration
	if cfg.TLS != nil && cfg.TLS.DisableUnencrypted && !cfg.TLS.Enabled {
		return nil, fmt.Errorf("cannot disable unencrypted SIP without enabling TLS - set MERIDIAN_TLS_ENABLED=true")
	}

	// Initialize TLS certificate manager if TLS is enabled
	if cfg.TLS != nil && cfg.TLS.Enabled {
		certMgr, err := NewCertManager(cfg.TLS, cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TLS certificate manager: %w", err)
		}
		server.certMgr = certMgr
		slog.Info("TLS certificate manager initialized",
			"mode", cfg.TLS.CertMode,
			"port", cfg.TLS.Port,
			"unencrypted_disabled", cfg.TLS.DisableUnencrypted,
		)
	}

	// Log SRTP (SDES) configuration
	if cfg.SRTP != nil && cfg.SRTP.Enabled {
		slog.Info("SDES-keyed SRTP media encryption enabled",
			"profile", cfg.SRTP.Profile,
			"use", UsageModeFromConfig(cfg.SRTP.Use),
		)
	}

	// Log DTLS-SRTP configuration. The handshake itself is driven per-call
	// by pkg/srtp's dtlssrtp.go once a media leg exists; this server only
	// surfaces the negotiated defaults so a future media leg has them ready.
	if cfg.DTLS != nil && cfg.DTLS.Enabled {
		slog.Info("DTLS-SRTP media encryption enabled",
			"default_role", cfg.DTLS.DefaultRole,
			"suites", cfg.DTLS.Suites,
		)
	}

	// Initialize ZRTP manager if enabled
	if cfg.ZRTP != nil && cfg.ZRTP.Enabled {
		zrtpCfg := &ZRTPConfig{
			Enabled:         cfg.ZRTP.Enabled,
			Mode:            ZRTPMode(cfg.ZRTP.Mode),
			CacheExpiryDays: cfg.ZRTP.CacheExpiryDays,
		}
		zrtpMgr, err := NewZRTPManager(zrtpCfg, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ZRTP manager: %w", err)
		}
		server.zrtpMgr = zrtpMgr
		slog.Info("ZRTP end-to-end encryption enabled",
			"mode", cfg.ZRTP.Mode,
			"cache_expiry_days", cfg.ZRTP.CacheExpiryDays,
		)
	}

	return server, nil
}

// Start begins listening for SIP messages
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	// Create cancelable context
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel

	// Register handlers. This server is a signaling-plane negotiation host,
	// not a PBX: the only request it answers directly is OPTIONS, used for
	// liveness/capability probing by peers negotiating a media session.
	s.srv.OnOptions(s.handleOptions)

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)

	// Check if unencrypted SIP should be disabled
	disableUnencrypted := s.cfg.TLS != nil && s.cfg.TLS.DisableUnencrypted

	if disableUnencrypted {
		slog.Warn("Unencrypted SIP disabled - UDP/TCP listeners will NOT start",
			"tls_only", true,
			"tls_port", s.cfg.TLS.Port,
		)
	} else {
		// Start UDP listener (unencrypted)
		go func() {
			slog.Info("Starting SIP UDP listener", "addr", addr)
			if err := s.srv.ListenAndServe(ctx, "udp", addr); err != nil {
				slog.Error("SIP UDP listener error", "error", err)
			}
		}()

		// Start TCP listener (unencrypted)
		go func() {
			slog.Info("Starting SIP TCP listener", "addr", addr)
			if err := s.srv.ListenAndServe(ctx, "tcp", addr); err != nil {
				slog.Error("SIP TCP listener error", "error", err)
			}
		}()
	}

	// Start TLS listener if TLS is enabled
	if s.certMgr != nil && s.cfg.TLS != nil {
		tlsConfig := s.certMgr.GetTLSConfig()
		if tlsConfig != nil {
			tlsAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.TLS.Port)
			go func() {
				slog.Info("Starting SIP TLS listener (SIPS)", "addr", tlsAddr)
				if err := s.srv.ListenAndServeTLS(ctx, "tcp", tlsAddr, tlsConfig); err != nil {
					slog.Error("SIP TLS listener error", "error", err)
				}
			}()

			// Start WSS listener if configured
			if s.cfg.TLS.WSSPort > 0 {
				wssAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.TLS.WSSPort)
				go func() {
					slog.Info("Starting SIP WSS listener", "addr", wssAddr)
					if err := s.srv.ListenAndServeTLS(ctx, "wss", wssAddr, tlsConfig); err != nil {
						slog.Error("SIP WSS listener error", "error", err)
					}
				}()
			}
		}
	}

	return nil
}

// Stop gracefully shuts down the SIP server
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cancelFn != nil {
		s.cancelFn()
	}

	// Close certificate manager
	if s.certMgr != nil {
		if err := s.certMgr.Close(); err != nil {
			slog.Error("Failed to close certificate manager", "error", err)
		}
	}

	// Close ZRTP manager
	if s.zrtpMgr != nil {
		if err := s.zrtpMgr.Close(); err != nil {
			slog.Error("Failed to close ZRTP manager", "error", err)
		}
	}

	s.running = false
	slog.Info("SIP server stopped")
}

// handleOptions processes OPTIONS requests (health check / capabilities)
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Received OPTIONS request", "from", req.From().Address.String())

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "OPTIONS"))
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Accept-Language", "en"))

	if err := tx.Respond(res); err != nil {
		slog.Error("Failed to send OPTIONS response", "error", err)
	}
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetCertManager returns the certificate manager for external access
func (s *Server) GetCertManager() *CertManager {
	return s.certMgr
}

// GetTLSStatus returns the current TLS certificate status
func (s *Server) GetTLSStatus() *CertStatus {
	if s.certMgr == nil {
		return &CertStatus{Enabled: false}
	}
	status := s.certMgr.GetStatus()
	return &status
}

// IsTLSEnabled returns whether TLS is enabled on the server
func (s *Server) IsTLSEnabled() bool {
	return s.certMgr != nil && s.cfg.TLS != nil && s.cfg.TLS.Enabled
}

// ForceRenewal triggers immediate certificate renewal (ACME mode only)
func (s *Server) ForceRenewal(ctx context.Context) error {
	if s.certMgr == nil {
		return fmt.Errorf("TLS not enabled")
	}
	return s.certMgr.ForceRenewal(ctx)
}

// ReloadCertificates reloads certificates from files (manual mode only)
func (s *Server) ReloadCertificates() error {
	if s.certMgr == nil {
		return fmt.Errorf("TLS not enabled")
	}
	return s.certMgr.ReloadCertificates()
}

// IsSRTPEnabled returns whether SDES-keyed SRTP is enabled on the server
func (s *Server) IsSRTPEnabled() bool {
	return s.cfg.SRTP != nil && s.cfg.SRTP.Enabled
}

// GetSRTPProfile returns the configured SRTP profile
func (s *Server) GetSRTPProfile() SRTPProfile {
	if s.cfg.SRTP == nil || s.cfg.SRTP.Profile == "" {
		return SRTPProfileAES128CMHMACSHA180
	}
	return SRTPProfile(s.cfg.SRTP.Profile)
}

// GetSRTPUsage returns the configured tri-state SRTP usage mode, the value a
// media leg's pkg/srtp.Transport should be configured with via SetUsage.
func (s *Server) GetSRTPUsage() srtpcore.UsageMode {
	if s.cfg.SRTP == nil {
		return srtpcore.UsageOptional
	}
	return UsageModeFromConfig(s.cfg.SRTP.Use)
}

// GenerateSRTPMaterial generates new SRTP key material for a call
func (s *Server) GenerateSRTPMaterial() (*SRTPKeyMaterial, error) {
	if !s.IsSRTPEnabled() {
		return nil, fmt.Errorf("SRTP not enabled")
	}
	return GenerateKeyMaterial(s.GetSRTPProfile())
}

// SetupSRTPForCall sets up SRTP context for a call
func (s *Server) SetupSRTPForCall(callID string, material *SRTPKeyMaterial) (*SRTPContext, error) {
	return s.srtpMgr.GetOrCreate(callID, material)
}

// GetSRTPForCall retrieves the SRTP context for a call
func (s *Server) GetSRTPForCall(callID string) (*SRTPContext, bool) {
	return s.srtpMgr.Get(callID)
}

// CleanupSRTPForCall removes SRTP context when call ends
func (s *Server) CleanupSRTPForCall(callID string) error {
	return s.srtpMgr.Remove(callID)
}

// GetSRTPManager returns the SRTP session manager for external access
func (s *Server) GetSRTPManager() *SRTPSessionManager {
	return s.srtpMgr
}

// IsZRTPEnabled returns whether ZRTP is enabled on the server
func (s *Server) IsZRTPEnabled() bool {
	return s.zrtpMgr != nil && s.cfg.ZRTP != nil && s.cfg.ZRTP.Enabled
}

// GetZRTPMode returns the configured ZRTP mode
func (s *Server) GetZRTPMode() string {
	if s.cfg.ZRTP == nil {
		return "disabled"
	}
	return s.cfg.ZRTP.Mode
}

// GetZRTPManager returns the ZRTP manager for external access
func (s *Server) GetZRTPManager() *ZRTPManager {
	return s.zrtpMgr
}

// StartZRTPSession initiates a ZRTP session for a call
func (s *Server) StartZRTPSession(callID string) (*ZRTPSession, error) {
	if s.zrtpMgr == nil {
		return nil, fmt.Errorf("ZRTP not enabled")
	}
	return s.zrtpMgr.StartSession(callID)
}

// GetZRTPSession retrieves the ZRTP session for a call
func (s *Server) GetZRTPSession(callID string) (*ZRTPSession, bool) {
	if s.zrtpMgr == nil {
		return nil, false
	}
	return s.zrtpMgr.GetSession(callID)
}

// EndZRTPSession terminates a ZRTP session for a call
func (s *Server) EndZRTPSession(callID string) error {
	if s.zrtpMgr == nil {
		return nil
	}
	return s.zrtpMgr.EndSession(callID)
}

// GetZRTPSAS returns the Short Authentication String for a call
func (s *Server) GetZRTPSAS(callID string) (string, error) {
	if s.zrtpMgr == nil {
		return "", fmt.Errorf("ZRTP not enabled")
	}
	return s.zrtpMgr.GetSAS(callID)
}

// IsCallZRTPSecured returns whether a call has completed ZRTP verification
func (s *Server) IsCallZRTPSecured(callID string) bool {
	if s.zrtpMgr == nil {
		return false
	}
	return s.zrtpMgr.IsSecured(callID)
}

// DeriveZRTPKeys derives SRTP keys from ZRTP shared secret
func (s *Server) DeriveZRTPKeys(callID string) (*SRTPKeyMaterial, error) {
	if s.zrtpMgr == nil {
		return nil, fmt.Errorf("ZRTP not enabled")
	}
	return s.zrtpMgr.DeriveKeys(callID)
}

// SetZRTPSASCallback sets the callback for SAS verification
func (s *Server) SetZRTPSASCallback(cb SASVerificationCallback) {
	if s.zrtpMgr != nil {
		s.zrtpMgr.SetSASVerificationCallback(cb)
	}
}

// SetZRTPEventCallback sets the callback for ZRTP events
func (s *Server) SetZRTPEventCallback(cb ZRTPEventCallback) {
	if s.zrtpMgr != nil {
		s.zrtpMgr.SetEventCallback(cb)
	}
}

// GetZRTPStats returns ZRTP statistics
func (s *Server) GetZRTPStats() map[string]interface{} {
	if s.zrtpMgr == nil {
		return map[string]interface{}{
			"enabled": false,
		}
	}
	return s.zrtpMgr.GetStats()
}

// GetEncryptionStatus returns a summary of all encryption configurations
func (s *Server) GetEncryptionStatus() map[string]interface{} {
	status := map[string]interface{}{
		"tls": map[string]interface{}{
			"enabled":              s.IsTLSEnabled(),
			"unencrypted_disabled": s.cfg.TLS != nil && s.cfg.TLS.DisableUnencrypted,
		},
		"srtp": map[string]interface{}{
			"enabled": s.IsSRTPEnabled(),
			"profile": s.GetSRTPProfile(),
			"use":     s.GetSRTPUsage().String(),
		},
		"dtls": map[string]interface{}{
			"enabled": s.cfg.DTLS != nil && s.cfg.DTLS.Enabled,
		},
		"zrtp": s.GetZRTPStats(),
	}

	if s.IsTLSEnabled() {
		tlsStatus := s.GetTLSStatus()
		status["tls"].(map[string]interface{})["cert_mode"] = tlsStatus.CertMode
		status["tls"].(map[string]interface{})["cert_valid"] = tlsStatus.Valid
		status["tls"].(map[string]interface{})["cert_expires"] = tlsStatus.CertExpiry
	}

	return status
}
