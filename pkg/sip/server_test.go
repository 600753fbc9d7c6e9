package sip

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/meridiantel/meridian/internal/config"
)

func TestNewServer(t *testing.T) {
	cfg := Config{
		Port:      5060,
		UserAgent: "Meridian-Test/1.0",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if server == nil {
		t.Fatal("NewServer should not return nil")
	}

	// Verify configuration
	if server.cfg.Port != 5060 {
		t.Errorf("Port mismatch: got %d, want 5060", server.cfg.Port)
	}
	if server.cfg.UserAgent != "Meridian-Test/1.0" {
		t.Errorf("UserAgent mismatch: got %s, want Meridian-Test/1.0", server.cfg.UserAgent)
	}

	// Verify components are initialized
	if server.ua == nil {
		t.Error("UserAgent should be initialized")
	}
	if server.srv == nil {
		t.Error("Server should be initialized")
	}
	if server.client == nil {
		t.Error("Client should be initialized")
	}
	if server.srtpMgr == nil {
		t.Error("SRTPSessionManager should be initialized")
	}

	// Server should not be running initially
	if server.IsRunning() {
		t.Error("Server should not be running initially")
	}
}

func TestServer_IsRunning(t *testing.T) {
	cfg := Config{
		Port:      5060,
		UserAgent: "Meridian-Test/1.0",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	// Initially not running
	if server.IsRunning() {
		t.Error("Server should not be running initially")
	}

	// Manually set running state
	server.mu.Lock()
	server.running = true
	server.mu.Unlock()

	if !server.IsRunning() {
		t.Error("Server should report running after being set")
	}

	// Reset
	server.mu.Lock()
	server.running = false
	server.mu.Unlock()

	if server.IsRunning() {
		t.Error("Server should report not running after being reset")
	}
}

// TestServer_SRTPConcurrency exercises SetupSRTPForCall/CleanupSRTPForCall
// under concurrent access, the same WaitGroup-drain pattern used to confirm
// the teacher's call-state counters were race-free.
func TestServer_SRTPConcurrency(t *testing.T) {
	cfg := Config{
		Port:      5060,
		UserAgent: "Meridian-Test/1.0",
		SRTP: &config.SRTPConfig{
			Enabled: true,
			Profile: string(SRTPProfileAES128CMHMACSHA180),
		},
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := fmt.Sprintf("call-%d", i)
			material, err := server.GenerateSRTPMaterial()
			if err != nil {
				t.Errorf("GenerateSRTPMaterial failed: %v", err)
				return
			}
			if _, err := server.SetupSRTPForCall(callID, material); err != nil {
				t.Errorf("SetupSRTPForCall failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		callID := fmt.Sprintf("call-%d", i)
		if _, ok := server.GetSRTPForCall(callID); !ok {
			t.Errorf("expected SRTP context for %s", callID)
		}
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := fmt.Sprintf("call-%d", i)
			if err := server.CleanupSRTPForCall(callID); err != nil {
				t.Errorf("CleanupSRTPForCall failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		callID := fmt.Sprintf("call-%d", i)
		if _, ok := server.GetSRTPForCall(callID); ok {
			t.Errorf("expected no SRTP context for %s after cleanup", callID)
		}
	}
}

func TestServer_Stop(t *testing.T) {
	cfg := Config{
		Port:      5060,
		UserAgent: "Meridian-Test/1.0",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	// Stop when not running should be safe
	server.Stop()
	if server.IsRunning() {
		t.Error("Server should not be running after Stop")
	}

	// Set up as if running
	ctx, cancel := context.WithCancel(context.Background())
	server.mu.Lock()
	server.running = true
	server.cancelFn = cancel
	server.mu.Unlock()

	// Stop should work
	server.Stop()

	if server.IsRunning() {
		t.Error("Server should not be running after Stop")
	}

	// Verify context was canceled
	select {
	case <-ctx.Done():
		// Expected
	default:
		t.Error("Context should be canceled after Stop")
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	cfg := Config{
		Port:      5060,
		UserAgent: "Meridian-Test/1.0",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	// Set up as if running
	_, cancel := context.WithCancel(context.Background())
	server.mu.Lock()
	server.running = true
	server.cancelFn = cancel
	server.mu.Unlock()

	// Multiple stops should be safe
	server.Stop()
	server.Stop()
	server.Stop()

	if server.IsRunning() {
		t.Error("Server should not be running after multiple Stops")
	}
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantPort  int
		wantAgent string
	}{
		{
			name:      "default port",
			config:    Config{Port: 5060, UserAgent: "Test/1.0"},
			wantPort:  5060,
			wantAgent: "Test/1.0",
		},
		{
			name:      "custom port",
			config:    Config{Port: 5080, UserAgent: "Custom/2.0"},
			wantPort:  5080,
			wantAgent: "Custom/2.0",
		},
		{
			name:      "zero port",
			config:    Config{Port: 0, UserAgent: "Zero/1.0"},
			wantPort:  0,
			wantAgent: "Zero/1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", tt.config.Port, tt.wantPort)
			}
			if tt.config.UserAgent != tt.wantAgent {
				t.Errorf("UserAgent = %s, want %s", tt.config.UserAgent, tt.wantAgent)
			}
		})
	}
}
