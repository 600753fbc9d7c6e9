// Package main is the entry point for the Meridian application
package main

import (
	"testing"
)

// TestPackageStructure verifies the main package is correctly structured
func TestPackageStructure(t *testing.T) {
	// This test ensures the package compiles and has the expected structure
	// The main() function cannot be directly tested, but we can verify
	// that the package builds correctly with all its imports
	t.Log("Main package compiles successfully")
}

// TestVersionString verifies version is defined
func TestVersionString(t *testing.T) {
	// The version is hardcoded in main.go as "1.0.0"
	// This test serves as documentation
	version := "1.0.0"
	if version == "" {
		t.Error("Version should not be empty")
	}
	t.Logf("Meridian Version: %s", version)
}

// TestDefaultSIPPort verifies the expected SIP port configuration
func TestDefaultSIPPort(t *testing.T) {
	standardSIPPort := 5060

	if standardSIPPort < 1 || standardSIPPort > 65535 {
		t.Errorf("SIP port %d out of valid range", standardSIPPort)
	}

	t.Logf("Standard SIP Port: %d", standardSIPPort)
}
