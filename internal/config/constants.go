// Package config provides configuration constants and settings for Meridian
package config

// SIP server defaults
const (
	DefaultSIPPort   = 5060
	DefaultUserAgent = "Meridian/1.0"
)

// Data directory defaults
const (
	DefaultDataDir = "./data"
)
