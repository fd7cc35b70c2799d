package config

import "time"

// Auth configures bearer token verification for mutating calls.
type Auth struct {
	HMACSecret string        `toml:"HMACSecret" yaml:"hmacSecret"`
	Issuer     string        `toml:"Issuer" yaml:"issuer"`
	ClockSkew  time.Duration `toml:"ClockSkew" yaml:"clockSkew"`
}

// RateLimit bounds requests per client IP.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Telemetry controls the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}

// GenesisAccount seeds a balance the first time the data directory is used.
// Balance is in smallest units.
type GenesisAccount struct {
	Address string `toml:"Address" yaml:"address"`
	Balance string `toml:"Balance" yaml:"balance"`
}
