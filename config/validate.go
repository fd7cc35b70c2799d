package config

import (
	"fmt"
	"math/big"
	"net"
	"strings"

	"commitvault/core/types"
)

// Validate checks the fields the daemon cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("ListenAddress: %w", err)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir is required")
	}
	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("auth: ClockSkew must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst must be positive when RequestsPerMinute is set")
	}
	for i, proxy := range c.TrustedProxies {
		if net.ParseIP(strings.TrimSpace(proxy)) == nil {
			return fmt.Errorf("TrustedProxies[%d]: %q is not an IP address", i, proxy)
		}
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
	}
	seen := make(map[types.Address]struct{}, len(c.Genesis))
	for i, account := range c.Genesis {
		addr, err := types.ParseAddress(account.Address)
		if err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("genesis[%d]: duplicate address %s", i, addr)
		}
		seen[addr] = struct{}{}
		if _, err := ParseBalance(account.Balance); err != nil {
			return fmt.Errorf("genesis[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseBalance parses a non-negative base-10 integer amount.
func ParseBalance(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("balance required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("balance must not be negative")
	}
	return amount, nil
}
