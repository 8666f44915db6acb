// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nijaru/beryl-router/internal/berr"
)

// Load reads and parses the TOML file at path. A missing file is
// returned as the os.ReadFile error — callers that want a "run with an
// empty configuration" startup should check os.IsNotExist themselves
// and fall back to Empty().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a Config, ignoring unknown keys and
// applying field defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, berr.Wrap(err, berr.KindValidation, "configuration parse error")
	}
	cfg.Normalize()
	return &cfg, nil
}

// Empty returns the zero-value configuration used when no config file is
// present at startup.
func Empty() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in field defaults so every sub-apply function in the
// supervisor sees a fully-defaulted struct instead of having to repeat
// "if zero, use X" checks itself.
func (c *Config) Normalize() {
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.Mode.Type == "" {
		c.Mode.Type = "router"
	}
	if c.API.Listen == "" {
		c.API.Listen = "0.0.0.0:8080"
	}
	if c.DHCP.Server.Pool.LeaseTime == "" {
		c.DHCP.Server.Pool.LeaseTime = "1h"
	}
}

// Clone returns a deep-enough copy for the supervisor to hand out to
// admin GET handlers without aliasing the slices the next reload might
// mutate in place.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Firewall.BlockedIPs = append([]string(nil), c.Firewall.BlockedIPs...)
	cp.Firewall.BlockedPorts = append([]uint16(nil), c.Firewall.BlockedPorts...)
	cp.Firewall.BlockedEgressIPs = append([]string(nil), c.Firewall.BlockedEgressIPs...)
	cp.DHCP.Server.StaticLeases = append([]StaticLease(nil), c.DHCP.Server.StaticLeases...)
	cp.DHCP.Server.Options.DNS = append([]string(nil), c.DHCP.Server.Options.DNS...)
	cp.DHCP.Server.Options.NTP = append([]string(nil), c.DHCP.Server.Options.NTP...)
	cp.DNS.Listen = append([]string(nil), c.DNS.Listen...)
	cp.DNS.Upstream = append([]string(nil), c.DNS.Upstream...)
	cp.Interfaces.WAN.Members = append([]string(nil), c.Interfaces.WAN.Members...)
	cp.Interfaces.LAN.Members = append([]string(nil), c.Interfaces.LAN.Members...)
	if c.WiFi.Radio0 != nil {
		r := *c.WiFi.Radio0
		cp.WiFi.Radio0 = &r
	}
	if c.WiFi.Radio1 != nil {
		r := *c.WiFi.Radio1
		cp.WiFi.Radio1 = &r
	}
	cp.WiFi.Interfaces = append([]WiFiInterface(nil), c.WiFi.Interfaces...)
	return &cp
}
