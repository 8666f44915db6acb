// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wifi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nijaru/beryl-router/internal/config"
)

func TestGenerateRendersRadiosAndInterfaces(t *testing.T) {
	cfg := config.WiFi{
		Enabled: true,
		Radio0: &config.WiFiRadio{
			Path: "platform/soc/radio0", Channel: "36", Band: "5g", HTMode: "HE80",
		},
		Interfaces: []config.WiFiInterface{
			{Device: "radio0", Network: "lan", Mode: "ap", SSID: "home", Encryption: "psk2", Key: "hunter2"},
		},
	}

	out := Generate(cfg)
	require.Contains(t, out, "config wifi-device 'radio0'")
	require.Contains(t, out, "option channel '36'")
	require.Contains(t, out, "option disabled '0'")
	require.Contains(t, out, "config wifi-iface 'default_radio0_0'")
	require.Contains(t, out, "option ssid 'home'")
}

func TestGenerateOmitsUnconfiguredRadios(t *testing.T) {
	out := Generate(config.WiFi{Enabled: true})
	require.Empty(t, out)
}

func TestApplyIsNoOpWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{ConfigPath: filepath.Join(dir, "wireless"), PreviewPath: filepath.Join(dir, "preview")})

	require.NoError(t, m.Apply(context.Background(), config.WiFi{Enabled: false}))

	_, err := os.Stat(filepath.Join(dir, "wireless"))
	require.True(t, os.IsNotExist(err))
}

func TestApplyWritesPreviewPathWhenConfigDirMissing(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{
		ConfigPath:   filepath.Join(dir, "does-not-exist", "wireless"),
		PreviewPath:  filepath.Join(dir, "wireless_preview"),
		ReloadBinary: filepath.Join(dir, "no-such-binary"),
	})

	cfg := config.WiFi{Enabled: true, Interfaces: []config.WiFiInterface{{Device: "radio0", SSID: "home"}}}
	require.NoError(t, m.Apply(context.Background(), cfg))

	data, err := os.ReadFile(filepath.Join(dir, "wireless_preview"))
	require.NoError(t, err)
	require.Contains(t, string(data), "option ssid 'home'")
}
