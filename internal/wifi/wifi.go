// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wifi renders the supervisor's WiFi sub-configuration into the
// driver's UCI wireless config format and invokes the reload shellout.
// The reload binary itself is an external collaborator: this package's
// job ends at producing correct input for it and reporting whether the
// invocation succeeded.
package wifi

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/config"
	"github.com/nijaru/beryl-router/internal/logging"
)

const (
	defaultConfigPath = "/etc/config/wireless"
	defaultReloadBin  = "/sbin/wifi"
)

// Options configures where the rendered config is written and how the
// driver is reloaded.
type Options struct {
	// ConfigPath is the on-router UCI wireless config path. Defaults to
	// /etc/config/wireless.
	ConfigPath string
	// PreviewPath is written instead of ConfigPath when ConfigPath's
	// parent directory doesn't exist, e.g. in tests or on a dev host
	// with no OpenWrt UCI tree.
	PreviewPath string
	// ReloadBinary is the shellout invoked as "<ReloadBinary> reload"
	// after the config is written. Defaults to /sbin/wifi. A binary
	// that isn't present on PATH is treated as "not on a router" rather
	// than an error.
	ReloadBinary string
}

// Manager applies a WiFi sub-configuration on request.
type Manager struct {
	opts Options
}

// New builds a Manager, defaulting any unset option.
func New(opts Options) *Manager {
	if opts.ConfigPath == "" {
		opts.ConfigPath = defaultConfigPath
	}
	if opts.ReloadBinary == "" {
		opts.ReloadBinary = defaultReloadBin
	}
	return &Manager{opts: opts}
}

// Apply renders cfg into UCI wireless config text, writes it, and
// reloads the driver if the reload binary is present. Apply is a no-op
// returning nil when cfg.Enabled is false.
func (m *Manager) Apply(ctx context.Context, cfg config.WiFi) error {
	log := logging.WithComponent("wifi")
	if !cfg.Enabled {
		return nil
	}

	path := m.targetPath()
	if err := os.WriteFile(path, []byte(Generate(cfg)), 0o644); err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "write wireless config to %s", path)
	}
	log.Info("wrote wireless config", "path", path)

	if _, err := exec.LookPath(m.opts.ReloadBinary); err != nil {
		log.Debug("skipping wifi reload, reload binary not present", "binary", m.opts.ReloadBinary)
		return nil
	}

	cmd := exec.CommandContext(ctx, m.opts.ReloadBinary, "reload")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return berr.Wrapf(err, berr.KindUnavailable, "wifi reload failed: %s", stderr.String())
	}
	log.Info("wifi driver reloaded")
	return nil
}

// targetPath picks ConfigPath when its parent directory exists (meaning
// this is a real router), else falls back to PreviewPath.
func (m *Manager) targetPath() string {
	if info, err := os.Stat(filepath.Dir(m.opts.ConfigPath)); err == nil && info.IsDir() {
		return m.opts.ConfigPath
	}
	return m.opts.PreviewPath
}

// Generate renders cfg into UCI wireless config text: a "wifi-device"
// section per configured radio, followed by a "wifi-iface" section per
// broadcast interface.
func Generate(cfg config.WiFi) string {
	var buf bytes.Buffer
	if cfg.Radio0 != nil {
		writeRadio(&buf, "radio0", *cfg.Radio0)
	}
	if cfg.Radio1 != nil {
		writeRadio(&buf, "radio1", *cfg.Radio1)
	}
	for i, iface := range cfg.Interfaces {
		writeInterface(&buf, i, iface)
	}
	return buf.String()
}

func writeRadio(buf *bytes.Buffer, name string, r config.WiFiRadio) {
	fmt.Fprintf(buf, "config wifi-device '%s'\n", name)
	fmt.Fprintf(buf, "\toption type 'mac80211'\n")
	fmt.Fprintf(buf, "\toption path '%s'\n", r.Path)
	fmt.Fprintf(buf, "\toption channel '%s'\n", r.Channel)
	fmt.Fprintf(buf, "\toption band '%s'\n", r.Band)
	fmt.Fprintf(buf, "\toption htmode '%s'\n", r.HTMode)
	if r.Disabled {
		fmt.Fprintf(buf, "\toption disabled '1'\n")
	} else {
		fmt.Fprintf(buf, "\toption disabled '0'\n")
	}
	buf.WriteByte('\n')
}

func writeInterface(buf *bytes.Buffer, idx int, iface config.WiFiInterface) {
	fmt.Fprintf(buf, "config wifi-iface 'default_%s_%d'\n", iface.Device, idx)
	fmt.Fprintf(buf, "\toption device '%s'\n", iface.Device)
	fmt.Fprintf(buf, "\toption network '%s'\n", iface.Network)
	fmt.Fprintf(buf, "\toption mode '%s'\n", iface.Mode)
	fmt.Fprintf(buf, "\toption ssid '%s'\n", iface.SSID)
	fmt.Fprintf(buf, "\toption encryption '%s'\n", iface.Encryption)
	fmt.Fprintf(buf, "\toption key '%s'\n", iface.Key)
	buf.WriteByte('\n')
}
