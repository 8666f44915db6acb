// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command beryl is the control-plane daemon for a home router: it
// attaches the kernel packet filter, runs the DHCP server and client,
// the DNS router, and the HTTP admin surface, all driven by one TOML
// configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nijaru/beryl-router/internal/logging"
	"github.com/nijaru/beryl-router/internal/netactuator"
	"github.com/nijaru/beryl-router/internal/supervisor"
)

func main() {
	iface := flag.String("interface", "eth0", "ingress interface the kernel program attaches to")
	configPath := flag.String("config", "/etc/beryl/config.toml", "path to the TOML configuration file")
	skbMode := flag.Bool("skb-mode", false, "force XDP generic (skb) mode instead of native driver mode")
	statsInterval := flag.Int("stats-interval", 10, "statistics poll interval in seconds")
	apiBind := flag.String("api-bind", "0.0.0.0:8080", "HTTP admin surface listen address")
	bytecodePath := flag.String("bytecode", "", "path to the compiled kernel program object (empty runs against in-memory fake tables)")
	stateDir := flag.String("state-dir", "/var/lib/beryl", "directory for the crash ledger and default lease journal")
	flag.Parse()

	log := logging.Default().WithComponent("main")

	sup := supervisor.New(supervisor.Options{
		ConfigPath:    *configPath,
		Interface:     *iface,
		BytecodePath:  *bytecodePath,
		SKBMode:       *skbMode,
		APIBind:       *apiBind,
		StatsInterval: time.Duration(*statsInterval) * time.Second,
		StateDir:      *stateDir,
		Actuator:      netactuator.NewNetlink(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, shutting down")
		cancel()
	}()

	if err := ensureStateDir(*stateDir); err != nil {
		log.Error("failed to create state directory", "path", *stateDir, "error", err)
		os.Exit(1)
	}

	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited with error", "error", err)
		fmt.Fprintln(os.Stderr, "beryl: startup failed:", err)
		os.Exit(1)
	}
}

func ensureStateDir(dir string) error {
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}
