// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package supervisor implements C6: it owns the write-guarded
// configuration snapshot, the kernel program attachment, and one
// cancellation handle per long-running task (DHCP server, DHCP client,
// DNS router). It applies configuration at startup and again on every
// hot reload, and exposes an HTTP admin surface for status, stats, and
// config inspection.
package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/clock"
	"github.com/nijaru/beryl-router/internal/config"
	"github.com/nijaru/beryl-router/internal/dhcpclient"
	"github.com/nijaru/beryl-router/internal/dhcpserver"
	"github.com/nijaru/beryl-router/internal/dnsrouter"
	"github.com/nijaru/beryl-router/internal/kernelmap"
	"github.com/nijaru/beryl-router/internal/lease"
	"github.com/nijaru/beryl-router/internal/logging"
	"github.com/nijaru/beryl-router/internal/netactuator"
	"github.com/nijaru/beryl-router/internal/wifi"
)

// Version is the build identifier reported by the status endpoint.
const Version = "0.1.0"

const defaultStatsInterval = 10 * time.Second

// Task names. dhcpServerTask and dnsRouterTask double as the public
// service names reported by the status endpoint; dhcpClientTask is
// tracked only internally and never surfaced there.
const (
	adminTask      = "admin-http"
	statsTask      = "stats-poller"
	dhcpServerTask = "dhcp_server"
	dhcpClientTask = "dhcp-client"
	dnsRouterTask  = "dns_server"
)

// Options configures a Supervisor for startup.
type Options struct {
	ConfigPath    string
	Interface     string // WAN/ingress interface the kernel program attaches to
	BytecodePath  string // compiled kernel object; empty uses an in-memory fake
	SKBMode       bool
	APIBind       string
	StatsInterval time.Duration
	StateDir      string // crash ledger and default lease-journal directory
	Actuator      netactuator.Actuator
	Clock         clock.Clock
}

// Supervisor is C6.
type Supervisor struct {
	opts Options
	log  *logging.Logger

	tables   *kernelmap.Tables
	actuator netactuator.Actuator
	clock    clock.Clock

	cfgMu sync.RWMutex
	cfg   *config.Config

	tasksMu sync.Mutex
	tasks   map[string]context.CancelFunc

	leaseMu sync.Mutex
	leaseDB *lease.Database

	wifiMgr *wifi.Manager
	wifiMu  sync.Mutex
	wifiUp  bool

	statsMu    sync.Mutex
	lastStats  kernelmap.Counters
	statsSeq   uint64
	statsAt    time.Time

	crashes   *crashLedger
	startedAt time.Time

	baseCtx context.Context
}

// New constructs a Supervisor. Call Run to start it.
func New(opts Options) *Supervisor {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatsInterval
	}
	if opts.APIBind == "" {
		opts.APIBind = "0.0.0.0:8080"
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}

	ledgerPath := ""
	previewDir := os.TempDir()
	if opts.StateDir != "" {
		ledgerPath = filepath.Join(opts.StateDir, "crashes.json")
		previewDir = opts.StateDir
	}

	return &Supervisor{
		opts:     opts,
		log:      logging.WithComponent("supervisor"),
		actuator: opts.Actuator,
		clock:    c,
		tasks:    make(map[string]context.CancelFunc),
		crashes:  newCrashLedger(ledgerPath, c),
		wifiMgr: wifi.New(wifi.Options{
			PreviewPath: filepath.Join(previewDir, "wireless_config_preview"),
		}),
	}
}

// Run executes the startup sequence and blocks until ctx is cancelled,
// at which point it tears down every task and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.baseCtx = ctx
	s.startedAt = s.clock.Now()

	tables, err := s.loadKernelProgram()
	if err != nil {
		return berr.Wrap(err, berr.KindUnavailable, "attach kernel program")
	}
	s.tables = tables

	cfg, err := loadOrEmpty(s.opts.ConfigPath)
	if err != nil {
		s.tables.Close()
		return berr.Wrap(err, berr.KindValidation, "initial configuration")
	}
	s.cfg = cfg

	if err := s.Apply(cfg); err != nil {
		s.log.Error("initial configuration apply failed", "error", err)
	}

	s.startTask(adminTask, func(taskCtx context.Context) error {
		return s.serveAdmin(taskCtx)
	})
	s.startTask(statsTask, func(taskCtx context.Context) error {
		s.pollStats(taskCtx)
		return nil
	})

	if watcher, err := config.NewWatcher(s.opts.ConfigPath); err != nil {
		s.log.Warn("configuration hot reload unavailable", "path", s.opts.ConfigPath, "error", err)
	} else {
		go s.reloadLoop(ctx, watcher)
	}

	<-ctx.Done()
	s.shutdown()
	return nil
}

// loadKernelProgram loads the compiled kernel object when one is
// configured, else falls back to the in-memory fake tables (this
// repository does not ship bytecode).
func (s *Supervisor) loadKernelProgram() (*kernelmap.Tables, error) {
	if s.opts.BytecodePath == "" {
		s.log.Warn("no kernel bytecode configured, running against in-memory fake tables")
		return kernelmap.NewFakeTables()
	}
	t, err := kernelmap.Load(s.opts.BytecodePath, s.opts.Interface, s.opts.SKBMode)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func loadOrEmpty(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Empty(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Apply re-applies every sub-configuration. It is idempotent: calling it
// twice with the same cfg aborts and respawns every task exactly once
// per call.
func (s *Supervisor) Apply(cfg *config.Config) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.applyFirewall(cfg)
	s.applyDHCPServer(cfg)
	s.applyDHCPClient(cfg)
	s.applyDNS(cfg)
	s.applyWiFi(cfg)

	s.cfg = cfg.Clone()
	return nil
}

func (s *Supervisor) applyFirewall(cfg *config.Config) {
	var ips, egress []uint32
	for _, raw := range cfg.Firewall.BlockedIPs {
		key, err := kernelmap.ParseIPToKey(raw)
		if err != nil {
			s.log.Warn("skipping invalid blocked IP", "value", raw, "error", err)
			continue
		}
		ips = append(ips, key)
	}
	for _, raw := range cfg.Firewall.BlockedEgressIPs {
		key, err := kernelmap.ParseIPToKey(raw)
		if err != nil {
			s.log.Warn("skipping invalid blocked egress IP", "value", raw, "error", err)
			continue
		}
		egress = append(egress, key)
	}

	for _, err := range s.tables.Blocklist.ReplaceAll(ips) {
		s.log.Warn("blocklist insert failed", "error", err)
	}
	for _, err := range s.tables.PortBlocklist.ReplaceAll(cfg.Firewall.BlockedPorts) {
		s.log.Warn("port blocklist insert failed", "error", err)
	}
	for _, err := range s.tables.EgressBlock.ReplaceAll(egress) {
		s.log.Warn("egress blocklist insert failed", "error", err)
	}
}

func (s *Supervisor) applyDHCPServer(cfg *config.Config) {
	s.abortTask(dhcpServerTask)

	if !cfg.DHCP.Server.Enabled || cfg.DHCP.Server.Interface == "" {
		s.leaseMu.Lock()
		s.leaseDB = nil
		s.leaseMu.Unlock()
		return
	}

	pool, err := lease.NewPool(cfg.DHCP.Server.Pool.Start, cfg.DHCP.Server.Pool.End, cfg.DHCP.Server.Pool.LeaseTime)
	if err != nil {
		s.log.Error("invalid DHCP pool, server not started", "error", err)
		return
	}

	statics := make(map[string]lease.StaticBinding, len(cfg.DHCP.Server.StaticLeases))
	for _, sl := range cfg.DHCP.Server.StaticLeases {
		mac, err := net.ParseMAC(sl.MAC)
		if err != nil {
			s.log.Warn("skipping static lease with invalid MAC", "mac", sl.MAC, "error", err)
			continue
		}
		statics[mac.String()] = lease.StaticBinding{IP: sl.IP, Hostname: sl.Hostname}
	}

	db := lease.New(pool, statics, cfg.DHCP.Server.LeaseFile, s.clock)
	if cfg.DHCP.Server.LeaseFile != "" {
		if err := db.Load(); err != nil {
			s.log.Warn("failed to load lease journal", "path", cfg.DHCP.Server.LeaseFile, "error", err)
		}
	}

	opts := dhcpserver.Options{
		ServerIP: serverIP(cfg.Interfaces.LAN.Address),
		Gateway:  net.ParseIP(cfg.DHCP.Server.Options.Gateway),
		DNS:      parseIPs(cfg.DHCP.Server.Options.DNS),
	}

	srv, err := dhcpserver.New(cfg.DHCP.Server.Interface, db, opts)
	if err != nil {
		s.log.Error("failed to start DHCP server", "interface", cfg.DHCP.Server.Interface, "error", err)
		return
	}

	s.leaseMu.Lock()
	s.leaseDB = db
	s.leaseMu.Unlock()

	s.startTask(dhcpServerTask, func(taskCtx context.Context) error {
		srv.Run(taskCtx)
		return nil
	})
}

func (s *Supervisor) applyDHCPClient(cfg *config.Config) {
	s.abortTask(dhcpClientTask)

	if cfg.DHCP.Client.Interface == "" {
		return
	}
	if s.crashes.ShouldEnterSafeMode(dhcpClientTask) {
		s.log.Warn("dhcp-client in safe mode after repeated crashes, not starting", "interface", cfg.DHCP.Client.Interface)
		return
	}

	client, err := dhcpclient.New(cfg.DHCP.Client.Interface, s.actuator)
	if err != nil {
		s.log.Error("failed to start DHCP client", "interface", cfg.DHCP.Client.Interface, "error", err)
		return
	}

	s.startTask(dhcpClientTask, func(taskCtx context.Context) error {
		client.Run(taskCtx)
		return nil
	})
}

func (s *Supervisor) applyDNS(cfg *config.Config) {
	s.abortTask(dnsRouterTask)

	s.leaseMu.Lock()
	db := s.leaseDB
	s.leaseMu.Unlock()

	if !cfg.DNS.Enabled || db == nil {
		return
	}

	router := dnsrouter.New(db, cfg.DHCP.Server.Options.Domain, cfg.DNS.Upstream)
	listen := cfg.DNS.Listen
	if len(listen) == 0 {
		listen = []string{"0.0.0.0:53"}
	}

	s.startTask(dnsRouterTask, func(taskCtx context.Context) error {
		var wg sync.WaitGroup
		for _, addr := range listen {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				if err := router.ListenAndServe(addr); err != nil && taskCtx.Err() == nil {
					s.log.Error("DNS listener failed", "listen", addr, "error", err)
				}
			}(addr)
		}
		go func() {
			<-taskCtx.Done()
			router.Shutdown()
		}()
		wg.Wait()
		return nil
	})
}

func (s *Supervisor) applyWiFi(cfg *config.Config) {
	if !cfg.WiFi.Enabled {
		s.wifiMu.Lock()
		s.wifiUp = false
		s.wifiMu.Unlock()
		return
	}

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.wifiMgr.Apply(ctx, cfg.WiFi); err != nil {
		s.log.Error("failed to apply wifi configuration", "error", err)
		s.crashes.RecordCrash("wifi", err)
		s.wifiMu.Lock()
		s.wifiUp = false
		s.wifiMu.Unlock()
		return
	}

	s.wifiMu.Lock()
	s.wifiUp = true
	s.wifiMu.Unlock()
}

// startTask runs fn in its own goroutine under a context derived from
// the supervisor's base context, recording a crash in the ledger if fn
// returns while the task's own context is still live (i.e. the task
// exited on its own rather than being cancelled by a later apply or
// shutdown).
func (s *Supervisor) startTask(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.tasksMu.Lock()
	s.tasks[name] = cancel
	s.tasksMu.Unlock()

	go func() {
		err := fn(ctx)
		if ctx.Err() == nil {
			s.log.Warn("task exited unexpectedly", "task", name, "error", err)
			s.crashes.RecordCrash(name, err)
		}
	}()
}

func (s *Supervisor) abortTask(name string) {
	s.tasksMu.Lock()
	cancel, ok := s.tasks[name]
	delete(s.tasks, name)
	s.tasksMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Supervisor) shutdown() {
	s.tasksMu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.tasksMu.Unlock()

	for _, name := range names {
		s.abortTask(name)
	}
	if s.tables != nil {
		_ = s.tables.Close()
	}
}

// reloadLoop applies a new configuration every time the watcher signals
// a change. A parse error aborts the reload and leaves the previous
// configuration in effect.
func (s *Supervisor) reloadLoop(ctx context.Context, watcher *config.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Signal():
			cfg, err := config.Load(s.opts.ConfigPath)
			if err != nil {
				s.log.Error("configuration reload failed, keeping previous configuration", "error", err)
				continue
			}
			s.log.Info("reloading configuration", "path", s.opts.ConfigPath)
			if err := s.Apply(cfg); err != nil {
				s.log.Error("configuration apply failed", "error", err)
			}
		}
	}
}

// pollStats periodically snapshots the kernel counters and reaps
// expired dynamic leases, riding the same ticker rather than running a
// dedicated reaper goroutine.
func (s *Supervisor) pollStats(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshStats()
			s.leaseMu.Lock()
			db := s.leaseDB
			s.leaseMu.Unlock()
			if db != nil {
				db.ExpireReap()
			}
		}
	}
}

func (s *Supervisor) refreshStats() {
	c, err := s.tables.Stats.Read()
	if err != nil {
		s.log.Warn("failed to read kernel counters", "error", err)
		return
	}
	s.statsMu.Lock()
	s.lastStats = c
	s.statsSeq++
	s.statsAt = s.clock.Now()
	s.statsMu.Unlock()

	metricPacketsTotal.Set(float64(c.Total))
	metricPacketsPassed.Set(float64(c.Passed))
	metricPacketsDropped.Set(float64(c.Dropped))
}

// StatsSnapshot returns the last-read counters summed across CPUs, a monotonic
// read sequence number, and the time of that read, so concurrent
// callers (the HTTP /stats route and the Prometheus exporter) observe a
// consistent snapshot without re-reading the kernel tables per caller.
func (s *Supervisor) StatsSnapshot() (kernelmap.Counters, uint64, time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastStats, s.statsSeq, s.statsAt
}

// Config returns a deep-enough copy of the currently applied
// configuration, safe for a caller to read without racing a reload.
func (s *Supervisor) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

func serverIP(cidrOrIP string) net.IP {
	if cidrOrIP == "" {
		return nil
	}
	if ip, _, err := net.ParseCIDR(cidrOrIP); err == nil {
		return ip
	}
	return net.ParseIP(cidrOrIP)
}

func parseIPs(raw []string) []net.IP {
	var out []net.IP
	for _, r := range raw {
		if ip := net.ParseIP(r); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}
