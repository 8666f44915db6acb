// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nijaru/beryl-router/internal/berr"
	"github.com/nijaru/beryl-router/internal/config"
	"github.com/nijaru/beryl-router/internal/logging"
)

var (
	metricPacketsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "beryl",
		Subsystem: "kernelmap",
		Name:      "packets_total",
		Help:      "Total packets observed by the kernel filter, summed across CPUs.",
	})
	metricPacketsPassed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "beryl",
		Subsystem: "kernelmap",
		Name:      "packets_passed",
		Help:      "Packets passed by the kernel filter, summed across CPUs.",
	})
	metricPacketsDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "beryl",
		Subsystem: "kernelmap",
		Name:      "packets_dropped",
		Help:      "Packets dropped by the kernel filter, summed across CPUs.",
	})
)

// statusResponse is the body of GET /api/v1/status.
type statusResponse struct {
	Version   string            `json:"version"`
	Mode      string            `json:"mode"`
	UptimeSec int64             `json:"uptime_seconds"`
	Services  map[string]string `json:"services"`
}

// statsResponse is the body of GET /api/v1/stats.
type statsResponse struct {
	Total     uint64    `json:"total"`
	Passed    uint64    `json:"passed"`
	Dropped   uint64    `json:"dropped"`
	Seq       uint64    `json:"seq"`
	ReadAt    time.Time `json:"read_at"`
}

// serveAdmin builds the HTTP admin surface and runs it until ctx is
// cancelled.
func (s *Supervisor) serveAdmin(ctx context.Context) error {
	log := logging.WithComponent("admin")

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{Addr: s.opts.APIBind, Handler: router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("admin HTTP server failed", "bind", s.opts.APIBind, "error", err)
			return err
		}
		return nil
	}
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()

	s.tasksMu.Lock()
	_, dhcpServerRunning := s.tasks[dhcpServerTask]
	_, dnsRouterRunning := s.tasks[dnsRouterTask]
	s.tasksMu.Unlock()

	s.wifiMu.Lock()
	wifiRunning := s.wifiUp
	s.wifiMu.Unlock()

	services := map[string]string{
		"dhcp_server": statusString(dhcpServerRunning),
		"dns_server":  statusString(dnsRouterRunning),
		"wifi":        statusString(wifiRunning),
	}

	mode := "router"
	if cfg != nil {
		mode = cfg.Mode.Type
	}

	respondJSON(w, http.StatusOK, statusResponse{
		Version:   Version,
		Mode:      mode,
		UptimeSec: int64(s.clock.Now().Sub(s.startedAt).Seconds()),
		Services:  services,
	})
}

func statusString(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func (s *Supervisor) handleStats(w http.ResponseWriter, r *http.Request) {
	c, seq, at := s.StatsSnapshot()
	metricPacketsTotal.Set(float64(c.Total))
	metricPacketsPassed.Set(float64(c.Passed))
	metricPacketsDropped.Set(float64(c.Dropped))

	respondJSON(w, http.StatusOK, statsResponse{
		Total:   c.Total,
		Passed:  c.Passed,
		Dropped: c.Dropped,
		Seq:     seq,
		ReadAt:  at,
	})
}

func (s *Supervisor) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Config())
}

func (s *Supervisor) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg := &config.Config{}
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		respondError(w, berr.Wrap(err, berr.KindValidation, "invalid configuration body"))
		return
	}
	cfg.Normalize()
	if err := s.Apply(cfg); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Config())
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch berr.GetKind(err) {
	case berr.KindValidation:
		code = http.StatusBadRequest
	case berr.KindConflict:
		code = http.StatusConflict
	case berr.KindNotFound:
		code = http.StatusNotFound
	}
	respondJSON(w, code, map[string]string{"error": err.Error()})
}
