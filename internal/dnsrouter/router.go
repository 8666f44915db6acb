// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsrouter implements C5: a per-query dispatcher that
// synthesizes A records for local DHCP-learned hostnames and otherwise
// forwards to configured upstream resolvers.
package dnsrouter

import (
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/nijaru/beryl-router/internal/lease"
	"github.com/nijaru/beryl-router/internal/logging"
)

const (
	synthesizedTTL  = 60
	tcpIdleTimeout  = 5 * time.Second
	upstreamTimeout = 2 * time.Second
)

// fallbackUpstream is used when the configuration lists none, so the
// router still answers rather than refusing service.
const fallbackUpstream = "1.1.1.1:53"

// Lookup is the subset of the lease database the router reads.
type Lookup interface {
	LookupByHostname(name string) (string, bool)
}

// Router answers DNS queries from a local lease database or by
// forwarding to upstream resolvers.
type Router struct {
	db          Lookup
	localDomain string
	upstreams   []string
	servers     []*dns.Server
}

// New builds a Router. upstreams may be empty; localDomain may be
// empty, in which case every A query is attempted against db.
func New(db Lookup, localDomain string, upstreams []string) *Router {
	if len(upstreams) == 0 {
		upstreams = []string{fallbackUpstream}
	}
	return &Router{db: db, localDomain: strings.ToLower(localDomain), upstreams: upstreams}
}

// ListenAndServe binds listen (host:port) on both UDP and TCP and
// serves queries until Shutdown is called. Each listener runs in its
// own goroutine; ListenAndServe blocks until the first of the two
// listeners stops (a bind or serve failure, or Shutdown) and returns
// that listener's error.
func (r *Router) ListenAndServe(listen string) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", r.handle)

	udp := &dns.Server{Addr: listen, Net: "udp", Handler: mux}
	tcp := &dns.Server{Addr: listen, Net: "tcp", Handler: mux, IdleTimeout: func() time.Duration { return tcpIdleTimeout }}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.ListenAndServe() }()
	go func() { errCh <- tcp.ListenAndServe() }()

	r.servers = append(r.servers, udp, tcp)
	return <-errCh
}

// Shutdown stops every listener this Router started.
func (r *Router) Shutdown() {
	for _, s := range r.servers {
		_ = s.Shutdown()
	}
}

// handle normalizes the query name, tries local synthesis, and
// otherwise forwards upstream.
func (r *Router) handle(w dns.ResponseWriter, req *dns.Msg) {
	log := logging.WithComponent("dnsrouter")
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = false
	resp.RecursionAvailable = true

	if len(req.Question) == 0 {
		_ = w.WriteMsg(resp)
		return
	}
	q := req.Question[0]
	name := normalizeName(q.Name)

	if q.Qtype == dns.TypeA {
		if hostname, ok := r.bareHostname(name); ok {
			if ip, found := r.db.LookupByHostname(hostname); found {
				resp.Answer = append(resp.Answer, synthesizeA(q.Name, ip))
				_ = w.WriteMsg(resp)
				return
			}
		}
	}

	upstreamResp, err := r.forward(req)
	if err != nil {
		log.Debug("upstream forward failed", "name", name, "error", err)
		resp.Rcode = classifyError(err)
		_ = w.WriteMsg(resp)
		return
	}

	upstreamResp.Id = req.Id
	upstreamResp.RecursionAvailable = true
	upstreamResp.Authoritative = false
	_ = w.WriteMsg(upstreamResp)
}

// bareHostname strips the configured local domain suffix when present,
// or accepts any name as a bare hostname when no local domain is
// configured.
func (r *Router) bareHostname(name string) (string, bool) {
	if r.localDomain == "" {
		return name, true
	}
	suffix := "." + r.localDomain
	if strings.HasSuffix(name, suffix) {
		return strings.TrimSuffix(name, suffix), true
	}
	return "", false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func synthesizeA(qname, ip string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: synthesizedTTL},
		A:   net.ParseIP(ip).To4(),
	}
}

// forward exchanges req with the configured upstreams in order, UDP
// first with TCP fallback on truncation.
func (r *Router) forward(req *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	udpClient := &dns.Client{Net: "udp", Timeout: upstreamTimeout}
	tcpClient := &dns.Client{Net: "tcp", Timeout: upstreamTimeout}

	for _, addr := range r.upstreams {
		resp, _, err := udpClient.Exchange(req, addr)
		if err == nil && resp != nil && resp.Truncated {
			resp, _, err = tcpClient.Exchange(req, addr)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// classifyError maps an upstream exchange error onto a response code:
// no records -> NXDOMAIN, everything else -> SERVFAIL. The upstream
// library surfaces "no answer" as a nil error with an empty message
// rather than a distinct error value, so in practice every error
// reaching this function is a protocol or transport failure.
func classifyError(err error) int {
	if err == nil {
		return dns.RcodeNameError
	}
	return dns.RcodeServerFailure
}
