package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

type dnsConfig struct {
	enabled         bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string
}

type dnsCacheEntry struct {
	ips []string
	ttl time.Time
}

// RefreshDNS resolves the remote write host and recreates the client when the
// address set changed (or always, when forced). It reports whether the client
// was recreated. The resolved addresses are not dialed directly: a fresh
// client only drops pooled connections so the next write resolves again.
func (w *RemoteWriter) RefreshDNS(force bool) bool {
	if w.targetHost == "" || net.ParseIP(w.targetHost) != nil {
		return false
	}

	w.mutex.Lock()
	// Throttle resolves
	if !force && time.Since(w.lastResolve) < 1*time.Minute {
		w.mutex.Unlock()
		return false
	}

	if ce, ok := w.dnsCache[w.targetHost]; ok && time.Now().Before(ce.ttl) && !force {
		w.lastResolve = time.Now()
		if slices.Equal(ce.ips, w.resolvedIPs) {
			w.mutex.Unlock()
			return false
		}
		w.resolvedIPs = ce.ips
		w.client = promwrite.NewClient(w.config.URL)
		w.mutex.Unlock()
		w.logger.Info("DNS cache hit, refreshed client",
			zap.String("host", w.targetHost), zap.Strings("ips", ce.ips))
		return true
	}
	w.mutex.Unlock()

	var (
		newSet []string
		err    error
	)
	if w.dnsCfg.enabled {
		newSet, err = w.resolveFastest(w.targetHost)
	} else {
		sysIPs, e := net.LookupIP(w.targetHost)
		err = e
		for _, ip := range sysIPs {
			newSet = append(newSet, ip.String())
		}
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.lastResolve = time.Now()

	if err != nil || len(newSet) == 0 {
		w.logger.Warn("DNS lookup failed", zap.String("host", w.targetHost), zap.Error(err))
		return false
	}

	changed := !slices.Equal(newSet, w.resolvedIPs)
	w.resolvedIPs = newSet

	if w.dnsCfg.enabled {
		w.dnsCache[w.targetHost] = dnsCacheEntry{ips: newSet, ttl: time.Now().Add(w.dnsCfg.cacheTTL)}
	}

	if changed || force {
		// Recreate client to force new connections
		w.client = promwrite.NewClient(w.config.URL)
		w.logger.Info("Refreshed remote write client after DNS update",
			zap.String("host", w.targetHost), zap.Strings("ips", newSet))
		return true
	}
	return false
}

// resolveFastest queries all configured resolvers concurrently and returns first success
func (w *RemoteWriter) resolveFastest(host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(w.ctx, w.dnsCfg.timeout)
	defer cancel()

	type result struct {
		ips []string
		err error
	}
	attempts := 1 + len(w.dnsCfg.udpServers) + len(w.dnsCfg.tlsServers) + len(w.dnsCfg.dohEndpoints)
	ch := make(chan result, attempts)
	var wg sync.WaitGroup

	launch := func(resolve func() ([]string, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ips, err := resolve()
			ch <- result{ips, err}
		}()
	}

	for _, srv := range w.dnsCfg.udpServers {
		launch(func() ([]string, error) { return resolveWire(ctx, host, srv, "udp") })
	}
	for _, srv := range w.dnsCfg.tlsServers {
		launch(func() ([]string, error) { return resolveWire(ctx, host, srv, "tcp-tls") })
	}
	for _, ep := range w.dnsCfg.dohEndpoints {
		launch(func() ([]string, error) { return resolveDoH(ctx, host, ep) })
	}
	// System resolver as fallback
	launch(func() ([]string, error) {
		netIPs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		ips := make([]string, 0, len(netIPs))
		for _, ip := range netIPs {
			ips = append(ips, ip.String())
		}
		return ips, err
	})

	var firstErr error
	for i := 0; i < attempts; i++ {
		select {
		case r := <-ch:
			if r.err == nil && len(r.ips) > 0 {
				return r.ips, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	wg.Wait()
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns result")
	}
	return nil, firstErr
}

// resolveWire queries a plain (udp) or DNS-over-TLS (tcp-tls) server
func resolveWire(ctx context.Context, host, server, network string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Net: network, Timeout: 800 * time.Millisecond}
	r, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil || r == nil || r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s dns failed: %v", network, err)
	}
	return answerIPs(r), nil
}

func resolveDoH(ctx context.Context, host, endpoint string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	payload, err := q.Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var r dns.Msg
	if err := r.Unpack(body); err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("doh rcode: %d", r.Rcode)
	}
	return answerIPs(&r), nil
}

func answerIPs(r *dns.Msg) []string {
	ips := make([]string, 0, len(r.Answer))
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}
