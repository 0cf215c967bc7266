package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// RemoteWriteConfig configures a RemoteWriter
type RemoteWriteConfig struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	URL     string
	Timeout time.Duration

	// Instance information
	InstanceIP   string
	CustomLabels map[string]string

	// Optional logger
	Logger *zap.Logger

	// DNS resolver options (optional, for advanced use cases)
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853", "9.9.9.9:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// RemoteWriter turns payloads into Prometheus remote write samples. Every
// payload is written on its own: one sample per metric record, one sample
// per error event.
type RemoteWriter struct {
	config RemoteWriteConfig
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.Mutex
	client *promwrite.Client

	// DNS functionality
	targetHost  string
	resolvedIPs []string
	lastResolve time.Time
	dnsCfg      dnsConfig
	dnsCache    map[string]dnsCacheEntry
}

// point is one sample decoded from a payload
type point struct {
	name   string
	value  float64
	labels map[string]string
}

// NewRemoteWriter creates a remote writer for config.URL
func NewRemoteWriter(config RemoteWriteConfig) (*RemoteWriter, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("remote write url cannot be empty")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote write url: %w", err)
	}

	if config.InstanceIP == "" {
		ip, err := GetOutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteWriter{
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		client:     promwrite.NewClient(config.URL),
		targetHost: u.Hostname(),
		dnsCfg: dnsConfig{
			enabled:         config.DNSEnable,
			cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
			refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
			timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
			udpServers:      append([]string(nil), config.DNSUDPServers...),
			tlsServers:      append([]string(nil), config.DNSTLSServers...),
			dohEndpoints:    append([]string(nil), config.DNSDoHEndpoints...),
		},
		dnsCache: make(map[string]dnsCacheEntry),
	}, nil
}

// Start launches the periodic DNS refresh loop when custom DNS is enabled
func (w *RemoteWriter) Start() {
	if !w.dnsCfg.enabled || w.targetHost == "" || net.ParseIP(w.targetHost) != nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.dnsCfg.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.RefreshDNS(false)
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the DNS refresh loop
func (w *RemoteWriter) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Uploader returns an UploadFunc writing every payload asynchronously
func (w *RemoteWriter) Uploader() UploadFunc {
	return Async(pickDuration(w.config.Timeout, 15*time.Second), w.Write)
}

// Write decodes one payload and sends it. A failed write refreshes DNS so the
// next payload uses a fresh client; the failed payload itself is not resent.
func (w *RemoteWriter) Write(ctx context.Context, data string) error {
	points, err := decodePayload(data)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	req := &promwrite.WriteRequest{
		TimeSeries: w.convertToTimeSeries(points, time.Now()),
	}

	w.mutex.Lock()
	client := w.client
	w.mutex.Unlock()

	if _, err := client.Write(ctx, req); err != nil {
		w.logger.Error("Failed to write payload", zap.Error(err))
		w.RefreshDNS(true)
		return fmt.Errorf("writing time series failed: %w", err)
	}
	return nil
}

// decodePayload reads an {"error": {...}} or {"<metric>": {...}} payload
func decodePayload(data string) ([]point, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	keys := make([]string, 0, len(envelope))
	for k := range envelope {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([]point, 0, len(keys))
	for _, key := range keys {
		raw := envelope[key]
		if key == errorEventType {
			var e SerializedError
			if err := json.Unmarshal(raw, &e); err != nil {
				return nil, fmt.Errorf("decoding error payload: %w", err)
			}
			labels := map[string]string{"type": e.Type}
			if e.Error != nil && e.Error.Name != "" {
				labels["error_name"] = e.Error.Name
			}
			points = append(points, point{name: "uncaught_errors", value: 1, labels: labels})
			continue
		}

		var m Metric
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decoding metric %s: %w", key, err)
		}
		labels := map[string]string{}
		if m.Rating != "" {
			labels["rating"] = m.Rating
		}
		if m.NavigationType != "" {
			labels["navigation_type"] = m.NavigationType
		}
		points = append(points, point{
			name:   "web_vitals_" + strings.ToLower(key),
			value:  m.Value,
			labels: labels,
		})
	}
	return points, nil
}

// convertToTimeSeries converts decoded points to promwrite time series format
func (w *RemoteWriter) convertToTimeSeries(points []point, now time.Time) []promwrite.TimeSeries {
	result := make([]promwrite.TimeSeries, 0, len(points))

	prefix := fmt.Sprintf("%s_%s", w.config.Namespace, w.config.Subsystem)

	for _, p := range points {
		metricName := fmt.Sprintf("%s_%s", prefix, p.name)

		labels := make([]promwrite.Label, 0, 4+len(w.config.CustomLabels)+len(p.labels))
		labels = append(labels, []promwrite.Label{
			{Name: "__name__", Value: metricName},
			{Name: "_instance_", Value: w.config.InstanceIP},
			{Name: "instance", Value: w.config.InstanceIP},
			{Name: "_target_", Value: w.config.ServiceName},
		}...)
		labels = appendSorted(labels, w.config.CustomLabels)
		labels = appendSorted(labels, p.labels)

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  now,
				Value: p.value,
			},
		})
	}

	return result
}

func appendSorted(labels []promwrite.Label, m map[string]string) []promwrite.Label {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		labels = append(labels, promwrite.Label{Name: k, Value: m[k]})
	}
	return labels
}

// GetOutboundIPv4 gets the outbound IPv4 address of the local machine
func GetOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
