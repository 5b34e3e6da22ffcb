package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskcore/riskcore/internal/common/database"
	"github.com/riskcore/riskcore/internal/common/logger"
	"github.com/riskcore/riskcore/internal/common/middleware"
)

// ReputationConfig holds settings for the IP reputation client.
type ReputationConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	CacheTTL     time.Duration
	BatchWorkers int
	ForceMock    bool
}

// DefaultReputationConfig returns production defaults for the client.
func DefaultReputationConfig() ReputationConfig {
	return ReputationConfig{
		BaseURL:      "https://proxycheck.io/v2",
		Timeout:      5 * time.Second,
		CacheTTL:     10 * time.Minute,
		BatchWorkers: 8,
	}
}

// ReputationClient resolves IP reputation from a proxycheck-style provider.
// Lookups never fail from the caller's perspective: provider errors degrade
// to a deterministic mock record so the scoring pipeline keeps running.
type ReputationClient struct {
	cfg    ReputationConfig
	http   *http.Client
	redis  *database.RedisClient
	logger *zap.Logger
	perf   *logger.PerformanceLogger
}

// NewReputationClient creates a reputation client. redis may be nil, which
// disables lookup caching.
func NewReputationClient(cfg ReputationConfig, redis *database.RedisClient, log *zap.Logger) *ReputationClient {
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultReputationConfig().BatchWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReputationConfig().Timeout
	}
	componentLog := log.With(zap.String("component", "reputation"))
	return &ReputationClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		redis:  redis,
		logger: componentLog,
		perf:   logger.NewPerformanceLogger(componentLog),
	}
}

// mockMode reports whether live provider calls are disabled.
func (c *ReputationClient) mockMode() bool {
	return c.cfg.ForceMock || c.cfg.APIKey == ""
}

// CheckIP returns the reputation record for a single IP. Provider failures
// are logged and degrade to the mock record for that IP.
func (c *ReputationClient) CheckIP(ctx context.Context, ip string) *ReputationRecord {
	if rec := c.cacheGet(ctx, ip); rec != nil {
		middleware.ReputationLookupsTotal.WithLabelValues("cache", "success").Inc()
		return rec
	}

	rec, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Warn("Reputation lookup failed, using mock record",
			zap.String("ip", ip),
			zap.Error(err))
		middleware.ReputationLookupsTotal.WithLabelValues("live", "failure").Inc()
		rec = mockRecord(ip)
	}

	c.cacheSet(ctx, rec)
	return rec
}

// lookup performs one provider round trip, or builds a mock record when the
// client runs without an API key.
func (c *ReputationClient) lookup(ctx context.Context, ip string) (*ReputationRecord, error) {
	if c.mockMode() {
		middleware.ReputationLookupsTotal.WithLabelValues("mock", "success").Inc()
		return mockRecord(ip), nil
	}

	url := fmt.Sprintf("%s/%s?vpn=1&asn=1&risk=1&key=%s", c.cfg.BaseURL, ip, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	middleware.ReputationLookupDuration.WithLabelValues("live").Observe(duration.Seconds())

	if err != nil {
		c.perf.LogAPICall(c.cfg.BaseURL, http.MethodGet, 0, duration, err)
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	c.perf.LogAPICall(c.cfg.BaseURL, http.MethodGet, resp.StatusCode, duration, nil)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	if status, _ := payload["status"].(string); status != "" && status != "ok" && status != "warning" {
		return nil, fmt.Errorf("provider status %q", status)
	}

	entry, ok := payload[ip].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("provider response missing entry for %s", ip)
	}

	rec := normalizeRecord(ip, entry)
	rec.Raw = payload
	middleware.ReputationLookupsTotal.WithLabelValues("live", "success").Inc()
	return rec, nil
}

// CheckIPs resolves reputation for a batch of IPs concurrently. A failed
// lookup yields a neutral risk-50 placeholder for that IP rather than
// failing the batch.
func (c *ReputationClient) CheckIPs(ctx context.Context, ips []string) map[string]*ReputationRecord {
	results := make(map[string]*ReputationRecord, len(ips))
	if len(ips) == 0 {
		return results
	}

	start := time.Now()

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.BatchWorkers)
	failures := 0

	for _, ip := range ips {
		wg.Add(1)
		sem <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()

			if rec := c.cacheGet(ctx, ip); rec != nil {
				mu.Lock()
				results[ip] = rec
				mu.Unlock()
				return
			}

			rec, err := c.lookup(ctx, ip)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				results[ip] = placeholderRecord(ip)
				return
			}
			results[ip] = rec
			c.cacheSet(ctx, rec)
		}(ip)
	}

	wg.Wait()
	c.perf.LogBatchOperation("reputation_batch", len(ips), time.Since(start), len(ips)-failures, failures)
	return results
}

// cacheGet reads a cached record; cache misses and errors both return nil.
func (c *ReputationClient) cacheGet(ctx context.Context, ip string) *ReputationRecord {
	if c.redis == nil {
		return nil
	}

	start := time.Now()
	raw, err := c.redis.Client.Get(ctx, cacheKey(ip)).Result()
	hit := err == nil
	c.perf.LogCacheOperation("get", cacheKey(ip), hit, time.Since(start))
	if err != nil {
		return nil
	}

	var rec ReputationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil
	}
	return &rec
}

// cacheSet stores a record; cache errors are non-fatal.
func (c *ReputationClient) cacheSet(ctx context.Context, rec *ReputationRecord) {
	if c.redis == nil || rec == nil {
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}

	if err := c.redis.Client.Set(ctx, cacheKey(rec.IP), raw, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.Debug("Failed to cache reputation record",
			zap.String("ip", rec.IP),
			zap.Error(err))
	}
}

func cacheKey(ip string) string {
	return "ip_rep:" + ip
}

// normalizeRecord maps a raw provider entry onto a ReputationRecord.
func normalizeRecord(ip string, entry map[string]interface{}) *ReputationRecord {
	rec := &ReputationRecord{
		IP:           ip,
		Proxy:        stringField(entry, "proxy") == "yes",
		Type:         stringField(entry, "type"),
		Risk:         intField(entry, "risk"),
		Country:      stringField(entry, "country"),
		ISOCode:      stringField(entry, "isocode"),
		Region:       stringField(entry, "region"),
		City:         stringField(entry, "city"),
		Continent:    stringField(entry, "continent"),
		Provider:     stringField(entry, "provider"),
		Organisation: stringField(entry, "organisation"),
		TimeZone:     stringField(entry, "timezone"),
		Currency:     stringField(entry, "currency"),
	}

	switch asn := entry["asn"].(type) {
	case string:
		rec.ASN = asn
	case float64:
		rec.ASN = fmt.Sprintf("AS%d", int(asn))
	}

	return rec
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

// mockRecord builds the deterministic record used without a provider.
// Private and loopback addresses map to a near-zero-risk residential
// profile; everything else maps to a generic low-risk US ISP.
func mockRecord(ip string) *ReputationRecord {
	if isPrivateIP(ip) {
		return &ReputationRecord{
			IP:       ip,
			Proxy:    false,
			Type:     "Residential",
			Risk:     1,
			Country:  "Private",
			ISOCode:  "XX",
			Provider: "Private Network",
			Mock:     true,
		}
	}

	return &ReputationRecord{
		IP:       ip,
		Proxy:    false,
		Type:     "Residential",
		Risk:     5,
		Country:  "United States",
		ISOCode:  "US",
		Provider: "Generic ISP",
		ASN:      "AS12345",
		Mock:     true,
	}
}

// placeholderRecord is the neutral record for a failed batch lookup.
func placeholderRecord(ip string) *ReputationRecord {
	return &ReputationRecord{
		IP:       ip,
		Type:     "Unknown",
		Risk:     50,
		Provider: "lookup failed",
	}
}

// isPrivateIP reports whether the IP is private, loopback, or link-local.
// Unparseable addresses are treated as non-private.
func isPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast()
}
