package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeReputation serves fixed records keyed by IP, falling back to a clean
// residential profile.
type fakeReputation struct {
	records map[string]*ReputationRecord
}

func (f *fakeReputation) CheckIP(ctx context.Context, ip string) *ReputationRecord {
	if rec, ok := f.records[ip]; ok {
		return rec
	}
	return &ReputationRecord{IP: ip, Type: "Residential", Risk: 5, Country: "United States", ISOCode: "US", Provider: "Generic ISP"}
}

type fakeDevices struct {
	device  *Device
	created bool
	err     error
}

func (f *fakeDevices) Register(ctx context.Context, userID, fingerprint string) (*Device, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.device == nil {
		f.device = &Device{ID: "dev-1", UserID: userID, Fingerprint: fingerprint}
	}
	return f.device, f.created, nil
}

type fakeAccesses struct {
	history   []DeviceAccess
	latest    *DeviceAccess
	recorded  []*DeviceAccess
	recordErr error
	listErr   error
}

func (f *fakeAccesses) Record(ctx context.Context, access *DeviceAccess) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, access)
	return nil
}

func (f *fakeAccesses) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]DeviceAccess, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.history, nil
}

func (f *fakeAccesses) LatestWithLocationByUser(ctx context.Context, userID string) (*DeviceAccess, error) {
	return f.latest, nil
}

type fakeAssessments struct {
	inserted []*Assessment
	err      error
}

func (f *fakeAssessments) Insert(ctx context.Context, assessment *Assessment) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, assessment)
	return nil
}

func newTestEngine(t *testing.T, rep *fakeReputation, dev *fakeDevices, acc *fakeAccesses, store *fakeAssessments) *Engine {
	t.Helper()
	if rep == nil {
		rep = &fakeReputation{}
	}
	if dev == nil {
		dev = &fakeDevices{}
	}
	if acc == nil {
		acc = &fakeAccesses{}
	}
	if store == nil {
		store = &fakeAssessments{}
	}
	engine, err := NewEngine(DefaultEngineConfig(), rep, dev, acc, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return engine
}

func findFactor(t *testing.T, factors []RiskFactor, name string) RiskFactor {
	t.Helper()
	for _, f := range factors {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("factor %q not present in %v", name, factors)
	return RiskFactor{}
}

func hasFactor(factors []RiskFactor, name string) bool {
	for _, f := range factors {
		if f.Name == name {
			return true
		}
	}
	return false
}

func hasRecommendation(recs []Recommendation, action string) bool {
	for _, r := range recs {
		if r.Action == action {
			return true
		}
	}
	return false
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		allow   int
		review  int
		wantErr bool
	}{
		{"defaults", 70, 30, false},
		{"tight band", 31, 30, false},
		{"equal thresholds", 50, 50, true},
		{"inverted", 30, 70, true},
		{"negative review", 70, -1, true},
		{"allow above ceiling", 101, 30, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EngineConfig{AllowThreshold: tt.allow, ReviewThreshold: tt.review}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineConfig_ValidatesValidatorSections(t *testing.T) {
	base := func() EngineConfig {
		return EngineConfig{AllowThreshold: 70, ReviewThreshold: 30}
	}

	// Zero-valued sections stand for the defaults and pass.
	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Travel = TravelConfig{ReviewSpeedKmh: 2000, DenySpeedKmh: 1000}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Hardware = HardwareConfig{MinCPUCores: 0, MinDeviceMemoryGB: 4}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Browser = BrowserConfig{DenyPatterns: []string{""}}
	assert.Error(t, cfg.Validate())
}

func TestNewEngine_RejectsInvalidTravelConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Travel = TravelConfig{ReviewSpeedKmh: 1500, DenySpeedKmh: 1500}

	_, err := NewEngine(cfg, &fakeReputation{}, &fakeDevices{}, &fakeAccesses{}, &fakeAssessments{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestEngine_Assess_ConfiguredHardwareFloors(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Hardware = HardwareConfig{MinCPUCores: 16, MinDeviceMemoryGB: 32}
	engine, err := NewEngine(cfg, &fakeReputation{}, &fakeDevices{}, &fakeAccesses{}, &fakeAssessments{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// An 8-core, 16 GB profile passes the defaults but not these floors.
	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	assert.Equal(t, 75, assessment.ConfidenceScore)
	assert.True(t, hasFactor(assessment.Factors, "hardware_check"))
}

func TestEngine_IPScore(t *testing.T) {
	tests := []struct {
		name string
		rec  ReputationRecord
		want int
	}{
		{"clean residential", ReputationRecord{Risk: 5, Type: "Residential", ISOCode: "US"}, 100},
		{"clean unknown type", ReputationRecord{Risk: 10, Type: "Business", ISOCode: "DE"}, 90},
		{"proxy", ReputationRecord{Risk: 40, Proxy: true, Type: "VPN", ISOCode: "NL"}, 30},
		{"hosting", ReputationRecord{Risk: 20, Type: "Hosting", ISOCode: "US"}, 60},
		{"datacenter case insensitive", ReputationRecord{Risk: 20, Type: "DATACENTER", ISOCode: "US"}, 60},
		{"mobile", ReputationRecord{Risk: 10, Type: "Mobile", ISOCode: "US"}, 85},
		{"high risk country", ReputationRecord{Risk: 10, Type: "Residential", ISOCode: "CN"}, 80},
		{"lowercase iso code", ReputationRecord{Risk: 10, Type: "Residential", ISOCode: "ru"}, 80},
		{"floor", ReputationRecord{Risk: 95, Proxy: true, Type: "Hosting", ISOCode: "KP"}, 0},
	}

	engine := newTestEngine(t, nil, nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ipScore(&tt.rec))
		})
	}
}

func TestEngine_Assess_BasicAllow(t *testing.T) {
	store := &fakeAssessments{}
	engine := newTestEngine(t, nil, nil, nil, store)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:     "user-1",
		IPAddress:  "198.51.100.7",
		UserAgent:  chromeUserAgent,
		ActionType: "login",
	})

	require.NotNil(t, assessment)
	assert.Equal(t, 100, assessment.ConfidenceScore)
	assert.Equal(t, LevelAllow, assessment.RiskLevel)
	assert.False(t, assessment.Fallback)
	assert.NotEmpty(t, assessment.RequestID)

	// Without session data only the reputation factor exists, at full weight.
	require.Len(t, assessment.Factors, 1)
	assert.Equal(t, "ip_reputation", assessment.Factors[0].Name)
	assert.Equal(t, 1.0, assessment.Factors[0].Weight)

	require.Len(t, store.inserted, 1)
	assert.True(t, hasRecommendation(assessment.Recommendations, "allow_with_standard_monitoring"))
}

func TestEngine_Assess_ProxyReview(t *testing.T) {
	rep := &fakeReputation{records: map[string]*ReputationRecord{
		"203.0.113.5": {IP: "203.0.113.5", Proxy: true, Type: "VPN", Risk: 10, Country: "Netherlands", ISOCode: "NL", Provider: "ExampleVPN"},
	}}
	engine := newTestEngine(t, rep, nil, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:     "user-1",
		IPAddress:  "203.0.113.5",
		ActionType: "transaction",
	})

	assert.Equal(t, 60, assessment.ConfidenceScore)
	assert.Equal(t, LevelReview, assessment.RiskLevel)
	assert.Contains(t, assessment.Factors[0].Description, "Proxy/VPN detected from Netherlands")
	assert.True(t, hasRecommendation(assessment.Recommendations, "require_additional_verification"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "enable_enhanced_monitoring"))
}

func TestEngine_Assess_Deny(t *testing.T) {
	rep := &fakeReputation{records: map[string]*ReputationRecord{
		"203.0.113.6": {IP: "203.0.113.6", Proxy: true, Type: "Hosting", Risk: 80, ISOCode: "RU"},
	}}
	engine := newTestEngine(t, rep, nil, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "203.0.113.6",
	})

	assert.Equal(t, 0, assessment.ConfidenceScore)
	assert.Equal(t, LevelDeny, assessment.RiskLevel)
	assert.True(t, hasRecommendation(assessment.Recommendations, "block_transaction"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "alert_security_team"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "log_for_investigation"))
}

func TestEngine_Assess_PersistenceFailureFallsBack(t *testing.T) {
	store := &fakeAssessments{err: errors.New("connection refused")}
	engine := newTestEngine(t, nil, nil, nil, store)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
	})

	require.NotNil(t, assessment)
	assert.True(t, assessment.Fallback)
	assert.Equal(t, 50, assessment.ConfidenceScore)
	assert.Equal(t, LevelReview, assessment.RiskLevel)

	require.Len(t, assessment.Factors, 1)
	assert.Equal(t, "system_error", assessment.Factors[0].Name)
	assert.Equal(t, "service_unavailable", assessment.Factors[0].RawData["error"])

	require.Len(t, assessment.Recommendations, 1)
	assert.Equal(t, "manual_review_required", assessment.Recommendations[0].Action)
}

func TestEngine_Assess_NewDevicePenalty(t *testing.T) {
	dev := &fakeDevices{created: true}
	acc := &fakeAccesses{}
	engine := newTestEngine(t, nil, dev, acc, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	// Clean residential base 100 minus the new device penalty.
	assert.Equal(t, 80, assessment.ConfidenceScore)
	assert.Equal(t, LevelAllow, assessment.RiskLevel)
	assert.True(t, hasFactor(assessment.Factors, "new_device"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "verify_device_ownership"))

	// The access was logged against the registered device.
	require.Len(t, acc.recorded, 1)
	assert.Equal(t, "dev-1", acc.recorded[0].DeviceID)
}

func TestEngine_Assess_KnownTrustedDevice(t *testing.T) {
	dev := &fakeDevices{device: &Device{ID: "dev-9", UserID: "user-1", Fingerprint: "fp-abc", IsTrusted: true}}
	engine := newTestEngine(t, nil, dev, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	assert.Equal(t, 100, assessment.ConfidenceScore)
	trust := findFactor(t, assessment.Factors, "device_trust")
	assert.Equal(t, 80, trust.Score)
	assert.False(t, hasFactor(assessment.Factors, "new_device"))
}

func TestEngine_Assess_ImpossibleTravelOverride(t *testing.T) {
	now := time.Now().UTC()
	tenMinAgo := now.Add(-10 * time.Minute)
	acc := &fakeAccesses{
		latest: &DeviceAccess{
			DeviceID:   "dev-1",
			AccessedAt: tenMinAgo,
			Location:   &GeoPoint{Latitude: -23.5505, Longitude: -46.6333},
		},
	}
	engine := newTestEngine(t, nil, nil, acc, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Location:          &GeoPoint{Latitude: 35.6762, Longitude: 139.6503},
			Hardware:          plausibleHardware(),
			Timestamp:         &now,
		},
	})

	// Sao Paulo to Tokyo in ten minutes forces a deny regardless of score.
	assert.Equal(t, LevelDeny, assessment.RiskLevel)
	assert.True(t, hasFactor(assessment.Factors, "impossible_travel"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "verify_location_change"))
}

func TestEngine_Assess_AutomationOverride(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: "curl/7.68.0",
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	// 100 - 30 browser = 70 would still allow on score alone, but automation
	// forces the deny.
	assert.Equal(t, 70, assessment.ConfidenceScore)
	assert.Equal(t, LevelDeny, assessment.RiskLevel)
	assert.True(t, hasFactor(assessment.Factors, "browser_check"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "challenge_automation"))
}

func TestEngine_Assess_WebdriverEnvironmentOverride(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil, nil)

	env := realBrowserEnvironment()
	env.Webdriver = boolPtr(true)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
			Browser:           env,
		},
	})

	// 100 - 20 environment = 80 would allow on score alone, but the
	// webdriver flag forces the deny just like an automation user agent.
	assert.Equal(t, 80, assessment.ConfidenceScore)
	assert.Equal(t, LevelDeny, assessment.RiskLevel)
	assert.True(t, hasFactor(assessment.Factors, "browser_environment"))
	assert.True(t, hasRecommendation(assessment.Recommendations, "challenge_automation"))
}

func TestEngine_Assess_EnvironmentArtifactsOverride(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil, nil)

	env := realBrowserEnvironment()
	env.Selenium = true

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
			Browser:           env,
		},
	})

	assert.Equal(t, LevelDeny, assessment.RiskLevel)
	assert.True(t, hasFactor(assessment.Factors, "browser_environment"))
}

func TestEngine_Assess_InvalidHardwarePenalty(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil, nil)

	hw := plausibleHardware()
	hw.CPUCores = intPtr(1)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          hw,
		},
	})

	assert.Equal(t, 75, assessment.ConfidenceScore)
	assert.True(t, hasFactor(assessment.Factors, "hardware_check"))
}

func TestEngine_Assess_TemporalAnomalyPenalty(t *testing.T) {
	// History concentrated at 09:00 Mondays makes a 03:00 Saturday access
	// maximally anomalous.
	history := make([]DeviceAccess, 0, 10)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // a Monday
	for i := 0; i < 10; i++ {
		history = append(history, DeviceAccess{
			DeviceID:   "dev-1",
			AccessedAt: base.AddDate(0, 0, -7*i),
		})
	}
	acc := &fakeAccesses{history: history}
	engine := newTestEngine(t, nil, nil, acc, nil)

	at := time.Date(2025, 6, 7, 3, 0, 0, 0, time.UTC) // a Saturday
	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
			Timestamp:         &at,
		},
	})

	assert.Equal(t, 85, assessment.ConfidenceScore)
	assert.True(t, hasFactor(assessment.Factors, "temporal_anomaly"))
}

func TestEngine_Assess_ASNChangeInformational(t *testing.T) {
	history := []DeviceAccess{
		{DeviceID: "dev-1", AccessedAt: time.Now().Add(-24 * time.Hour), ASN: "AS100"},
		{DeviceID: "dev-1", AccessedAt: time.Now().Add(-48 * time.Hour), ASN: "AS100"},
	}
	acc := &fakeAccesses{history: history}
	engine := newTestEngine(t, nil, nil, acc, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
			ASN:               "AS999",
		},
	})

	// A changed network is flagged but carries no score penalty.
	assert.Equal(t, 100, assessment.ConfidenceScore)
	change := findFactor(t, assessment.Factors, "asn_change")
	assert.Equal(t, 0, change.Score)
}

func TestEngine_Assess_DeviceRegistrationFailureDegrades(t *testing.T) {
	dev := &fakeDevices{err: errors.New("database unavailable")}
	store := &fakeAssessments{}
	engine := newTestEngine(t, nil, dev, nil, store)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	// The base IP score stands on its own; the failed analysis is noted.
	assert.False(t, assessment.Fallback)
	assert.Equal(t, 100, assessment.ConfidenceScore)
	assert.True(t, hasFactor(assessment.Factors, "advanced_analysis_error"))
	require.Len(t, store.inserted, 1)
}

func TestEngine_Assess_AccessRecordFailureKeepsScore(t *testing.T) {
	acc := &fakeAccesses{recordErr: errors.New("duplicate key")}
	engine := newTestEngine(t, nil, nil, acc, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	assert.False(t, assessment.Fallback)
	assert.Equal(t, 100, assessment.ConfidenceScore)
	assert.True(t, hasFactor(assessment.Factors, "advanced_analysis_error"))
}

func TestEngine_Assess_ReweightsFactors(t *testing.T) {
	dev := &fakeDevices{created: true}
	engine := newTestEngine(t, nil, dev, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "198.51.100.7",
		UserAgent: chromeUserAgent,
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
			Hardware:          plausibleHardware(),
		},
	})

	ip := findFactor(t, assessment.Factors, "ip_reputation")
	assert.Equal(t, 0.6, ip.Weight)

	share := 0.4 / float64(len(assessment.Factors)-1)
	for _, f := range assessment.Factors {
		if f.Name != "ip_reputation" {
			assert.InDelta(t, share, f.Weight, 1e-9)
		}
	}
}

func TestEngine_Assess_ClampsAtZero(t *testing.T) {
	rep := &fakeReputation{records: map[string]*ReputationRecord{
		"203.0.113.20": {IP: "203.0.113.20", Proxy: true, Type: "Hosting", Risk: 70, ISOCode: "CN"},
	}}
	dev := &fakeDevices{created: true}
	engine := newTestEngine(t, rep, dev, nil, nil)

	assessment := engine.Assess(context.Background(), &VerifyRequest{
		UserID:    "user-1",
		IPAddress: "203.0.113.20",
		UserAgent: "curl/7.68.0",
		SessionData: &SessionData{
			DeviceFingerprint: "fp-abc",
		},
	})

	assert.Equal(t, 0, assessment.ConfidenceScore)
	assert.Equal(t, LevelDeny, assessment.RiskLevel)
}

func TestEngine_RiskLevelThresholds(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil, nil)

	tests := []struct {
		score int
		want  RiskLevel
	}{
		{100, LevelAllow},
		{70, LevelAllow},
		{69, LevelReview},
		{30, LevelReview},
		{29, LevelDeny},
		{0, LevelDeny},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.riskLevel(tt.score), "score %d", tt.score)
	}
}
