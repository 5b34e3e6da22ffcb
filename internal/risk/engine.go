package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
	"github.com/riskcore/riskcore/internal/common/logger"
	"github.com/riskcore/riskcore/internal/common/middleware"
)

// Default scoring thresholds. Score at or above allow passes, at or above
// review goes to manual review, below that is denied.
const (
	DefaultAllowThreshold  = 70
	DefaultReviewThreshold = 30
)

// patternLookback is how far back access history feeds the behavioral
// baseline.
const patternLookback = 30 * 24 * time.Hour

// Countries whose traffic starts with a penalty. ISO 3166-1 alpha-2.
var defaultHighRiskCountries = map[string]bool{
	"CN": true,
	"RU": true,
	"KP": true,
	"IR": true,
}

// EngineConfig holds the tunable parameters of the risk engine. The
// Travel, Hardware, and Browser sections configure the corresponding
// validators; zero values mean "use the defaults".
type EngineConfig struct {
	AllowThreshold    int
	ReviewThreshold   int
	HighRiskCountries map[string]bool
	APIVersion        string
	Travel            TravelConfig
	Hardware          HardwareConfig
	Browser           BrowserConfig
}

// Validate enforces threshold ordering and checks any validator config
// that has been set. Zero-valued validator sections are skipped; they
// stand for the defaults NewEngine fills in.
func (c EngineConfig) Validate() error {
	if c.ReviewThreshold < 0 || c.AllowThreshold > 100 || c.ReviewThreshold >= c.AllowThreshold {
		return commonerrors.ValidationError(
			fmt.Sprintf("risk thresholds must satisfy 0 <= review (%d) < allow (%d) <= 100",
				c.ReviewThreshold, c.AllowThreshold))
	}
	if c.Travel != (TravelConfig{}) {
		if err := c.Travel.Validate(); err != nil {
			return err
		}
	}
	if c.Hardware != (HardwareConfig{}) {
		if err := c.Hardware.Validate(); err != nil {
			return err
		}
	}
	if len(c.Browser.DenyPatterns) > 0 {
		if err := c.Browser.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultEngineConfig returns the standard engine parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AllowThreshold:    DefaultAllowThreshold,
		ReviewThreshold:   DefaultReviewThreshold,
		HighRiskCountries: defaultHighRiskCountries,
		APIVersion:        "v1",
		Travel:            DefaultTravelConfig(),
		Hardware:          DefaultHardwareConfig(),
		Browser:           DefaultBrowserConfig(),
	}
}

// reputationLookup resolves IP reputation. Implementations never fail; they
// degrade to mock data instead.
type reputationLookup interface {
	CheckIP(ctx context.Context, ip string) *ReputationRecord
}

// deviceRegistry is the device create-or-fetch surface the engine needs.
type deviceRegistry interface {
	Register(ctx context.Context, userID, fingerprint string) (*Device, bool, error)
}

// accessHistory is the access log surface the engine needs.
type accessHistory interface {
	Record(ctx context.Context, access *DeviceAccess) error
	ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]DeviceAccess, error)
	LatestWithLocationByUser(ctx context.Context, userID string) (*DeviceAccess, error)
}

// assessmentWriter persists completed assessments.
type assessmentWriter interface {
	Insert(ctx context.Context, assessment *Assessment) error
}

// Engine orchestrates reputation, device, travel, pattern, hardware, and
// browser signals into one scored, persisted assessment. It never returns
// an error to its caller: any internal failure degrades to a conservative
// fallback assessment.
type Engine struct {
	cfg         EngineConfig
	reputation  reputationLookup
	devices     deviceRegistry
	accesses    accessHistory
	assessments assessmentWriter
	travel      *TravelDetector
	pattern     *PatternAnalyzer
	hardware    *HardwareValidator
	browser     *BrowserValidator
	logger      *zap.Logger
	audit       *logger.AuditLogger
	perf        *logger.PerformanceLogger
}

// NewEngine creates a risk engine.
func NewEngine(
	cfg EngineConfig,
	reputation reputationLookup,
	devices deviceRegistry,
	accesses accessHistory,
	assessments assessmentWriter,
	log *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HighRiskCountries == nil {
		cfg.HighRiskCountries = defaultHighRiskCountries
	}
	if cfg.Travel == (TravelConfig{}) {
		cfg.Travel = DefaultTravelConfig()
	}
	if cfg.Hardware == (HardwareConfig{}) {
		cfg.Hardware = DefaultHardwareConfig()
	}
	if len(cfg.Browser.DenyPatterns) == 0 {
		cfg.Browser = DefaultBrowserConfig()
	}

	componentLog := log.With(zap.String("component", "risk_engine"))
	return &Engine{
		cfg:         cfg,
		reputation:  reputation,
		devices:     devices,
		accesses:    accesses,
		assessments: assessments,
		travel:      NewTravelDetector(cfg.Travel),
		pattern:     NewPatternAnalyzer(),
		hardware:    NewHardwareValidator(cfg.Hardware),
		browser:     NewBrowserValidator(cfg.Browser),
		logger:      componentLog,
		audit:       logger.NewAuditLogger(componentLog),
		perf:        logger.NewPerformanceLogger(componentLog),
	}, nil
}

// Assess scores one verify request. It always returns a usable assessment;
// on internal failure the caller receives the fixed fallback (score 50,
// REVIEW) instead of an error.
func (e *Engine) Assess(ctx context.Context, req *VerifyRequest) *Assessment {
	start := time.Now()
	requestID := newRequestID()
	timer := e.perf.StartTimer("risk_assessment",
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID))

	assessment, err := e.assess(ctx, req, requestID, start)
	if err != nil {
		timer.StopWithError(err)
		e.logger.Error("Risk assessment failed, returning fallback",
			zap.String("request_id", requestID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		middleware.AssessmentsTotal.WithLabelValues(string(LevelReview), "true").Inc()
		return e.fallbackAssessment(req, requestID, start)
	}
	timer.Stop()

	middleware.AssessmentsTotal.WithLabelValues(string(assessment.RiskLevel), "false").Inc()
	middleware.RiskScoreHistogram.WithLabelValues(string(assessment.RiskLevel)).
		Observe(float64(assessment.ConfidenceScore))

	e.audit.LogAssessmentDecision(req.UserID, requestID, string(assessment.RiskLevel),
		req.IPAddress, req.UserAgent, assessment.ConfidenceScore)

	return assessment
}

// assess runs the full pipeline. Returning an error from anywhere here
// selects the fallback path in Assess.
func (e *Engine) assess(ctx context.Context, req *VerifyRequest, requestID string, start time.Time) (*Assessment, error) {
	rep := e.reputation.CheckIP(ctx, req.IPAddress)

	baseScore := e.ipScore(rep)
	score := baseScore
	override := false

	ipFactor := RiskFactor{
		Name:        "ip_reputation",
		Score:       baseScore,
		Weight:      1.0,
		Description: formatIPDetails(rep),
		RawData:     rep.Raw,
	}
	factors := []RiskFactor{ipFactor}

	advanced := req.SessionData != nil && req.SessionData.DeviceFingerprint != ""
	if advanced {
		advFactors, adjustment, advOverride := e.runAdvancedChecks(ctx, req, rep)
		factors = append(factors, advFactors...)
		score = clampScore(score + adjustment)
		override = override || advOverride
	}

	if advanced {
		reweightFactors(factors)
	}

	level := e.riskLevel(score)
	if override {
		level = LevelDeny
	}

	assessment := &Assessment{
		RequestID:         requestID,
		UserID:            req.UserID,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		ActionType:        req.ActionType,
		TransactionAmount: req.TransactionAmount,
		ConfidenceScore:   score,
		RiskLevel:         level,
		Factors:           factors,
		Recommendations:   e.recommendations(rep, level, req.ActionType, factors),
		ProcessingTimeMS:  time.Since(start).Milliseconds(),
		APIVersion:        e.cfg.APIVersion,
		ProviderResponse:  rep.Raw,
		SessionSnapshot:   req.SessionData,
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.assessments.Insert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("persist assessment: %w", err)
	}

	return assessment, nil
}

// ipScore computes the base confidence score from the reputation record.
func (e *Engine) ipScore(rep *ReputationRecord) int {
	score := 100 - rep.Risk

	if rep.Proxy {
		score -= 30
	}

	switch strings.ToLower(rep.Type) {
	case "hosting", "datacenter":
		score -= 20
	case "mobile":
		score -= 5
	case "residential":
		score += 5
	}

	if e.cfg.HighRiskCountries[strings.ToUpper(rep.ISOCode)] {
		score -= 15
	}

	return clampScore(score)
}

// riskLevel is the pure threshold mapping, before any override.
func (e *Engine) riskLevel(score int) RiskLevel {
	switch {
	case score >= e.cfg.AllowThreshold:
		return LevelAllow
	case score >= e.cfg.ReviewThreshold:
		return LevelReview
	default:
		return LevelDeny
	}
}

// runAdvancedChecks executes the device, travel, pattern, hardware, and
// browser analyses. Failures inside any single analysis are recorded as a
// low-severity factor and never abort the assessment; the base IP score
// still stands on its own.
func (e *Engine) runAdvancedChecks(ctx context.Context, req *VerifyRequest, rep *ReputationRecord) ([]RiskFactor, int, bool) {
	factors := []RiskFactor{}
	adjustment := 0
	override := false
	session := req.SessionData

	at := time.Now().UTC()
	if session.Timestamp != nil {
		at = session.Timestamp.UTC()
	}

	device, created, err := e.devices.Register(ctx, req.UserID, session.DeviceFingerprint)
	if err != nil {
		e.logger.Warn("Device registration failed during assessment",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		factors = append(factors, advancedErrorFactor("device registration unavailable"))
		return factors, adjustment, override
	}

	trustScore := 40
	if device.IsTrusted {
		trustScore = 80
	}
	factors = append(factors, RiskFactor{
		Name:        "device_trust",
		Score:       trustScore,
		Description: fmt.Sprintf("Device %s, trusted=%t", device.ID, device.IsTrusted),
	})

	if created {
		adjustment -= 20
		factors = append(factors, RiskFactor{
			Name:        "new_device",
			Score:       20,
			Description: "First access from this device fingerprint",
		})
	}

	previous, err := e.accesses.LatestWithLocationByUser(ctx, req.UserID)
	if err != nil {
		e.logger.Warn("Access history lookup failed during assessment",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		factors = append(factors, advancedErrorFactor("access history unavailable"))
		previous = nil
	}

	if session.Location != nil {
		verdict := e.travel.Evaluate(previous, session.Location, at)
		switch verdict.Level {
		case LevelDeny:
			adjustment -= 40
			override = true
			factors = append(factors, RiskFactor{
				Name:        "impossible_travel",
				Score:       40,
				Description: verdict.Reason,
			})
		case LevelReview:
			adjustment -= 15
			factors = append(factors, RiskFactor{
				Name:        "suspicious_travel",
				Score:       15,
				Description: verdict.Reason,
			})
		}
	}

	history, err := e.accesses.ListByUser(ctx, req.UserID, at.Add(-patternLookback), 500)
	if err != nil {
		e.logger.Warn("Pattern history lookup failed during assessment",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		factors = append(factors, advancedErrorFactor("pattern history unavailable"))
	} else {
		stats := e.pattern.BuildStats(history)

		anomaly := e.pattern.TemporalAnomaly(stats, at.Hour(), int(at.Weekday()))
		if anomaly > 0.7 {
			adjustment -= 15
			factors = append(factors, RiskFactor{
				Name:        "temporal_anomaly",
				Score:       15,
				Description: fmt.Sprintf("Access time unusual for this user (anomaly %.2f)", anomaly),
			})
		}

		asn := session.ASN
		if asn == "" {
			asn = rep.ASN
		}
		if e.pattern.IsNewASN(stats, asn) {
			factors = append(factors, RiskFactor{
				Name:        "asn_change",
				Score:       0,
				Description: fmt.Sprintf("Network changed to %s, not seen in recent history", asn),
			})
		}
	}

	hwResult := e.hardware.Validate(session.Hardware)
	if !hwResult.Valid {
		adjustment -= 25
		factors = append(factors, RiskFactor{
			Name:        "hardware_check",
			Score:       25,
			Description: summarizeFindings(hwResult.Findings),
		})
	}

	browserResult := e.browser.ValidateUserAgent(req.UserAgent)
	if !browserResult.Legitimate {
		adjustment -= 30
		if browserResult.Automation {
			override = true
		}
		factors = append(factors, RiskFactor{
			Name:        "browser_check",
			Score:       30,
			Description: summarizeFindings(browserResult.Findings),
		})
	}

	if session.Browser != nil {
		envResult := e.browser.ValidateEnvironment(session.Browser)
		if envResult.Automation {
			// A webdriver flag or framework artifact in the runtime is as
			// conclusive as an automation user agent.
			override = true
		}
		if !envResult.Real {
			adjustment -= 20
			factors = append(factors, RiskFactor{
				Name:        "browser_environment",
				Score:       20,
				Description: summarizeFindings(envResult.Findings),
			})
		}
	}

	access := &DeviceAccess{
		DeviceID:    device.ID,
		AccessedAt:  at,
		IPAddress:   req.IPAddress,
		Location:    session.Location,
		ASN:         firstNonEmpty(session.ASN, rep.ASN),
		RiskFactors: factorMap(factors),
		Hardware:    session.Hardware,
		Browser:     session.Browser,
	}
	if err := e.accesses.Record(ctx, access); err != nil {
		// Duplicate composite keys and transient write failures must not
		// void the score that was already computed.
		e.logger.Warn("Failed to record device access",
			zap.String("device_id", device.ID),
			zap.Error(err))
		factors = append(factors, advancedErrorFactor("access log write failed"))
	}

	return factors, adjustment, override
}

// recommendations builds the action list for a decision.
func (e *Engine) recommendations(rep *ReputationRecord, level RiskLevel, actionType string, factors []RiskFactor) []Recommendation {
	if actionType == "" {
		actionType = "request"
	}

	recs := []Recommendation{}
	switch level {
	case LevelAllow:
		recs = append(recs, Recommendation{
			Action:   "allow_with_standard_monitoring",
			Priority: PriorityLow,
			Message:  fmt.Sprintf("%s approved - good IP reputation", titleCase(actionType)),
		})
	case LevelReview:
		if rep.Proxy {
			recs = append(recs,
				Recommendation{
					Action:   "require_additional_verification",
					Priority: PriorityMedium,
					Message:  fmt.Sprintf("Proxy/VPN detected - require additional verification for %s", actionType),
				},
				Recommendation{
					Action:   "enable_enhanced_monitoring",
					Priority: PriorityMedium,
					Message:  "Enable enhanced monitoring for this session",
				})
		} else {
			recs = append(recs, Recommendation{
				Action:   "step_up_authentication",
				Priority: PriorityMedium,
				Message:  fmt.Sprintf("Medium risk detected - consider step-up authentication for %s", actionType),
			})
		}
	case LevelDeny:
		recs = append(recs,
			Recommendation{
				Action:   "block_transaction",
				Priority: PriorityHigh,
				Message:  fmt.Sprintf("High risk detected - block %s attempt", actionType),
			},
			Recommendation{
				Action:   "alert_security_team",
				Priority: PriorityHigh,
				Message:  "Alert security team for manual review",
			},
			Recommendation{
				Action:   "log_for_investigation",
				Priority: PriorityHigh,
				Message:  "Log for security investigation",
			})
	}

	for _, f := range factors {
		switch f.Name {
		case "new_device":
			recs = append(recs, Recommendation{
				Action:   "verify_device_ownership",
				Priority: PriorityMedium,
				Message:  "Advanced security measure: confirm the new device belongs to the user",
			})
		case "impossible_travel":
			recs = append(recs, Recommendation{
				Action:   "verify_location_change",
				Priority: PriorityMedium,
				Message:  "Advanced security measure: confirm the reported location change",
			})
		case "browser_check", "browser_environment":
			recs = append(recs, Recommendation{
				Action:   "challenge_automation",
				Priority: PriorityMedium,
				Message:  "Advanced security measure: present an interactive challenge",
			})
		}
	}

	return recs
}

// fallbackAssessment is the fixed response returned when anything inside
// the pipeline fails. Conservative middle ground: manual review, never an
// outright allow or deny.
func (e *Engine) fallbackAssessment(req *VerifyRequest, requestID string, start time.Time) *Assessment {
	return &Assessment{
		RequestID:       requestID,
		UserID:          req.UserID,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
		ActionType:      req.ActionType,
		ConfidenceScore: 50,
		RiskLevel:       LevelReview,
		Factors: []RiskFactor{{
			Name:        "system_error",
			Score:       50,
			Weight:      1.0,
			Description: "Risk assessment service temporarily unavailable - using fallback scoring",
			RawData:     map[string]interface{}{"error": "service_unavailable"},
		}},
		Recommendations: []Recommendation{{
			Action:   "manual_review_required",
			Priority: PriorityMedium,
			Message:  "Manual review required due to service unavailability",
		}},
		Fallback:         true,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		APIVersion:       e.cfg.APIVersion,
		CreatedAt:        time.Now().UTC(),
	}
}

// reweightFactors rebalances the descriptive weight metadata once advanced
// factors are present: the IP factor carries 0.6 and the rest share 0.4
// evenly. The numeric score is additive and never uses these weights.
func reweightFactors(factors []RiskFactor) {
	if len(factors) < 2 {
		return
	}

	share := 0.4 / float64(len(factors)-1)
	for i := range factors {
		if factors[i].Name == "ip_reputation" {
			factors[i].Weight = 0.6
		} else {
			factors[i].Weight = share
		}
	}
}

// formatIPDetails renders the human-readable reputation summary.
func formatIPDetails(rep *ReputationRecord) string {
	country := firstNonEmpty(rep.Country, "unknown")
	provider := firstNonEmpty(rep.Provider, "unknown")
	connType := firstNonEmpty(rep.Type, "unknown")

	if rep.Proxy {
		return fmt.Sprintf("Proxy/VPN detected from %s via %s (Risk: %d)", country, provider, rep.Risk)
	}
	switch strings.ToLower(connType) {
	case "hosting", "datacenter":
		return fmt.Sprintf("Hosting/Datacenter connection from %s via %s (Risk: %d)", country, provider, rep.Risk)
	default:
		return fmt.Sprintf("Clean IP with %s connection from %s via %s (Risk: %d)", connType, country, provider, rep.Risk)
	}
}

// summarizeFindings joins finding details into one factor description.
func summarizeFindings(findings []Finding) string {
	if len(findings) == 0 {
		return "no findings"
	}
	details := make([]string, 0, len(findings))
	for _, f := range findings {
		details = append(details, f.Detail)
	}
	return strings.Join(details, "; ")
}

func advancedErrorFactor(detail string) RiskFactor {
	return RiskFactor{
		Name:        "advanced_analysis_error",
		Score:       0,
		Description: detail,
	}
}

// factorMap flattens factors into the shape stored on the access row.
func factorMap(factors []RiskFactor) map[string]interface{} {
	m := make(map[string]interface{}, len(factors))
	for _, f := range factors {
		m[f.Name] = f.Score
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
