// Package risk implements fraud-risk scoring for identity verification
// requests: IP reputation lookups, device registration and access history,
// behavioral pattern analysis, travel feasibility, and hardware/browser
// plausibility checks, combined into a single confidence score.
package risk

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
)

// RiskLevel is the decision tier for an assessment.
type RiskLevel string

const (
	LevelAllow  RiskLevel = "ALLOW"
	LevelReview RiskLevel = "REVIEW"
	LevelDeny   RiskLevel = "DENY"
)

// ReputationRecord is the normalized result of an IP reputation lookup.
type ReputationRecord struct {
	IP           string                 `json:"ip"`
	Proxy        bool                   `json:"proxy"`
	Type         string                 `json:"type"` // Residential, Hosting, VPN, Mobile, ...
	Risk         int                    `json:"risk"` // provider risk 0-100
	Country      string                 `json:"country"`
	ISOCode      string                 `json:"isocode"`
	Region       string                 `json:"region,omitempty"`
	City         string                 `json:"city,omitempty"`
	Continent    string                 `json:"continent,omitempty"`
	Provider     string                 `json:"provider"`
	Organisation string                 `json:"organisation,omitempty"`
	ASN          string                 `json:"asn,omitempty"`
	TimeZone     string                 `json:"time_zone,omitempty"`
	Currency     string                 `json:"currency,omitempty"`
	Mock         bool                   `json:"mock"`
	Raw          map[string]interface{} `json:"-"`
}

// Device is a registered (user, fingerprint) pair.
type Device struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"device_fingerprint"`
	IsTrusted   bool      `json:"is_trusted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GeoPoint is a located coordinate attached to an access record.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// DeviceAccess is one append-only access record for a device. The
// (DeviceID, AccessedAt) pair is the record's identity.
type DeviceAccess struct {
	DeviceID    string                 `json:"device_id"`
	AccessedAt  time.Time              `json:"accessed_at"`
	IPAddress   string                 `json:"ip_address"`
	Location    *GeoPoint              `json:"location_data,omitempty"`
	ASN         string                 `json:"asn,omitempty"`
	RiskFactors map[string]interface{} `json:"risk_factors,omitempty"`
	Hardware    *HardwareInfo          `json:"hardware_info,omitempty"`
	Browser     *BrowserEnvironment    `json:"browser_info,omitempty"`
}

// AccessStats aggregates a device's access history for pattern analysis.
type AccessStats struct {
	Total         int            `json:"total"`
	HourCounts    map[int]int    `json:"hour_counts"`    // hour of day (0-23) -> count
	DayCounts     map[int]int    `json:"weekday_counts"` // weekday (0=Sunday) -> count
	CountryCounts map[string]int `json:"country_counts"` // ISO country -> count
	IPCounts      map[string]int `json:"ip_counts"`      // source IP -> count
	DistinctASNs  []string       `json:"distinct_asns"`
}

// HardwareInfo is the client-reported hardware profile. Pointer fields
// distinguish absent values from zero values.
type HardwareInfo struct {
	CPUCores         *int     `json:"cpu_cores,omitempty"`
	DeviceMemory     *float64 `json:"device_memory,omitempty"` // GB
	ScreenResolution string   `json:"screen_resolution,omitempty"`
	Platform         string   `json:"platform,omitempty"`
	TimezoneOffset   *int     `json:"timezone_offset,omitempty"` // minutes from UTC
	Language         string   `json:"language,omitempty"`
}

// BrowserEnvironment is the client-reported browser fingerprint surface.
type BrowserEnvironment struct {
	Plugins     []string `json:"plugins,omitempty"`
	WebGL       *bool    `json:"webgl,omitempty"`
	Canvas      *bool    `json:"canvas,omitempty"`
	ScreenDepth *int     `json:"screen_depth,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Webdriver   *bool    `json:"webdriver,omitempty"`
	Phantom     bool     `json:"_phantom,omitempty"`
	Selenium    bool     `json:"_selenium,omitempty"`
	WebdriverFn bool     `json:"__webdriver_script_fn,omitempty"`
}

// SessionData carries the optional client-side signals on a verify request.
// When present, the engine runs the device, travel, pattern, and
// plausibility analyses in addition to the IP reputation check.
type SessionData struct {
	DeviceFingerprint string              `json:"device_fingerprint,omitempty"`
	Location          *GeoPoint           `json:"location,omitempty"`
	Hardware          *HardwareInfo       `json:"hardware_info,omitempty"`
	Browser           *BrowserEnvironment `json:"browser_info,omitempty"`
	ASN               string              `json:"asn,omitempty"`
	Timestamp         *time.Time          `json:"timestamp,omitempty"`
}

// VerifyRequest is the input to a risk assessment.
type VerifyRequest struct {
	UserID            string       `json:"user_id" binding:"required"`
	IPAddress         string       `json:"ip_address" binding:"required"`
	UserAgent         string       `json:"user_agent"`
	ActionType        string       `json:"action_type"`
	TransactionAmount float64      `json:"transaction_amount,omitempty"`
	SessionData       *SessionData `json:"session_data,omitempty"`
}

// Action types a verify request may carry. An empty action type is
// accepted and scored as a generic request.
var validActionTypes = map[string]bool{
	"login":            true,
	"checkout":         true,
	"sensitive_action": true,
}

// Validate checks field contents beyond the JSON binding: the IP must
// parse, the action type must be known, the amount must not be negative,
// and any session coordinates must be on the globe.
func (r *VerifyRequest) Validate() error {
	if net.ParseIP(r.IPAddress) == nil {
		return commonerrors.ValidationError(
			fmt.Sprintf("ip_address %q is not a valid IPv4 or IPv6 address", r.IPAddress))
	}
	if r.ActionType != "" && !validActionTypes[r.ActionType] {
		return commonerrors.ValidationError(
			fmt.Sprintf("action_type %q must be one of login, checkout, sensitive_action", r.ActionType))
	}
	if r.TransactionAmount < 0 {
		return commonerrors.ValidationError("transaction_amount must not be negative")
	}
	if r.SessionData != nil && r.SessionData.Location != nil {
		loc := r.SessionData.Location
		if loc.Latitude < -90 || loc.Latitude > 90 {
			return commonerrors.ValidationError(
				fmt.Sprintf("latitude %.4f is outside the valid range -90..90", loc.Latitude))
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			return commonerrors.ValidationError(
				fmt.Sprintf("longitude %.4f is outside the valid range -180..180", loc.Longitude))
		}
	}
	return nil
}

// RiskFactor is one named contribution to an assessment. Weight is
// descriptive metadata for consumers; the confidence score is additive and
// never multiplies factor weights.
type RiskFactor struct {
	Name        string                 `json:"factor"`
	Score       int                    `json:"score"`
	Weight      float64                `json:"weight"`
	Description string                 `json:"details"`
	RawData     map[string]interface{} `json:"raw_data,omitempty"`
}

// Recommendation priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Recommendation is one suggested action for the caller, ordered by the
// engine from most to least important.
type Recommendation struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// Assessment is the result of a verify request.
type Assessment struct {
	RequestID         string                 `json:"request_id"`
	UserID            string                 `json:"user_id"`
	IPAddress         string                 `json:"ip_address"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	ActionType        string                 `json:"action_type,omitempty"`
	TransactionAmount float64                `json:"transaction_amount,omitempty"`
	ConfidenceScore   int                    `json:"confidence_score"`
	RiskLevel         RiskLevel              `json:"risk_level"`
	Factors           []RiskFactor           `json:"risk_factors"`
	Recommendations   []Recommendation       `json:"recommendations"`
	Fallback          bool                   `json:"fallback,omitempty"`
	ProcessingTimeMS  int64                  `json:"processing_time_ms"`
	APIVersion        string                 `json:"api_version"`
	ProviderResponse  map[string]interface{} `json:"-"`
	SessionSnapshot   *SessionData           `json:"-"`
	CreatedAt         time.Time              `json:"created_at"`
}

// newRequestID produces a short correlation id for an assessment.
func newRequestID() string {
	id := uuid.New()
	hex := make([]byte, 0, 12)
	const digits = "0123456789abcdef"
	for _, b := range id[:6] {
		hex = append(hex, digits[b>>4], digits[b&0x0f])
	}
	return "req_" + string(hex)
}

// clampScore bounds a confidence score to the 0-100 scale.
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
