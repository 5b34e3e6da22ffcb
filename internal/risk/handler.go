package risk

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
	"github.com/riskcore/riskcore/internal/common/logger"
)

// Handler provides HTTP handlers for risk assessment and device operations
type Handler struct {
	engine      *Engine
	devices     *DeviceStore
	accesses    *AccessStore
	assessments *AssessmentStore
	pattern     *PatternAnalyzer
	travel      *TravelDetector
	hardware    *HardwareValidator
	browser     *BrowserValidator
	logger      *zap.Logger
	audit       *logger.AuditLogger
}

// NewHandler creates a new risk handler
func NewHandler(
	engine *Engine,
	devices *DeviceStore,
	accesses *AccessStore,
	assessments *AssessmentStore,
	log *zap.Logger,
) *Handler {
	componentLog := log.With(zap.String("component", "risk-handler"))
	// Device endpoints analyze with the same validators the engine was
	// configured with, so thresholds stay consistent across both surfaces.
	return &Handler{
		engine:      engine,
		devices:     devices,
		accesses:    accesses,
		assessments: assessments,
		pattern:     engine.pattern,
		travel:      engine.travel,
		hardware:    engine.hardware,
		browser:     engine.browser,
		logger:      componentLog,
		audit:       logger.NewAuditLogger(componentLog),
	}
}

// RegisterRoutes registers risk routes with the Gin router
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	identity := r.Group("/identity")
	{
		identity.POST("/verify", h.Verify)
		identity.GET("/history", h.History)
		identity.GET("/stats", h.Stats)
	}

	devices := r.Group("/devices")
	{
		devices.POST("/register", h.RegisterDevice)
		devices.POST("/access", h.LogAccess)
		devices.GET("/list/:user_id", h.ListDevices)
		devices.GET("/history/:user_id", h.AccessHistory)
		devices.PUT("/:device_id/trust", h.UpdateTrust)
		devices.DELETE("/:device_id", h.DeleteDevice)
	}
}

// Verify runs a full risk assessment. Scoring never fails: malformed or
// invalid input is the only 4xx path, everything else returns 200 with
// an assessment (possibly the conservative fallback).
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		commonerrors.HandleError(c, commonerrors.BadRequest("invalid verify request: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	assessment := h.engine.Assess(c.Request.Context(), &req)
	c.JSON(http.StatusOK, assessment)
}

// History returns filtered, paginated assessment history.
func (h *Handler) History(c *gin.Context) {
	filter := HistoryFilter{
		UserID:     c.Query("user_id"),
		RiskLevel:  c.Query("risk_level"),
		ActionType: c.Query("action_type"),
	}

	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			commonerrors.HandleError(c, commonerrors.BadRequest("start_date must be RFC3339"))
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			commonerrors.HandleError(c, commonerrors.BadRequest("end_date must be RFC3339"))
			return
		}
		filter.EndDate = &t
	}
	if filter.RiskLevel != "" && filter.RiskLevel != string(LevelAllow) &&
		filter.RiskLevel != string(LevelReview) && filter.RiskLevel != string(LevelDeny) {
		commonerrors.HandleError(c, commonerrors.BadRequest("risk_level must be ALLOW, REVIEW, or DENY"))
		return
	}

	filter.Page = intQuery(c, "page", 1)
	filter.Limit = intQuery(c, "limit", defaultHistoryLimit)

	page, err := h.assessments.History(c.Request.Context(), filter)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// Stats returns aggregate assessment statistics.
func (h *Handler) Stats(c *gin.Context) {
	days := intQuery(c, "days", 7)
	report, err := h.assessments.Stats(c.Request.Context(), c.Query("user_id"), days)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// DeviceRegistrationRequest registers a fingerprint for a user.
type DeviceRegistrationRequest struct {
	UserID            string              `json:"user_id" binding:"required"`
	DeviceFingerprint string              `json:"device_fingerprint" binding:"required"`
	Hardware          *HardwareInfo       `json:"hardware_info,omitempty"`
	Browser           *BrowserEnvironment `json:"browser_info,omitempty"`
	UserAgent         string              `json:"user_agent,omitempty"`
}

// RegisterDevice creates or fetches the device for a (user, fingerprint)
// pair and runs first-contact plausibility checks for new devices.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req DeviceRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		commonerrors.HandleError(c, commonerrors.BadRequest("invalid registration request: "+err.Error()))
		return
	}

	device, created, err := h.devices.Register(c.Request.Context(), req.UserID, req.DeviceFingerprint)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	h.audit.LogDeviceRegistered(req.UserID, device.ID, req.DeviceFingerprint, created)

	checks := gin.H{"new_device_detected": created}
	if created {
		if req.Hardware != nil {
			checks["hardware_validation"] = h.hardware.Validate(req.Hardware)
		}
		if req.UserAgent != "" {
			checks["browser_validation"] = h.browser.ValidateUserAgent(req.UserAgent)
		}
		if req.Browser != nil {
			checks["environment_validation"] = h.browser.ValidateEnvironment(req.Browser)
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"device":          device,
		"is_new_device":   created,
		"risk_assessment": checks,
	})
}

// DeviceAccessRequest records one access event for a known device.
type DeviceAccessRequest struct {
	DeviceID  string              `json:"device_id" binding:"required"`
	IPAddress string              `json:"ip_address" binding:"required"`
	Location  *GeoPoint           `json:"location_data,omitempty"`
	ASN       string              `json:"asn,omitempty"`
	Hardware  *HardwareInfo       `json:"hardware_info,omitempty"`
	Browser   *BrowserEnvironment `json:"browser_info,omitempty"`
	UserAgent string              `json:"user_agent,omitempty"`
}

// LogAccess records a device access and runs the behavioral analyses
// against the owning user's history.
func (h *Handler) LogAccess(c *gin.Context) {
	var req DeviceAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		commonerrors.HandleError(c, commonerrors.BadRequest("invalid access request: "+err.Error()))
		return
	}

	ctx := c.Request.Context()
	device, err := h.devices.Get(ctx, req.DeviceID)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	now := time.Now().UTC()
	riskFactors := map[string]interface{}{}
	var travelAnalysis *TravelVerdict

	if req.Location != nil {
		previous, err := h.accesses.LatestWithLocationByUser(ctx, device.UserID)
		if err != nil {
			commonerrors.HandleError(c, err)
			return
		}
		verdict := h.travel.Evaluate(previous, req.Location, now)
		travelAnalysis = &verdict
		if verdict.Level != LevelAllow {
			riskFactors["impossible_travel"] = map[string]interface{}{
				"detected":   true,
				"speed_kmh":  verdict.SpeedKmh,
				"risk_level": string(verdict.Level),
			}
		}
	}

	history, err := h.accesses.ListByUser(ctx, device.UserID, now.Add(-patternLookback), 500)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}
	stats := h.pattern.BuildStats(history)

	if req.ASN != "" {
		riskFactors["asn_change"] = h.pattern.IsNewASN(stats, req.ASN)
	}
	riskFactors["temporal_anomaly"] = h.pattern.TemporalAnomaly(stats, now.Hour(), int(now.Weekday()))

	if req.Hardware != nil {
		riskFactors["hardware_valid"] = h.hardware.Validate(req.Hardware).Valid
	}
	if req.UserAgent != "" {
		result := h.browser.ValidateUserAgent(req.UserAgent)
		riskFactors["browser_legitimate"] = result.Legitimate
		if result.Automation {
			riskFactors["automation_detected"] = true
		}
	}
	if req.Browser != nil {
		riskFactors["browser_environment_real"] = h.browser.ValidateEnvironment(req.Browser).Real
	}

	access := &DeviceAccess{
		DeviceID:    device.ID,
		AccessedAt:  now,
		IPAddress:   req.IPAddress,
		Location:    req.Location,
		ASN:         req.ASN,
		RiskFactors: riskFactors,
		Hardware:    req.Hardware,
		Browser:     req.Browser,
	}
	if err := h.accesses.Record(ctx, access); err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	// Mark the device active. The access is already recorded at this
	// point, so a failed touch does not fail the request.
	if err := h.devices.Touch(ctx, device.ID, now); err != nil {
		h.logger.Warn("Failed to touch device after access",
			zap.String("device_id", device.ID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"access_logged":   true,
		"risk_factors":    riskFactors,
		"travel_analysis": travelAnalysis,
		"timestamp":       now,
	})
}

// ListDevices returns all devices for a user.
func (h *Handler) ListDevices(c *gin.Context) {
	userID := c.Param("user_id")
	devices, err := h.devices.ListByUser(c.Request.Context(), userID)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	trusted := 0
	for _, d := range devices {
		if d.IsTrusted {
			trusted++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices":         devices,
		"total_devices":   len(devices),
		"trusted_devices": trusted,
	})
}

// AccessHistory returns recent access events across all of a user's
// devices plus the aggregated pattern summary.
func (h *Handler) AccessHistory(c *gin.Context) {
	userID := c.Param("user_id")
	daysBack := intQuery(c, "days_back", 30)
	limit := intQuery(c, "limit", 100)

	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	accesses, err := h.accesses.ListByUser(c.Request.Context(), userID, since, limit)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	stats := h.pattern.BuildStats(accesses)
	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"accesses":      accesses,
		"total_records": len(accesses),
		"pattern_summary": gin.H{
			"analysis_period_days":    daysBack,
			"total_accesses":          stats.Total,
			"hourly_distribution":     stats.HourCounts,
			"daily_distribution":      stats.DayCounts,
			"most_common_hour":        stats.MostCommonHour(),
			"most_common_day":         stats.MostCommonDay(),
			"geographic_distribution": stats.CountryCounts,
			"ip_distribution":         stats.IPCounts,
			"unique_ips":              len(stats.IPCounts),
			"unique_asns":             len(stats.DistinctASNs),
		},
	})
}

// TrustUpdateRequest toggles the device trust flag.
type TrustUpdateRequest struct {
	IsTrusted *bool `json:"is_trusted" binding:"required"`
}

// UpdateTrust sets the trust flag on a device.
func (h *Handler) UpdateTrust(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req TrustUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		commonerrors.HandleError(c, commonerrors.BadRequest("invalid trust update request: "+err.Error()))
		return
	}

	device, err := h.devices.SetTrusted(c.Request.Context(), deviceID, *req.IsTrusted)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	h.audit.LogDeviceTrustChanged(device.UserID, device.ID, device.IsTrusted)
	c.JSON(http.StatusOK, gin.H{"device": device})
}

// DeleteDevice removes a device and its access history.
func (h *Handler) DeleteDevice(c *gin.Context) {
	deviceID := c.Param("device_id")

	device, err := h.devices.Get(c.Request.Context(), deviceID)
	if err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	if err := h.devices.Delete(c.Request.Context(), deviceID); err != nil {
		commonerrors.HandleError(c, err)
		return
	}

	h.audit.LogDeviceDeleted(device.UserID, device.ID)
	c.JSON(http.StatusOK, gin.H{"deleted": true, "device_id": deviceID})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
