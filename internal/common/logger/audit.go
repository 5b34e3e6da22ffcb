// Package logger provides structured logging utilities for the risk service
package logger

import (
	"time"

	"go.uber.org/zap"
)

// AuditEvent represents an audit log event
type AuditEvent struct {
	EventType  string                 `json:"event_type"`
	Actor      string                 `json:"actor"` // Caller or user the action was performed for
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Status     string                 `json:"status"` // success, failure, denied
	Reason     string                 `json:"reason,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(zap.String("log_type", "audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(event *AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}

	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", event.IPAddress))
	}

	if event.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	// Log at appropriate level based on status
	switch event.Status {
	case "failure", "error":
		a.logger.Error("Audit event", fields...)
	case "denied", "forbidden", "alert":
		a.logger.Warn("Audit event", fields...)
	default:
		a.logger.Info("Audit event", fields...)
	}
}

// LogDeviceRegistered logs a device registration event
func (a *AuditLogger) LogDeviceRegistered(userID, deviceID, fingerprint string, created bool) {
	action := "fetch"
	if created {
		action = "create"
	}
	a.Log(&AuditEvent{
		EventType:  "device.registered",
		Actor:      userID,
		Action:     action,
		Resource:   "device",
		ResourceID: deviceID,
		Status:     "success",
		Metadata:   map[string]interface{}{"fingerprint": fingerprint},
		Timestamp:  time.Now(),
	})
}

// LogDeviceTrustChanged logs a change to the device trust flag
func (a *AuditLogger) LogDeviceTrustChanged(userID, deviceID string, trusted bool) {
	a.Log(&AuditEvent{
		EventType:  "device.trust.changed",
		Actor:      userID,
		Action:     "update",
		Resource:   "device",
		ResourceID: deviceID,
		Status:     "success",
		Metadata:   map[string]interface{}{"trusted": trusted},
		Timestamp:  time.Now(),
	})
}

// LogDeviceDeleted logs a device deletion event
func (a *AuditLogger) LogDeviceDeleted(userID, deviceID string) {
	a.Log(&AuditEvent{
		EventType:  "device.deleted",
		Actor:      userID,
		Action:     "delete",
		Resource:   "device",
		ResourceID: deviceID,
		Status:     "success",
		Timestamp:  time.Now(),
	})
}

// LogAssessmentDecision logs a completed risk assessment. DENY decisions are
// recorded as denials so they surface at warning level.
func (a *AuditLogger) LogAssessmentDecision(userID, requestID, riskLevel, ipAddress, userAgent string, score int) {
	status := "success"
	if riskLevel == "DENY" {
		status = "denied"
	}
	a.Log(&AuditEvent{
		EventType:  "assessment.decision",
		Actor:      userID,
		Action:     "assess",
		Resource:   "assessment",
		ResourceID: requestID,
		Status:     status,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Metadata: map[string]interface{}{
			"risk_level":       riskLevel,
			"confidence_score": score,
		},
		Timestamp: time.Now(),
	})
}

// LogSecurityEvent logs a security-related event
func (a *AuditLogger) LogSecurityEvent(eventType, actor, action, details string, metadata map[string]interface{}) {
	a.Log(&AuditEvent{
		EventType:  eventType,
		Actor:      actor,
		Action:     action,
		Resource:   "security",
		ResourceID: eventType,
		Status:     "alert",
		Reason:     details,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	})
}
