// Package logger provides structured logging utilities for the risk service
package logger

import (
	"time"

	"go.uber.org/zap"
)

// PerformanceLogger provides performance tracking and logging
type PerformanceLogger struct {
	logger *zap.Logger
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *zap.Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger: logger.With(zap.String("log_type", "performance")),
	}
}

// Timer represents a performance timer
type Timer struct {
	logger    *zap.Logger
	operation string
	startTime time.Time
	fields    []zap.Field
}

// StartTimer starts a new performance timer
func (p *PerformanceLogger) StartTimer(operation string, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    p.logger,
		operation: operation,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)

	// Log at different levels based on duration
	switch {
	case duration > 5*time.Second:
		t.logger.Warn("Slow operation", fields...)
	case duration > 1*time.Second:
		t.logger.Info("Operation completed", fields...)
	default:
		t.logger.Debug("Operation completed", fields...)
	}

	return duration
}

// StopWithError stops the timer and logs the duration with error
func (t *Timer) StopWithError(err error) time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Error(err),
	)

	t.logger.Error("Operation failed", fields...)

	return duration
}

// LogAPICall logs an external API call with timing
func (p *PerformanceLogger) LogAPICall(endpoint string, method string, statusCode int, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("api_type", "external"),
		zap.String("endpoint", endpoint),
		zap.String("method", method),
		zap.Int("status_code", statusCode),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		p.logger.Error("API call failed", fields...)
	} else if statusCode >= 500 {
		p.logger.Error("API call returned server error", fields...)
	} else if statusCode >= 400 {
		p.logger.Warn("API call returned client error", fields...)
	} else if duration > 2*time.Second {
		p.logger.Warn("Slow API call", fields...)
	} else {
		p.logger.Debug("API call completed", fields...)
	}
}

// LogCacheOperation logs a cache operation
func (p *PerformanceLogger) LogCacheOperation(operation string, key string, hit bool, duration time.Duration) {
	fields := []zap.Field{
		zap.String("cache_operation", operation),
		zap.String("key", truncateString(key, 100)),
		zap.Bool("hit", hit),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}

	if hit {
		p.logger.Debug("Cache hit", fields...)
	} else {
		p.logger.Debug("Cache miss", fields...)
	}
}

// LogBatchOperation logs a batch operation
func (p *PerformanceLogger) LogBatchOperation(operation string, batchSize int, duration time.Duration, successCount, failureCount int) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Int("batch_size", batchSize),
		zap.Duration("duration", duration),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("success_count", successCount),
		zap.Int("failure_count", failureCount),
		zap.Float64("success_rate", float64(successCount)/float64(batchSize)*100),
	}

	if failureCount > 0 {
		p.logger.Warn("Batch operation completed with failures", fields...)
	} else {
		p.logger.Info("Batch operation completed successfully", fields...)
	}
}

// Helper function to truncate strings
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
