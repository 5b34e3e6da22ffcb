package config

import (
	"strings"

	"go.uber.org/zap"
)

// ProductionWarnings returns the list of insecure settings that should not
// reach a production deployment.
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	if strings.Contains(c.DatabaseURL, "riskcore_secret") {
		warnings = append(warnings, "database_url still uses the default development password")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		warnings = append(warnings, "database_url disables TLS (sslmode=disable)")
	}
	if c.CORSAllowedOrigins == "*" {
		warnings = append(warnings, "cors_allowed_origins is a wildcard")
	}
	if c.Reputation.APIKey == "" {
		warnings = append(warnings, "reputation.api_key is empty; the provider client runs in mock mode")
	}

	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
