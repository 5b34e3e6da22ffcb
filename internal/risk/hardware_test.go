package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }

func plausibleHardware() *HardwareInfo {
	return &HardwareInfo{
		CPUCores:         intPtr(8),
		DeviceMemory:     floatPtr(16),
		ScreenResolution: "1920x1080",
		Platform:         "MacIntel",
		TimezoneOffset:   intPtr(-180),
		Language:         "en-US",
	}
}

func findingChecks(findings []Finding) []string {
	checks := make([]string, 0, len(findings))
	for _, f := range findings {
		checks = append(checks, f.Check)
	}
	return checks
}

func TestHardwareValidator_NilProfile(t *testing.T) {
	v := NewHardwareValidator(DefaultHardwareConfig())

	result := v.Validate(nil)

	assert.False(t, result.Valid)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "hardware_payload", result.Findings[0].Check)
	assert.Equal(t, SeverityMedium, result.Findings[0].Severity)
}

func TestHardwareValidator_PlausibleProfile(t *testing.T) {
	v := NewHardwareValidator(DefaultHardwareConfig())

	result := v.Validate(plausibleHardware())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Findings)
}

func TestHardwareValidator_EmulatorProfile(t *testing.T) {
	v := NewHardwareValidator(DefaultHardwareConfig())

	hw := plausibleHardware()
	hw.CPUCores = intPtr(1)
	hw.DeviceMemory = floatPtr(2)

	result := v.Validate(hw)

	assert.False(t, result.Valid)
	assert.Equal(t, 2, countSeverity(result.Findings, SeverityHigh))
	assert.Contains(t, findingChecks(result.Findings), "cpu_cores")
	assert.Contains(t, findingChecks(result.Findings), "device_memory")
}

func TestHardwareValidator_MissingFields(t *testing.T) {
	v := NewHardwareValidator(DefaultHardwareConfig())

	// Unreported core and memory counts are noted but do not invalidate.
	result := v.Validate(&HardwareInfo{})

	assert.True(t, result.Valid)
	assert.Equal(t, 2, countSeverity(result.Findings, SeverityMedium))
}

func TestHardwareValidator_ScreenResolution(t *testing.T) {
	tests := []struct {
		name       string
		resolution string
		flagged    bool
	}{
		{"full hd", "1920x1080", false},
		{"8k upper bound", "7680x4320", false},
		{"svga lower bound", "800x600", false},
		{"malformed", "widexhigh", true},
		{"missing separator", "1920-1080", true},
		{"too small", "640x480", true},
		{"too large", "9000x5000", true},
		{"portrait orientation", "1080x1920", true},
		{"square", "1000x1000", true},
	}

	v := NewHardwareValidator(DefaultHardwareConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw := plausibleHardware()
			hw.ScreenResolution = tt.resolution

			result := v.Validate(hw)

			if tt.flagged {
				assert.Contains(t, findingChecks(result.Findings), "screen_resolution")
				// Resolution findings are low severity, never invalidating.
				assert.True(t, result.Valid)
			} else {
				assert.NotContains(t, findingChecks(result.Findings), "screen_resolution")
			}
		})
	}
}

func TestHardwareConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultHardwareConfig().Validate())
	assert.NoError(t, HardwareConfig{MinCPUCores: 4, MinDeviceMemoryGB: 8}.Validate())
	assert.Error(t, HardwareConfig{MinCPUCores: 0, MinDeviceMemoryGB: 4}.Validate())
	assert.Error(t, HardwareConfig{MinCPUCores: 2, MinDeviceMemoryGB: 0}.Validate())
}

func TestHardwareValidator_CustomFloors(t *testing.T) {
	// Raised floors flag a profile the defaults accept.
	v := NewHardwareValidator(HardwareConfig{MinCPUCores: 16, MinDeviceMemoryGB: 32})

	result := v.Validate(plausibleHardware())

	assert.False(t, result.Valid)
	assert.Equal(t, 2, countSeverity(result.Findings, SeverityHigh))
	assert.Contains(t, findingChecks(result.Findings), "cpu_cores")
	assert.Contains(t, findingChecks(result.Findings), "device_memory")
}

func TestHardwareValidator_LowSeveritySignals(t *testing.T) {
	v := NewHardwareValidator(DefaultHardwareConfig())

	hw := plausibleHardware()
	hw.Platform = "FreeBSD amd64"
	hw.TimezoneOffset = intPtr(900)
	hw.Language = "en-US,en;q=0.9,fr;q=0.8"

	result := v.Validate(hw)

	assert.True(t, result.Valid)
	assert.Equal(t, 3, countSeverity(result.Findings, SeverityLow))
	assert.ElementsMatch(t, []string{"platform", "timezone_offset", "language"}, findingChecks(result.Findings))
}
