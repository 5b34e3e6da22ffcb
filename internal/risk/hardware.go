package risk

import (
	"fmt"
	"strconv"
	"strings"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
)

// Finding severity levels, shared by the hardware and browser validators.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Finding is a single suspicious observation from a validator.
type Finding struct {
	Check    string `json:"check"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// HardwareResult is the outcome of validating a reported hardware profile.
type HardwareResult struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"findings,omitempty"`
}

// Platforms a real browser on commodity hardware reports. Anything else is
// unusual enough to note, though not damning on its own.
var knownPlatforms = map[string]bool{
	"Win32":        true,
	"MacIntel":     true,
	"Linux x86_64": true,
	"Linux i686":   true,
}

// HardwareConfig holds the floors below which reported hardware is
// flagged as emulated or containerized.
type HardwareConfig struct {
	MinCPUCores       int
	MinDeviceMemoryGB float64
}

// DefaultHardwareConfig returns floors matching the cheapest real
// consumer devices still in circulation.
func DefaultHardwareConfig() HardwareConfig {
	return HardwareConfig{
		MinCPUCores:       2,
		MinDeviceMemoryGB: 4,
	}
}

// Validate rejects non-positive floors.
func (c HardwareConfig) Validate() error {
	if c.MinCPUCores < 1 || c.MinDeviceMemoryGB <= 0 {
		return commonerrors.ValidationError(
			fmt.Sprintf("hardware floors must be positive, got %d cores and %.1f GB",
				c.MinCPUCores, c.MinDeviceMemoryGB))
	}
	return nil
}

// HardwareValidator checks client-reported hardware characteristics for
// values typical of emulators, containers, and headless environments.
type HardwareValidator struct {
	cfg HardwareConfig
}

// NewHardwareValidator creates a new hardware validator
func NewHardwareValidator(cfg HardwareConfig) *HardwareValidator {
	return &HardwareValidator{cfg: cfg}
}

// Validate inspects a hardware profile. A profile is valid when no
// high-severity finding is present; lesser findings are reported but do
// not invalidate it.
func (v *HardwareValidator) Validate(hw *HardwareInfo) HardwareResult {
	if hw == nil {
		// Absence of a hardware profile is itself a signal, not a pass.
		return HardwareResult{
			Valid: false,
			Findings: []Finding{{
				Check:    "hardware_payload",
				Severity: SeverityMedium,
				Detail:   "no hardware information provided",
			}},
		}
	}

	findings := []Finding{}

	if hw.CPUCores == nil {
		findings = append(findings, Finding{
			Check:    "cpu_cores",
			Severity: SeverityMedium,
			Detail:   "cpu core count not reported",
		})
	} else if *hw.CPUCores < v.cfg.MinCPUCores {
		findings = append(findings, Finding{
			Check:    "cpu_cores",
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("%d cores is below the %d-core floor", *hw.CPUCores, v.cfg.MinCPUCores),
		})
	}

	if hw.DeviceMemory == nil {
		findings = append(findings, Finding{
			Check:    "device_memory",
			Severity: SeverityMedium,
			Detail:   "device memory not reported",
		})
	} else if *hw.DeviceMemory < v.cfg.MinDeviceMemoryGB {
		findings = append(findings, Finding{
			Check:    "device_memory",
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("%.1f GB memory is below the %.1f GB floor", *hw.DeviceMemory, v.cfg.MinDeviceMemoryGB),
		})
	}

	if hw.ScreenResolution != "" {
		if f, ok := checkResolution(hw.ScreenResolution); !ok {
			findings = append(findings, f)
		}
	}

	if hw.Platform != "" && !knownPlatforms[hw.Platform] {
		findings = append(findings, Finding{
			Check:    "platform",
			Severity: SeverityLow,
			Detail:   fmt.Sprintf("unrecognized platform %q", hw.Platform),
		})
	}

	// UTC-12:00 through UTC+14:00, expressed in minutes.
	if hw.TimezoneOffset != nil && (*hw.TimezoneOffset < -720 || *hw.TimezoneOffset > 840) {
		findings = append(findings, Finding{
			Check:    "timezone_offset",
			Severity: SeverityLow,
			Detail:   fmt.Sprintf("timezone offset %d minutes is outside any real timezone", *hw.TimezoneOffset),
		})
	}

	if len(hw.Language) > 10 {
		findings = append(findings, Finding{
			Check:    "language",
			Severity: SeverityLow,
			Detail:   "language tag longer than any standard locale code",
		})
	}

	return HardwareResult{
		Valid:    !hasSeverity(findings, SeverityHigh),
		Findings: findings,
	}
}

// checkResolution validates a "WxH" resolution string against plausible
// consumer display bounds (800x600 up to 8K, landscape orientation).
func checkResolution(res string) (Finding, bool) {
	bad := Finding{
		Check:    "screen_resolution",
		Severity: SeverityLow,
		Detail:   fmt.Sprintf("implausible screen resolution %q", res),
	}

	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return bad, false
	}

	width, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil {
		return bad, false
	}

	if width < 800 || width > 7680 || height < 600 || height > 4320 || width <= height {
		return bad, false
	}

	return Finding{}, true
}

func hasSeverity(findings []Finding, severity string) bool {
	for _, f := range findings {
		if f.Severity == severity {
			return true
		}
	}
	return false
}

func countSeverity(findings []Finding, severity string) int {
	n := 0
	for _, f := range findings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}
