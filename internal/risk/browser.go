package risk

import (
	"fmt"
	"regexp"
	"strings"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
)

// BrowserConfig holds the user agent substrings that betray automation
// frameworks and scripted HTTP clients. Matched case-insensitively.
type BrowserConfig struct {
	DenyPatterns []string
}

// DefaultBrowserConfig returns the standard automation deny list.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		DenyPatterns: []string{
			"curl", "wget", "python", "java", "bot", "spider", "crawler",
			"scraper", "selenium", "webdriver", "phantomjs", "headless",
			"puppeteer", "playwright",
		},
	}
}

// Validate rejects empty or blank deny lists.
func (c BrowserConfig) Validate() error {
	if len(c.DenyPatterns) == 0 {
		return commonerrors.ValidationError("at least one automation deny pattern is required")
	}
	for _, p := range c.DenyPatterns {
		if strings.TrimSpace(p) == "" {
			return commonerrors.ValidationError("automation deny patterns must not be blank")
		}
	}
	return nil
}

// Browser version tokens run three digits at most in the wild. Four or
// more digits in a version component means a spoofed agent string.
var oversizedVersionRegexp = regexp.MustCompile(`/\d{4,}`)

// Depths real display stacks report.
var validScreenDepths = map[int]bool{16: true, 24: true, 32: true}

// BrowserResult is the outcome of user agent validation.
type BrowserResult struct {
	Legitimate bool      `json:"legitimate"`
	Automation bool      `json:"automation"`
	Findings   []Finding `json:"findings,omitempty"`
}

// EnvironmentResult is the outcome of browser environment validation.
// Automation is reported separately from Real so callers can treat
// webdriver and framework artifacts as an immediate block.
type EnvironmentResult struct {
	Real       bool      `json:"real"`
	Automation bool      `json:"automation"`
	Findings   []Finding `json:"findings,omitempty"`
}

// BrowserValidator detects automation tooling and spoofed browser
// identities from user agent strings and reported runtime environments.
type BrowserValidator struct {
	denyPatterns []string
}

// NewBrowserValidator creates a new browser validator
func NewBrowserValidator(cfg BrowserConfig) *BrowserValidator {
	patterns := make([]string, 0, len(cfg.DenyPatterns))
	for _, p := range cfg.DenyPatterns {
		patterns = append(patterns, strings.ToLower(p))
	}
	return &BrowserValidator{denyPatterns: patterns}
}

// ValidateUserAgent checks a user agent string. The agent is legitimate
// when no high-severity finding is present. Automation is reported
// separately so callers can treat it as an immediate block.
func (v *BrowserValidator) ValidateUserAgent(userAgent string) BrowserResult {
	findings := []Finding{}
	automation := false

	lowered := strings.ToLower(userAgent)
	for _, p := range v.denyPatterns {
		if strings.Contains(lowered, p) {
			automation = true
			findings = append(findings, Finding{
				Check:    "automation_signature",
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("user agent matches automation pattern %q", p),
			})
			break
		}
	}

	if len(userAgent) < 20 {
		findings = append(findings, Finding{
			Check:    "user_agent_length",
			Severity: SeverityMedium,
			Detail:   "user agent shorter than any real browser identifies itself",
		})
	}

	if !strings.Contains(userAgent, "Mozilla") {
		findings = append(findings, Finding{
			Check:    "mozilla_token",
			Severity: SeverityLow,
			Detail:   "user agent lacks the Mozilla compatibility token",
		})
	}

	if oversizedVersionRegexp.MatchString(userAgent) {
		findings = append(findings, Finding{
			Check:    "version_format",
			Severity: SeverityLow,
			Detail:   "version component has four or more digits",
		})
	}

	return BrowserResult{
		Legitimate: !hasSeverity(findings, SeverityHigh),
		Automation: automation,
		Findings:   findings,
	}
}

// ValidateEnvironment checks the reported browser runtime. The environment
// is considered real when it has no high-severity finding and fewer than
// three medium-severity ones.
func (v *BrowserValidator) ValidateEnvironment(env *BrowserEnvironment) EnvironmentResult {
	findings := []Finding{}
	automation := false

	if len(env.Plugins) == 0 {
		findings = append(findings, Finding{
			Check:    "plugins",
			Severity: SeverityMedium,
			Detail:   "no browser plugins reported",
		})
	}

	if env.WebGL == nil || !*env.WebGL {
		findings = append(findings, Finding{
			Check:    "webgl",
			Severity: SeverityMedium,
			Detail:   "webgl support missing",
		})
	}

	if env.Canvas == nil || !*env.Canvas {
		findings = append(findings, Finding{
			Check:    "canvas",
			Severity: SeverityMedium,
			Detail:   "canvas support missing",
		})
	}

	if env.ScreenDepth != nil && !validScreenDepths[*env.ScreenDepth] {
		findings = append(findings, Finding{
			Check:    "screen_depth",
			Severity: SeverityLow,
			Detail:   fmt.Sprintf("screen depth %d is not a real display depth", *env.ScreenDepth),
		})
	}

	if len(env.Languages) == 0 {
		findings = append(findings, Finding{
			Check:    "languages",
			Severity: SeverityMedium,
			Detail:   "no browser languages reported",
		})
	}

	if env.Webdriver != nil && *env.Webdriver {
		automation = true
		findings = append(findings, Finding{
			Check:    "webdriver_flag",
			Severity: SeverityHigh,
			Detail:   "navigator.webdriver is set",
		})
	}

	if env.Phantom || env.Selenium || env.WebdriverFn {
		automation = true
		findings = append(findings, Finding{
			Check:    "automation_artifacts",
			Severity: SeverityHigh,
			Detail:   "automation framework artifacts present in window object",
		})
	}

	return EnvironmentResult{
		Real:       !hasSeverity(findings, SeverityHigh) && countSeverity(findings, SeverityMedium) < 3,
		Automation: automation,
		Findings:   findings,
	}
}
