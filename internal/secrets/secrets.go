// Package secrets guards workspace writes against committing credentials.
//
// The tool invoker runs every piece of content an agent wants to write
// through Scan before it reaches the project store; findings turn the write
// into an error tool-result so the model can correct itself instead of
// baking a live key into the artifact.
package secrets

import (
	"fmt"
	"regexp"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string // Gitleaks rule ID (e.g. "github-pat")
	Description string // Human-readable rule description
	Line        int    // Line number within the scanned content
	Secret      string // The matched value
}

// Guard scans content with the Gitleaks ruleset plus an optional allowlist.
// The underlying detector is built once and reused across scans.
type Guard struct {
	detector *detect.Detector
}

// NewGuard builds a guard from the default Gitleaks config, merged with the
// given allowlist (nil to skip).
func NewGuard(allow *Allowlist) (*Guard, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("build secret detector: %w", err)
	}
	if allow != nil && !allow.Empty() {
		applyAllowlist(&detector.Config, allow)
	}
	return &Guard{detector: detector}, nil
}

// Scan returns the secrets found in content. A nil guard scans nothing,
// which is how the feature is disabled.
func (g *Guard) Scan(content string) []Finding {
	if g == nil {
		return nil
	}
	raw := g.detector.DetectString(content)
	out := make([]Finding, 0, len(raw))
	for _, f := range raw {
		out = append(out, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return out
}

// Summarize renders findings into the single-line form used in tool-result
// content. Secrets themselves are never echoed back.
func Summarize(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	rules := make([]string, 0, len(findings))
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			rules = append(rules, f.RuleID)
		}
	}
	return fmt.Sprintf("content matches %d secret pattern(s): %s",
		len(findings), strings.Join(rules, ", "))
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are validated at load time, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	merged := &gitleaksConfig.Allowlist{
		Description: "flowd user allowlist",
	}
	for _, pattern := range allow.Regexes {
		re := regexp.MustCompile(pattern)
		merged.Regexes = append(merged.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	merged.StopWords = append(merged.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, merged)
}
