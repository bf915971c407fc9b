package studio

import (
	"strings"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

// SafetyFilter screens prompts before any provider sees them. Two layers:
// a hard keyword blocklist, and a severity threshold applied to moderation
// scores returned by providers that score their own inputs.
type SafetyFilter struct {
	blocked   []string
	threshold float64
}

// NewSafetyFilter builds the filter from config. Keywords match
// case-insensitively on word boundaries approximated by substring match.
func NewSafetyFilter(cfg *config.SafetyConfig) *SafetyFilter {
	blocked := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			blocked = append(blocked, kw)
		}
	}
	return &SafetyFilter{blocked: blocked, threshold: cfg.SeverityThreshold}
}

// SafetyViolation reports why an input was rejected.
type SafetyViolation struct {
	Code    string
	Keyword string
}

func (v *SafetyViolation) Error() string {
	if v.Keyword != "" {
		return "input blocked by safety filter: " + v.Keyword
	}
	return "input blocked by safety filter"
}

// CheckText rejects text containing a blocked keyword.
func (f *SafetyFilter) CheckText(text string) error {
	lower := strings.ToLower(text)
	for _, kw := range f.blocked {
		if strings.Contains(lower, kw) {
			return &SafetyViolation{Code: models.CodeUnsafePrompt, Keyword: kw}
		}
	}
	return nil
}

// CheckScores rejects moderation scores at or above the threshold. Used for
// provider-scored image inputs. A zero threshold disables the check.
func (f *SafetyFilter) CheckScores(scores map[string]float64) error {
	if f.threshold <= 0 {
		return nil
	}
	for category, score := range scores {
		if score >= f.threshold {
			return &SafetyViolation{Code: models.CodeUnsafeImage, Keyword: category}
		}
	}
	return nil
}
