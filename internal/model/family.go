package model

import "strings"

// ModelFamily classifies an inbound model name into the routing/selector
// domain. It is the single source of truth (SPOT) for model-family
// derivation (§9) — every other component (selector, quotas, thinking
// budget) must call this rather than re-deriving family from substrings.
type ModelFamily string

const (
	FamilyGeminiPro    ModelFamily = "gemini-pro"
	FamilyGeminiFlash  ModelFamily = "gemini-flash"
	FamilyGemini3      ModelFamily = "gemini-3"
	FamilyClaude       ModelFamily = "claude"
	FamilyOpenAI       ModelFamily = "openai"
	FamilyBackgroundTask ModelFamily = "internal-background-task"
	FamilyUnknown      ModelFamily = "unknown"
)

// InternalBackgroundTaskModel is the sentinel model name the routing map
// reserves for background/administrative dispatch that should never
// surface in /v1/models (§4.10 step 2).
const InternalBackgroundTaskModel = "internal-background-task"

// DeriveFamily maps an inbound model name to its ModelFamily. It never
// inspects request bodies — only the model string — so it is safe to call
// before any protocol mapping occurs.
func DeriveFamily(model string) ModelFamily {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == InternalBackgroundTaskModel:
		return FamilyBackgroundTask
	case strings.Contains(m, "claude"):
		return FamilyClaude
	case strings.Contains(m, "gemini-3") || strings.Contains(m, "gemini3"):
		return FamilyGemini3
	case strings.Contains(m, "gemini") && strings.Contains(m, "flash"):
		return FamilyGeminiFlash
	case strings.Contains(m, "gemini"):
		return FamilyGeminiPro
	case strings.Contains(m, "gpt") || strings.Contains(m, "o1") || strings.Contains(m, "o3"):
		return FamilyOpenAI
	default:
		return FamilyUnknown
	}
}

// IsFlash reports whether the family is subject to the Flash thinkingBudget
// cap (§4.8 thinking budget table).
func (f ModelFamily) IsFlash() bool {
	return f == FamilyGeminiFlash
}

// IsGemini3 reports whether the family supports the Gemini-3 thinkingLevel
// enum in place of a numeric thinkingBudget.
func (f ModelFamily) IsGemini3() bool {
	return f == FamilyGemini3
}
