package thinking

import (
	"testing"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

func TestAutoModeInjectsDefaultBudget(t *testing.T) {
	out := Resolve(Config{Mode: ModeAuto}, model.FamilyGeminiPro, 0, 0)
	if out.ThinkingBudget != DefaultBudget {
		t.Fatalf("ThinkingBudget = %d, want default %d", out.ThinkingBudget, DefaultBudget)
	}
	if out.MaxOutputTokens != DefaultBudget+BudgetOverhead {
		t.Fatalf("MaxOutputTokens = %d, want %d", out.MaxOutputTokens, DefaultBudget+BudgetOverhead)
	}
}

func TestAutoModeFlashCap(t *testing.T) {
	out := Resolve(Config{Mode: ModeAuto}, model.FamilyGeminiFlash, 50000, 0)
	if out.ThinkingBudget > FlashBudgetCap {
		t.Fatalf("ThinkingBudget = %d, must never exceed %d on Flash (P7)", out.ThinkingBudget, FlashBudgetCap)
	}
}

func TestAdaptiveGemini3UsesThinkingLevelNotBudget(t *testing.T) {
	out := Resolve(Config{Mode: ModeAdaptive, Effort: EffortHigh}, model.FamilyGemini3, 0, 0)
	if out.ThinkingBudgetSet {
		t.Fatalf("ThinkingBudgetSet = true, want false for Gemini-3 adaptive (scenario 4)")
	}
	if out.ThinkingLevel != string(EffortHigh) {
		t.Fatalf("ThinkingLevel = %q, want HIGH", out.ThinkingLevel)
	}
	if out.MaxOutputTokens != AdaptiveMaxTokens {
		t.Fatalf("MaxOutputTokens = %d, want %d", out.MaxOutputTokens, AdaptiveMaxTokens)
	}
}

func TestAdaptiveGemini3FlashNoCapReintroduced(t *testing.T) {
	out := Resolve(Config{Mode: ModeAdaptive, Effort: EffortHigh}, model.FamilyGemini3, 0, 0)
	// Gemini-3 models are classified FamilyGemini3, not FamilyGeminiFlash, so
	// IsFlash() is false and no budget field exists to cap in the first place.
	if out.ThinkingBudgetSet {
		t.Fatalf("expected no ThinkingBudget field on adaptive Gemini-3 even if the model name mentions flash")
	}
}

func TestAdaptiveNonGemini3UsesSentinelBudget(t *testing.T) {
	out := Resolve(Config{Mode: ModeAdaptive}, model.FamilyGeminiPro, 0, 0)
	if !out.ThinkingBudgetSet || out.ThinkingBudget != AdaptiveBudget {
		t.Fatalf("ThinkingBudget = %d (set=%v), want sentinel -1", out.ThinkingBudget, out.ThinkingBudgetSet)
	}
}

func TestCustomModeOverridesClient(t *testing.T) {
	out := Resolve(Config{Mode: ModeCustom, CustomBudget: 5000}, model.FamilyGeminiPro, 99999, 0)
	if out.ThinkingBudget != 5000 {
		t.Fatalf("ThinkingBudget = %d, want configured 5000 overriding client value", out.ThinkingBudget)
	}
}

func TestPassthroughUsesClientValue(t *testing.T) {
	out := Resolve(Config{Mode: ModePassthrough}, model.FamilyGeminiPro, 8000, 0)
	if out.ThinkingBudget != 8000 {
		t.Fatalf("ThinkingBudget = %d, want client value 8000", out.ThinkingBudget)
	}
}

func TestMaxOutputTokensRespectsClientMax(t *testing.T) {
	out := Resolve(Config{Mode: ModeAuto}, model.FamilyGeminiPro, 1000, 999999)
	if out.MaxOutputTokens != 999999 {
		t.Fatalf("MaxOutputTokens = %d, want client max_tokens 999999 since it exceeds budget+overhead", out.MaxOutputTokens)
	}
}
