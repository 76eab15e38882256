package guidance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
)

func TestForAllLevelsNonEmpty(t *testing.T) {
	p, err := Load(config.GuidanceConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, lang := range []string{"en", "hi", "fr", ""} {
		for _, level := range []analysis.RiskLevel{analysis.RiskLow, analysis.RiskMedium, analysis.RiskHigh, "bogus"} {
			if got := p.For(level, lang); len(got) == 0 {
				t.Fatalf("empty guidance for level=%s lang=%s", level, lang)
			}
		}
	}
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	p, err := Load(config.GuidanceConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	en := p.For(analysis.RiskHigh, "en")
	fr := p.For(analysis.RiskHigh, "fr")
	if en[0] != fr[0] {
		t.Fatalf("expected fallback to english, got %q", fr[0])
	}
}

func TestOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guidance.yaml")
	content := "es:\n  high:\n    - \"Cuelgue ahora.\"\n    - \"No comparta códigos.\"\nen:\n  low:\n    - \"All clear.\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}

	p, err := Load(config.GuidanceConfig{DefaultLanguage: "en", OverridesPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	es := p.For(analysis.RiskHigh, "es")
	if len(es) != 2 || es[0] != "Cuelgue ahora." {
		t.Fatalf("expected spanish override, got %v", es)
	}
	if got := p.For(analysis.RiskLow, "en"); len(got) != 1 || got[0] != "All clear." {
		t.Fatalf("expected english low override, got %v", got)
	}
	// Untouched entries keep the builtin text.
	if got := p.For(analysis.RiskHigh, "en"); len(got) < 2 {
		t.Fatalf("builtin english high guidance lost: %v", got)
	}
}

func TestLoadRejectsMissingDefaultLanguage(t *testing.T) {
	if _, err := Load(config.GuidanceConfig{DefaultLanguage: "sw"}); err == nil {
		t.Fatal("expected error for unknown default language")
	}
}

func TestLoadRejectsUnreadableOverrides(t *testing.T) {
	if _, err := Load(config.GuidanceConfig{DefaultLanguage: "en", OverridesPath: "/nonexistent/guidance.yaml"}); err == nil {
		t.Fatal("expected error for missing overrides file")
	}
}

func TestForReturnsCopy(t *testing.T) {
	p, err := Load(config.GuidanceConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first := p.For(analysis.RiskLow, "en")
	first[0] = "mutated"
	if second := p.For(analysis.RiskLow, "en"); second[0] == "mutated" {
		t.Fatal("For must return a copy")
	}
}
