package narrative

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

func TestParseCatalogue_Valid(t *testing.T) {
	data := []byte(`
narratives:
  - name: crypto
    description: Cryptocurrency markets
    max_exposure_pct: 25
    keywords: [bitcoin, ethereum]
  - name: fed
    description: Monetary policy
    max_exposure_pct: 12.5
    keywords: [fomc, "rate cut"]
`)
	configs, err := ParseCatalogue(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 narratives, got %d", len(configs))
	}
	if configs[0].Name != "crypto" || configs[1].Name != "fed" {
		t.Errorf("file order must be preserved, got %s, %s", configs[0].Name, configs[1].Name)
	}
	if !configs[1].MaxExposurePct.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("expected 12.5, got %s", configs[1].MaxExposurePct)
	}
}

func TestParseCatalogue_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero ceiling": `
narratives:
  - name: crypto
    max_exposure_pct: 0
    keywords: [bitcoin]`,
		"ceiling above 100": `
narratives:
  - name: crypto
    max_exposure_pct: 101
    keywords: [bitcoin]`,
		"duplicate": `
narratives:
  - name: crypto
    max_exposure_pct: 20
    keywords: [bitcoin]
  - name: crypto
    max_exposure_pct: 30
    keywords: [eth]`,
		"no keywords": `
narratives:
  - name: crypto
    max_exposure_pct: 20`,
		"empty":       `narratives: []`,
		"bad ceiling": `
narratives:
  - name: crypto
    max_exposure_pct: lots
    keywords: [bitcoin]`,
	}
	for name, body := range tests {
		_, err := ParseCatalogue([]byte(body))
		if !errors.Is(err, ErrInvalidCatalogue) {
			t.Errorf("%s: expected ErrInvalidCatalogue, got %v", name, err)
		}
	}
}

func TestLoadCatalogue_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narratives.yml")
	body := "narratives:\n  - name: crypto\n    max_exposure_pct: 100\n    keywords: [btc]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	configs, err := LoadCatalogue(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !configs[0].MaxExposurePct.Equal(model.Hundred) {
		t.Errorf("a 100%% ceiling is valid, got %s", configs[0].MaxExposurePct)
	}
}

func TestDefaultCatalogue_IsValid(t *testing.T) {
	if err := Validate(DefaultCatalogue()); err != nil {
		t.Fatalf("default catalogue invalid: %v", err)
	}
}
