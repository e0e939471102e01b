package narrative

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/paper-engine/internal/model"
)

// ErrInvalidCatalogue is returned when a narrative list fails validation.
var ErrInvalidCatalogue = errors.New("narrative: invalid catalogue")

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// DefaultCatalogue returns the built-in narratives in precedence order.
// When a market matches keywords of several narratives, the first one listed
// here wins.
func DefaultCatalogue() []model.NarrativeConfig {
	return []model.NarrativeConfig{
		{
			Name: "ai_companies",
			Keywords: []string{"openai", "anthropic", "google ai", "deepmind", "meta ai", "microsoft ai",
				"claude", "gpt", "gemini", "llama", "chatgpt", "copilot"},
			MaxExposurePct: pct(40),
			Description:    "AI company performance/announcements",
		},
		{
			Name: "ai_regulation",
			Keywords: []string{"ai regulation", "ai safety", "ai act", "executive order", "ai ban",
				"ftc ai", "eu ai", "congress ai"},
			MaxExposurePct: pct(30),
			Description:    "AI regulation and policy",
		},
		{
			Name: "elections_us",
			Keywords: []string{"trump", "biden", "harris", "election", "2024 election", "2026 election",
				"republican", "democrat", "gop", "electoral"},
			MaxExposurePct: pct(35),
			Description:    "US elections and politics",
		},
		{
			Name:           "crypto",
			Keywords:       []string{"bitcoin", "ethereum", "crypto", "btc", "eth", "sec crypto", "binance"},
			MaxExposurePct: pct(25),
			Description:    "Cryptocurrency markets",
		},
		{
			Name: "tech_earnings",
			Keywords: []string{"earnings", "revenue", "quarterly", "q1", "q2", "q3", "q4", "guidance",
				"nvidia", "apple", "meta", "alphabet", "amazon", "microsoft"},
			MaxExposurePct: pct(35),
			Description:    "Tech company earnings",
		},
		{
			Name:           "geopolitics",
			Keywords:       []string{"china", "russia", "ukraine", "taiwan", "war", "sanctions", "tariff"},
			MaxExposurePct: pct(30),
			Description:    "Geopolitical events",
		},
	}
}

// catalogueFile is the YAML layout of a narrative catalogue:
//
//	narratives:
//	  - name: crypto
//	    description: Cryptocurrency markets
//	    max_exposure_pct: 25
//	    keywords: [bitcoin, ethereum]
type catalogueFile struct {
	Narratives []struct {
		Name           string   `yaml:"name"`
		Description    string   `yaml:"description"`
		MaxExposurePct string   `yaml:"max_exposure_pct"`
		Keywords       []string `yaml:"keywords"`
	} `yaml:"narratives"`
}

// LoadCatalogue reads and validates a YAML narrative catalogue. List order
// in the file is classification precedence.
func LoadCatalogue(path string) ([]model.NarrativeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates a YAML narrative catalogue.
func ParseCatalogue(data []byte) ([]model.NarrativeConfig, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}

	configs := make([]model.NarrativeConfig, 0, len(file.Narratives))
	for _, n := range file.Narratives {
		maxPct, err := decimal.NewFromString(n.MaxExposurePct)
		if err != nil {
			return nil, fmt.Errorf("%w: %s max_exposure_pct %q", ErrInvalidCatalogue, n.Name, n.MaxExposurePct)
		}
		configs = append(configs, model.NarrativeConfig{
			Name:           n.Name,
			Keywords:       n.Keywords,
			MaxExposurePct: maxPct,
			Description:    n.Description,
		})
	}
	if err := Validate(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// Validate checks that names are unique and non-empty, every narrative has
// at least one keyword, and every ceiling is in (0, 100].
func Validate(configs []model.NarrativeConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("%w: no narratives", ErrInvalidCatalogue)
	}
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.Name == "" {
			return fmt.Errorf("%w: narrative without name", ErrInvalidCatalogue)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate narrative %s", ErrInvalidCatalogue, c.Name)
		}
		seen[c.Name] = true

		if !c.MaxExposurePct.IsPositive() || c.MaxExposurePct.GreaterThan(model.Hundred) {
			return fmt.Errorf("%w: %s max exposure %s outside (0, 100]", ErrInvalidCatalogue, c.Name, c.MaxExposurePct)
		}
		hasKeyword := false
		for _, kw := range c.Keywords {
			if strings.TrimSpace(kw) != "" {
				hasKeyword = true
				break
			}
		}
		if !hasKeyword {
			return fmt.Errorf("%w: %s has no keywords", ErrInvalidCatalogue, c.Name)
		}
	}
	return nil
}
