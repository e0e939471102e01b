package narrative

import (
	"context"
	"errors"
	"testing"

	"github.com/atmx/paper-engine/internal/store"
)

func newTestRegistry(t *testing.T, repo store.OverrideStore) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), DefaultCatalogue(), repo)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r
}

// failingStore accepts reads but fails every override write.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SaveOverrides(context.Context, map[string]string) error {
	return errors.New("disk full")
}

func TestClassify_KeywordMatch(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())

	tests := []struct {
		name, slug string
		want       string
	}{
		{"OpenAI news", "openai-news", "ai_companies"},
		{"OPENAI ANNOUNCES DEVICE", "", "ai_companies"},
		{"Will it happen?", "bitcoin-100k", "crypto"},
		{"EU AI Act enforcement date", "eu-ai-act", "ai_regulation"},
		{"Taiwan strait blockade", "", "geopolitics"},
		{"Nvidia beats estimates", "nvda-q3", "tech_earnings"},
	}
	for _, tt := range tests {
		got, ok := r.Classify(tt.name, tt.slug)
		if !ok || got != tt.want {
			t.Errorf("Classify(%q, %q) = %q, %v; want %q", tt.name, tt.slug, got, ok, tt.want)
		}
	}
}

func TestClassify_FirstConfiguredMatchWins(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())

	// Matches both ai_companies ("openai") and tech_earnings ("earnings").
	got, _ := r.Classify("OpenAI earnings surprise", "openai-earnings")
	if got != "ai_companies" {
		t.Errorf("expected ai_companies to take precedence, got %q", got)
	}
}

func TestClassify_Unclassified(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())

	got, ok := r.Classify("Will the Lakers win the NBA title?", "lakers-nba-title")
	if ok || got != "" {
		t.Errorf("expected no narrative, got %q", got)
	}
}

func TestAddOverride_WinsOverKeywords(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())
	ctx := context.Background()

	if err := r.AddOverride(ctx, "openai-news", "crypto"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := r.Classify("OpenAI news", "openai-news"); got != "crypto" {
		t.Errorf("override should win, got %q", got)
	}
	// Other markets with the same keywords are unaffected.
	if got, _ := r.Classify("OpenAI news", "openai-other"); got != "ai_companies" {
		t.Errorf("override should match the exact slug only, got %q", got)
	}
}

func TestAddOverride_UnknownNarrative(t *testing.T) {
	ms := store.NewMemoryStore()
	r := newTestRegistry(t, ms)

	err := r.AddOverride(context.Background(), "lakers-nba-title", "sports")
	if !errors.Is(err, ErrUnknownNarrative) {
		t.Fatalf("expected ErrUnknownNarrative, got %v", err)
	}
	if len(r.Overrides()) != 0 {
		t.Error("registry should be unchanged")
	}
	stored, _ := ms.LoadOverrides(context.Background())
	if len(stored) != 0 {
		t.Error("unknown narrative should never be stored")
	}
}

func TestAddOverride_ReplacesPrevious(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())
	ctx := context.Background()

	r.AddOverride(ctx, "lakers-nba-title", "elections_us")
	r.AddOverride(ctx, "lakers-nba-title", "geopolitics")

	if got, _ := r.Classify("Lakers", "lakers-nba-title"); got != "geopolitics" {
		t.Errorf("expected latest override, got %q", got)
	}
	if n := len(r.Overrides()); n != 1 {
		t.Errorf("expected 1 override, got %d", n)
	}
}

func TestRemoveOverride_RestoresKeywordResult(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())
	ctx := context.Background()

	before, beforeOK := r.Classify("OpenAI news", "openai-news")

	if err := r.AddOverride(ctx, "openai-news", "geopolitics"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.RemoveOverride(ctx, "openai-news"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, afterOK := r.Classify("OpenAI news", "openai-news")
	if before != after || beforeOK != afterOK {
		t.Errorf("expected %q after removal, got %q", before, after)
	}
}

func TestRemoveOverride_Missing(t *testing.T) {
	r := newTestRegistry(t, failingStore{store.NewMemoryStore()})

	// Nothing to remove, so nothing is written.
	if err := r.RemoveOverride(context.Background(), "never-tagged"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestOverrides_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r1 := newTestRegistry(t, store.NewFileStore(dir))
	r1.AddOverride(ctx, "lakers-nba-title", "elections_us")
	r1.AddOverride(ctx, "openai-news", "crypto")
	r1.RemoveOverride(ctx, "openai-news")

	r2 := newTestRegistry(t, store.NewFileStore(dir))

	markets := [][2]string{
		{"Lakers", "lakers-nba-title"},
		{"OpenAI news", "openai-news"},
		{"Will the Lakers win the NBA title?", "lakers-other"},
	}
	for _, m := range markets {
		n1, ok1 := r1.Classify(m[0], m[1])
		n2, ok2 := r2.Classify(m[0], m[1])
		if n1 != n2 || ok1 != ok2 {
			t.Errorf("market %v: first=%q second=%q", m, n1, n2)
		}
	}
	if got, _ := r2.Classify("Lakers", "lakers-nba-title"); got != "elections_us" {
		t.Errorf("expected persisted override, got %q", got)
	}
}

func TestOverrides_SharedStoreKeepsEveryWrite(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r1 := newTestRegistry(t, store.NewFileStore(dir))
	r2 := newTestRegistry(t, store.NewFileStore(dir))

	if err := r1.AddOverride(ctx, "market-a", "crypto"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r2.AddOverride(ctx, "market-b", "geopolitics"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := store.NewFileStore(dir).LoadOverrides(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored["market-a"] != "crypto" || stored["market-b"] != "geopolitics" {
		t.Errorf("expected both overrides stored, got %v", stored)
	}
	// The second writer also picked up the first writer's override.
	if got, _ := r2.Classify("Anything", "market-a"); got != "crypto" {
		t.Errorf("expected crypto, got %q", got)
	}

	if err := r1.RemoveOverride(ctx, "market-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ = store.NewFileStore(dir).LoadOverrides(ctx)
	if len(stored) != 1 || stored["market-a"] != "crypto" {
		t.Errorf("expected only market-a left, got %v", stored)
	}
}

func TestAddOverride_PersistenceFailureKeepsState(t *testing.T) {
	r := newTestRegistry(t, failingStore{store.NewMemoryStore()})

	err := r.AddOverride(context.Background(), "openai-news", "crypto")
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if got, _ := r.Classify("OpenAI news", "openai-news"); got != "ai_companies" {
		t.Errorf("failed write must not take effect, got %q", got)
	}
}

func TestNewRegistry_DropsUnknownStoredOverrides(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.SaveOverrides(context.Background(), map[string]string{
		"lakers-nba-title": "sports",
		"openai-news":      "crypto",
	})

	r := newTestRegistry(t, ms)
	overrides := r.Overrides()
	if _, ok := overrides["lakers-nba-title"]; ok {
		t.Error("override for unknown narrative should be ignored")
	}
	if overrides["openai-news"] != "crypto" {
		t.Errorf("valid override should load, got %v", overrides)
	}
}

func TestSnapshot_IsStable(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())
	snap := r.Snapshot()

	r.AddOverride(context.Background(), "openai-news", "crypto")

	if got, _ := snap("OpenAI news", "openai-news"); got != "ai_companies" {
		t.Errorf("snapshot should not see later overrides, got %q", got)
	}
}

func TestLookup(t *testing.T) {
	r := newTestRegistry(t, store.NewMemoryStore())

	cfg, ok := r.Lookup("crypto")
	if !ok {
		t.Fatal("expected crypto narrative")
	}
	if cfg.MaxExposurePct.IntPart() != 25 {
		t.Errorf("expected 25%% ceiling, got %s", cfg.MaxExposurePct)
	}
	if _, ok := r.Lookup("sports"); ok {
		t.Error("expected lookup miss")
	}
}
