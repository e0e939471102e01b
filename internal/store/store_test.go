package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleTrades() []model.Trade {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closed := opened.Add(48 * time.Hour)
	exit := d("85")
	pnl := d("366.1")
	return []model.Trade{
		{
			ID: "t-1", Side: model.SideBuy, MarketSlug: "openai-ads", Question: "Will OpenAI ship ads?",
			Outcome: "Yes", EntryPriceCents: d("30"), Amount: d("200"), Shares: 666,
			Rationale: "confirmed leak", OpenedAt: opened, Status: model.StatusClosed,
			ExitPriceCents: &exit, PnL: &pnl, ClosedAt: &closed,
		},
		{
			ID: "t-2", Side: model.SideBuy, MarketSlug: "btc-100k", Question: "BTC above 100k?",
			Outcome: "No", EntryPriceCents: d("33"), Amount: d("100"), Shares: 303,
			OpenedAt: opened.Add(time.Hour), Status: model.StatusOpen,
		},
	}
}

// exerciseStore checks that every document round-trips through st.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	// Fresh store: every collection is empty, not an error.
	overrides, err := st.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)
	trades, err := st.LoadTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)

	require.NoError(t, st.SaveOverrides(ctx, map[string]string{"openai-news": "ai_companies"}))
	overrides, err = st.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"openai-news": "ai_companies"}, overrides)

	want := sampleTrades()
	require.NoError(t, st.SaveTrades(ctx, want))
	got, err := st.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.True(t, want[i].Amount.Equal(got[i].Amount))
		assert.True(t, want[i].EntryPriceCents.Equal(got[i].EntryPriceCents))
		assert.Equal(t, want[i].Shares, got[i].Shares)
		assert.Equal(t, want[i].Status, got[i].Status)
		assert.True(t, want[i].OpenedAt.Equal(got[i].OpenedAt))
	}
	require.NotNil(t, got[0].PnL)
	assert.True(t, got[0].PnL.Equal(d("366.1")))
	assert.Nil(t, got[1].PnL)

	positions := []model.Position{
		{ID: "p-1", MarketName: "OpenAI news", MarketSlug: "openai-news", Shares: 150, EntryPriceCents: d("30"), Status: model.StatusOpen},
	}
	require.NoError(t, st.SavePositions(ctx, positions))
	gotPositions, err := st.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, gotPositions, 1)
	assert.True(t, gotPositions[0].Value().Equal(d("45")))

	before := d("40")
	news := []model.NewsEvent{
		{ID: "n-1", Headline: "Regulator opens inquiry", Source: "wire", MarketSlug: "ai-act",
			Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), PriceBefore: &before},
	}
	require.NoError(t, st.SaveNews(ctx, news))
	gotNews, err := st.LoadNews(ctx)
	require.NoError(t, err)
	require.Len(t, gotNews, 1)
	assert.Equal(t, "Regulator opens inquiry", gotNews[0].Headline)
	require.NotNil(t, gotNews[0].PriceBefore)
	assert.Nil(t, gotNews[0].PriceAfter)

	// Removing the last override persists an empty table.
	require.NoError(t, st.SaveOverrides(ctx, map[string]string{}))
	overrides, err = st.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesOnSave(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	overrides := map[string]string{"a": "crypto"}
	require.NoError(t, st.SaveOverrides(ctx, overrides))
	overrides["b"] = "geopolitics"

	loaded, err := st.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(t.TempDir()))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, NewFileStore(dir).SaveTrades(ctx, sampleTrades()))

	trades, err := NewFileStore(dir).LoadTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestFileStore_CorruptDocumentIsEmpty(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)
	require.NoError(t, os.WriteFile(st.Path(DocTrades), []byte("{not json"), 0o644))

	trades, err := st.LoadTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestFileStore_SkipsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)
	body := `{"version":1,"items":[
	  {"id":"ok","side":"BUY","status":"open","entry_price_cents":"40","amount":"10","shares":25},
	  {"id":"bad-price","side":"BUY","status":"open","entry_price_cents":"100","amount":"10","shares":10},
	  {"id":"","side":"BUY","status":"open","entry_price_cents":"40","amount":"10","shares":25}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades.json"), []byte(body), 0o644))

	ctx := context.Background()
	trades, err := st.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "ok", trades[0].ID)

	// Loading again does not make a second copy.
	_, err = st.LoadTrades(ctx)
	require.NoError(t, err)

	// Saving drops the rejected records from trades.json, but the raw
	// document survives next to it.
	require.NoError(t, st.SaveTrades(ctx, trades))
	copies, err := filepath.Glob(filepath.Join(dir, "trades.rejected-*.json"))
	require.NoError(t, err)
	require.Len(t, copies, 1)
	kept, err := os.ReadFile(copies[0])
	require.NoError(t, err)
	assert.Equal(t, body, string(kept))

	reloaded, err := st.LoadTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded, 1)
}

func TestFileStore_CleanDocumentMakesNoCopy(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)
	ctx := context.Background()
	require.NoError(t, st.SaveTrades(ctx, sampleTrades()))

	_, err := st.LoadTrades(ctx)
	require.NoError(t, err)
	copies, _ := filepath.Glob(filepath.Join(dir, "*.rejected-*"))
	assert.Empty(t, copies)
}

func TestFileStore_CorruptOverridesKeptAside(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)
	require.NoError(t, os.WriteFile(st.Path(DocOverrides), []byte(`{"items":`), 0o644))

	overrides, err := st.LoadOverrides(context.Background())
	require.NoError(t, err)
	assert.Empty(t, overrides)

	copies, _ := filepath.Glob(filepath.Join(dir, "overrides.rejected-*.json"))
	assert.Len(t, copies, 1)
}

func TestKeepValid_News(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []model.NewsEvent{
		{ID: "n-1", Headline: "Fed holds", Timestamp: at},
		{ID: "n-2", Headline: "", Timestamp: at},
		{ID: "n-3", Headline: "No time"},
		{ID: "", Headline: "No id", Timestamp: at},
	}

	valid, rejected := keepValid(events, DocNews)
	require.Len(t, valid, 1)
	assert.Equal(t, "n-1", valid[0].ID)
	assert.Len(t, rejected, 3)
}

func TestFileStore_WriteFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// The data dir path is a regular file, so MkdirAll fails.
	st := NewFileStore(filepath.Join(blocker, "data"))
	err := st.SaveOverrides(context.Background(), map[string]string{"a": "crypto"})
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	st, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	exerciseStore(t, st)
}

func TestSQLiteStore(t *testing.T) {
	st, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	defer st.Close()

	exerciseStore(t, st)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paper.db")

	st, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.SaveOverrides(ctx, map[string]string{"gpt-5-release": "ai_companies"}))
	require.NoError(t, st.Close())

	st, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	overrides, err := st.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ai_companies", overrides["gpt-5-release"])
}
