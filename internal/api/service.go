// Package api exposes the narrative registry, correlation gate, paper-trade
// ledger and signal feed over HTTP.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/correlation"
	"github.com/atmx/paper-engine/internal/exposure"
	"github.com/atmx/paper-engine/internal/ledger"
	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/narrative"
	"github.com/atmx/paper-engine/internal/signal"
	"github.com/atmx/paper-engine/internal/store"
)

// Documents is the persistence the service reads and writes directly:
// reported news and externally supplied positions.
type Documents interface {
	store.NewsStore
	store.PositionStore
}

// Service handles the HTTP surface. Gate checks and trade opens are
// serialized by a mutex so two concurrent opens cannot both pass a check
// computed against the same portfolio (single-instance).
type Service struct {
	registry *narrative.Registry
	gate     *correlation.Gate
	trades   *ledger.Ledger
	docs     Documents
	wsHub    *WSHub // optional WebSocket hub for ledger events
	now      func() time.Time
	mu       sync.Mutex
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(reg *narrative.Registry, gate *correlation.Gate, trades *ledger.Ledger, docs Documents, hub *WSHub) *Service {
	return &Service{
		registry: reg,
		gate:     gate,
		trades:   trades,
		docs:     docs,
		wsHub:    hub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mount registers every /api/v1 route on r.
func (s *Service) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		// Narrative catalogue and overrides.
		r.Get("/narratives", s.ListNarratives)
		r.Get("/classify", s.Classify)
		r.Get("/overrides", s.ListOverrides)
		r.Put("/overrides/{slug}", s.PutOverride)
		r.Delete("/overrides/{slug}", s.DeleteOverride)

		// Risk.
		r.Post("/correlation/check", s.CheckCorrelation)
		r.Get("/exposure", s.GetExposure)
		r.Get("/positions", s.ListPositions)
		r.Put("/positions", s.PutPositions)

		// Paper-trade ledger.
		r.Post("/trades", s.OpenTrade)
		r.Get("/trades", s.ListTrades)
		r.Delete("/trades/test", s.CleanupTestTrades)
		r.Get("/trades/{tradeID}", s.GetTrade)
		r.Post("/trades/{tradeID}/close", s.CloseTrade)
		r.Post("/trades/{tradeID}/resolve", s.ResolveTrade)
		r.Get("/status", s.GetStatus)

		// Feed.
		r.Post("/news", s.RecordNews)
		r.Get("/signals", s.ListSignals)
	})
}

// --- Request/Response types ---

// OverrideRequest is the JSON body for PUT /overrides/{slug}.
type OverrideRequest struct {
	Narrative string `json:"narrative"`
}

// CheckRequest is the JSON body for POST /correlation/check.
type CheckRequest struct {
	Name   string          `json:"name"`
	Slug   string          `json:"slug"`
	Amount decimal.Decimal `json:"amount"`
}

// OpenTradeResponse is returned from POST /trades. Trade is absent when the
// gate blocked the trade.
type OpenTradeResponse struct {
	Trade    *model.Trade   `json:"trade,omitempty"`
	Decision model.Decision `json:"decision"`
	Error    string         `json:"error,omitempty"`
}

// CloseRequest is the JSON body for POST /trades/{id}/close.
type CloseRequest struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
}

// ResolveRequest is the JSON body for POST /trades/{id}/resolve.
type ResolveRequest struct {
	Won *bool `json:"won"`
}

// NewsRequest is the JSON body for POST /news.
type NewsRequest struct {
	Headline    string           `json:"headline"`
	Source      string           `json:"source"`
	MarketSlug  string           `json:"market_slug"`
	Timestamp   *time.Time       `json:"timestamp"`
	PriceBefore *decimal.Decimal `json:"price_before"`
	PriceAfter  *decimal.Decimal `json:"price_after"`
}

// --- HTTP Handlers ---

// ListNarratives handles GET /api/v1/narratives
func (s *Service) ListNarratives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Narratives())
}

// Classify handles GET /api/v1/classify?name=&slug=
// Narrative is null for markets exempt from narrative limits.
func (s *Service) Classify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, slug := q.Get("name"), q.Get("slug")
	if name == "" && slug == "" {
		writeError(w, "name or slug is required", http.StatusBadRequest)
		return
	}

	resp := map[string]any{"name": name, "slug": slug, "narrative": nil}
	if n, ok := s.registry.Classify(name, slug); ok {
		resp["narrative"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListOverrides handles GET /api/v1/overrides
func (s *Service) ListOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Overrides())
}

// PutOverride handles PUT /api/v1/overrides/{slug}
func (s *Service) PutOverride(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.AddOverride(r.Context(), slug, req.Narrative); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug, "narrative": req.Narrative})
}

// DeleteOverride handles DELETE /api/v1/overrides/{slug}
func (s *Service) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveOverride(r.Context(), chi.URLParam(r, "slug")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckCorrelation handles POST /api/v1/correlation/check
// A blocked decision is still a 200; callers branch on "allowed".
func (s *Service) CheckCorrelation(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	decision, err := s.gate.Check(r.Context(), req.Name, req.Slug, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// GetExposure handles GET /api/v1/exposure
func (s *Service) GetExposure(w http.ResponseWriter, r *http.Request) {
	positions, err := s.portfolio().OpenPositions(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	report := exposure.Summary(positions, s.registry.Narratives(), s.registry.Snapshot())
	writeJSON(w, http.StatusOK, report)
}

// portfolio is every position that counts toward exposure: open ledger
// trades followed by the externally supplied positions.
func (s *Service) portfolio() correlation.Sources {
	return correlation.Sources{s.trades, correlation.StoredPositions{Repo: s.docs}}
}

// ListPositions handles GET /api/v1/positions
// Returns the externally supplied positions as stored, including closed ones.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.docs.LoadPositions(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// PutPositions handles PUT /api/v1/positions
// Replaces the externally supplied positions with the request body.
func (s *Service) PutPositions(w http.ResponseWriter, r *http.Request) {
	var positions []model.Position
	if err := json.NewDecoder(r.Body).Decode(&positions); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if positions == nil {
		positions = []model.Position{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.docs.SavePositions(r.Context(), positions); err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("external positions replaced", "count", len(positions))
	writeJSON(w, http.StatusOK, positions)
}

// OpenTrade handles POST /api/v1/trades
// Runs the correlation gate, then opens the trade. Test trades never count
// toward exposure and skip the gate.
func (s *Service) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req ledger.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	decision := model.NewDecision()
	if !req.Test && !strings.HasPrefix(req.MarketSlug, model.TestSlugPrefix) {
		var err error
		decision, err = s.gate.Check(ctx, req.Question, req.MarketSlug, req.Amount)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !decision.Allowed {
			writeJSON(w, http.StatusConflict, OpenTradeResponse{Decision: decision, Error: decision.Warning})
			return
		}
	}

	trade, err := s.trades.Open(ctx, req)
	if err != nil {
		writeErr(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(tradeMessage(EventTradeOpened, trade))
	}
	writeJSON(w, http.StatusCreated, OpenTradeResponse{Trade: &trade, Decision: decision})
}

// ListTrades handles GET /api/v1/trades?status=open|closed&real=true
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && status != model.StatusOpen && status != model.StatusClosed {
		writeError(w, "status must be open or closed", http.StatusBadRequest)
		return
	}

	trades, err := s.trades.List(r.Context(), ledger.Filter{Status: status, ExcludeTest: queryBool(r, "real")})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.trades.Get(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// CloseTrade handles POST /api/v1/trades/{tradeID}/close
func (s *Service) CloseTrade(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := s.trades.Close(r.Context(), chi.URLParam(r, "tradeID"), req.ExitPrice)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(tradeMessage(EventTradeClosed, trade))
	}
	writeJSON(w, http.StatusOK, trade)
}

// ResolveTrade handles POST /api/v1/trades/{tradeID}/resolve
func (s *Service) ResolveTrade(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Won == nil {
		writeError(w, "won is required", http.StatusBadRequest)
		return
	}

	trade, err := s.trades.Resolve(r.Context(), chi.URLParam(r, "tradeID"), *req.Won)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(tradeMessage(EventTradeResolved, trade))
	}
	writeJSON(w, http.StatusOK, trade)
}

// CleanupTestTrades handles DELETE /api/v1/trades/test?confirm=true
// Without confirm it answers 400 with the dry-run report.
func (s *Service) CleanupTestTrades(w http.ResponseWriter, r *http.Request) {
	report, err := s.trades.Cleanup(r.Context(), queryBool(r, "confirm"))
	if errors.Is(err, ledger.ErrCleanupNotConfirmed) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "report": report})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetStatus handles GET /api/v1/status?real=true
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.trades.Status(r.Context(), queryBool(r, "real"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RecordNews handles POST /api/v1/news
// Stores a market-moving headline reported by the external monitor.
func (s *Service) RecordNews(w http.ResponseWriter, r *http.Request) {
	var req NewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Headline) == "" {
		writeError(w, "headline is required", http.StatusBadRequest)
		return
	}

	event := model.NewsEvent{
		ID:          uuid.NewString(),
		Headline:    req.Headline,
		Source:      req.Source,
		MarketSlug:  req.MarketSlug,
		Timestamp:   s.now(),
		PriceBefore: req.PriceBefore,
		PriceAfter:  req.PriceAfter,
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.docs.LoadNews(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.docs.SaveNews(ctx, append(events, event)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListSignals handles GET /api/v1/signals?tier=free|premium&limit=N
func (s *Service) ListSignals(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	ctx := r.Context()

	trades, err := s.trades.List(ctx, ledger.Filter{ExcludeTest: true})
	if err != nil {
		writeErr(w, err)
		return
	}
	events, err := s.docs.LoadNews(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}

	page := signal.Feed(signal.Project(trades, events), r.URL.Query().Get("tier"), limit, s.now())
	writeJSON(w, http.StatusOK, page)
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrTradeClosed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, narrative.ErrUnknownNarrative),
		errors.Is(err, narrative.ErrEmptySlug),
		errors.Is(err, correlation.ErrNegativeAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes a domain error, hiding internal failures from clients.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
