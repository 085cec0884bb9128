// Package handlers contains the HTTP handler implementations for the arcana
// API. Handlers depend on narrow, locally defined interfaces and are wired to
// concrete services in cmd/api.
package handlers

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"arcana/internal/core"
	"arcana/internal/external"
	"arcana/internal/types"
)

// tarotHandSize is the number of cards drawn for a tarot reading.
const tarotHandSize = 3

// QuotaLedger is the admission contract the assistant handler needs.
type QuotaLedger interface {
	CheckAndDebit(ctx context.Context, id types.Identity) (bool, error)
	Snapshot(ctx context.Context, id types.Identity) (*types.QuotaSnapshot, error)
}

// WorkflowEngine produces the assistant's answer.
type WorkflowEngine interface {
	Ask(ctx context.Context, req external.WorkflowRequest) (*external.WorkflowResult, error)
}

// CardStore lists the reading-deck catalog.
type CardStore interface {
	List(ctx context.Context) ([]types.Card, error)
}

// AskRequest is the body of POST /v1/assistant/ask.
type AskRequest struct {
	Service  string `json:"service" validate:"required,max=64"`
	Input    string `json:"input" validate:"required,max=4000"`
	MeowMode bool   `json:"meow_mode"`
}

// AskResponse is the assistant's answer plus the identity's remaining
// allowance. When the allowance is exhausted the handler answers 200 with
// LimitReached set instead of an error status; the client renders its own
// upsell from that.
type AskResponse struct {
	Output       string       `json:"output,omitempty"`
	Cards        []types.Card `json:"cards,omitempty"`
	Remaining    int          `json:"remaining"`
	LimitReached bool         `json:"limit_reached,omitempty"`
}

// AssistantHandler serves the ask endpoint: admission check, optional card
// draw, workflow call.
type AssistantHandler struct {
	ledger   QuotaLedger
	engine   WorkflowEngine
	cards    CardStore
	logger   *slog.Logger
	validate *validator.Validate

	// shuffle is swappable so tests can fix the draw order.
	shuffle func(n int, swap func(i, j int))
}

// NewAssistantHandler creates the handler.
func NewAssistantHandler(ledger QuotaLedger, engine WorkflowEngine, cards CardStore, logger *slog.Logger) *AssistantHandler {
	return &AssistantHandler{
		ledger:   ledger,
		engine:   engine,
		cards:    cards,
		logger:   logger,
		validate: validator.New(),
		shuffle:  rand.Shuffle,
	}
}

// RegisterRoutes mounts the assistant endpoints on the given router group.
func (h *AssistantHandler) RegisterRoutes(r chi.Router) {
	r.Post("/assistant/ask", h.HandleAsk)
}

// HandleAsk implements POST /v1/assistant/ask.
func (h *AssistantHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := types.GetIdentity(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "no identity resolved for request", nil))
		return
	}

	var req AskRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "invalid ask request", err))
		return
	}

	admitted, err := h.ledger.CheckAndDebit(ctx, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !admitted {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AskResponse{
			Remaining:    0,
			LimitReached: true,
		}})
		return
	}

	var hand []types.Card
	if req.Service == "tarot" {
		hand, err = h.drawCards(ctx)
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	result, err := h.engine.Ask(ctx, external.WorkflowRequest{
		Service:  req.Service,
		Input:    req.Input,
		UserID:   id.Key,
		MeowMode: req.MeowMode,
		Cards:    hand,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	remaining := 0
	if snap, snapErr := h.ledger.Snapshot(ctx, id); snapErr == nil {
		remaining = snap.Remaining
	} else {
		h.logger.WarnContext(ctx, "failed to read quota snapshot after debit", "error", snapErr)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AskResponse{
		Output:    result.Output,
		Cards:     hand,
		Remaining: remaining,
	}})
}

// drawCards picks three catalog cards at random. Decks carry upright and
// reversed variants of each card; a reading never shows two variants of the
// same base card, so the draw skips a candidate whose base name was already
// taken.
func (h *AssistantHandler) drawCards(ctx context.Context) ([]types.Card, error) {
	deck, err := h.cards.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(deck) < tarotHandSize {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "card catalog is too small for a reading", nil)
	}

	shuffled := make([]types.Card, len(deck))
	copy(shuffled, deck)
	h.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	hand := make([]types.Card, 0, tarotHandSize)
	seen := make(map[string]struct{}, tarotHandSize)
	for _, card := range shuffled {
		base := baseCardName(card.Name)
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		hand = append(hand, card)
		if len(hand) == tarotHandSize {
			return hand, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "card catalog has too few distinct cards", nil)
}

// baseCardName strips a parenthesized variant suffix, so "The Moon
// (Reversed)" and "The Moon" collide.
func baseCardName(name string) string {
	if idx := strings.Index(name, " ("); idx > 0 {
		return name[:idx]
	}
	return name
}
