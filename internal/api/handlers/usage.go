package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"arcana/internal/core"
	"arcana/internal/types"
)

// UsageMigrator folds an anonymous identity's usage into an account.
type UsageMigrator interface {
	Migrate(ctx context.Context, anonToken, accountID string) error
}

// MigrateRequest is the body of POST /v1/usage/migrate. The client sends the
// anonymous token it held before signing in and discards it on success.
type MigrateRequest struct {
	AnonymousID string `json:"anonymous_id" validate:"required,uuid"`
}

// UsageHandler serves the quota read surface and the sign-in migration.
type UsageHandler struct {
	ledger   QuotaLedger
	migrator UsageMigrator
	logger   *slog.Logger
	validate *validator.Validate
}

// NewUsageHandler creates the handler.
func NewUsageHandler(ledger QuotaLedger, migrator UsageMigrator, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		ledger:   ledger,
		migrator: migrator,
		logger:   logger,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the usage endpoints on the given router group.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.HandleGetUsage)
	r.Post("/usage/migrate", h.HandleMigrate)
}

// HandleGetUsage implements GET /v1/usage: the effective entitlement for the
// resolved identity, anonymous or account.
func (h *UsageHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := types.GetIdentity(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "no identity resolved for request", nil))
		return
	}

	snap, err := h.ledger.Snapshot(ctx, id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snap})
}

// HandleMigrate implements POST /v1/usage/migrate. Requires an account; the
// anonymous token in the body is folded into it. Idempotent, so a client
// that crashed before discarding its token can safely retry.
func (h *UsageHandler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "migration requires an authenticated account", nil))
		return
	}

	var req MigrateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "invalid migrate request", err))
		return
	}

	if err := h.migrator.Migrate(ctx, req.AnonymousID, actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "anonymous usage migrated", "user_id", actor.ID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"migrated": true}})
}
