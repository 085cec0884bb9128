package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"arcana/internal/billing"
	"arcana/internal/core"
	"arcana/internal/types"
)

// PurchaseService is the billing contract the handler needs.
type PurchaseService interface {
	StartPurchase(ctx context.Context, userID, planID string) (*billing.Purchase, error)
	Plans(ctx context.Context) ([]types.Plan, error)
	PaymentsForUser(ctx context.Context, userID string) ([]types.Payment, error)
}

// PurchaseRequest is the body of POST /v1/billing/purchases.
type PurchaseRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=64"`
}

// PurchaseResponse carries the checkout URL the client redirects to.
type PurchaseResponse struct {
	URL     string `json:"url"`
	OrderID string `json:"order_id"`
}

// BillingHandler serves plan catalog reads, purchase initiation, and the
// account's payment history.
type BillingHandler struct {
	svc      PurchaseService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewBillingHandler creates the handler.
func NewBillingHandler(svc PurchaseService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the billing endpoints on the given router group.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/billing/plans", h.HandleListPlans)
	r.Post("/billing/purchases", h.HandleStartPurchase)
	r.Get("/billing/payments", h.HandleListPayments)
}

// HandleListPlans implements GET /v1/billing/plans. Anonymous visitors see
// the catalog too; the pricing dialog renders before sign-in.
func (h *BillingHandler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Plans(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plans})
}

// HandleStartPurchase implements POST /v1/billing/purchases. Requires an
// account: the order is keyed to the account so the confirmation callback
// knows whose entitlement to extend.
func (h *BillingHandler) HandleStartPurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "purchases require an authenticated account", nil))
		return
	}

	var req PurchaseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "invalid purchase request", err))
		return
	}

	purchase, err := h.svc.StartPurchase(ctx, actor.ID, req.PlanID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PurchaseResponse{
		URL:     purchase.PayURL,
		OrderID: purchase.OrderID,
	}})
}

// HandleListPayments implements GET /v1/billing/payments: the account's
// recent payment records, newest first.
func (h *BillingHandler) HandleListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "payment history requires an authenticated account", nil))
		return
	}

	payments, err := h.svc.PaymentsForUser(ctx, actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payments})
}
