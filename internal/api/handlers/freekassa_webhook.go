package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"arcana/internal/billing"
	"arcana/internal/core"
	"arcana/internal/types"
)

// maxWebhookBodySize caps the gateway callback body. Callbacks are a handful
// of form fields; anything larger is not a legitimate delivery.
const maxWebhookBodySize = 64 << 10

// PaymentConfirmer processes a verified gateway confirmation.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, c billing.Confirmation) error
}

// FreeKassaWebhookHandler receives the gateway's server-to-server payment
// confirmation. The route carries no session middleware; the MD5 signature
// over the callback fields is the only authentication.
type FreeKassaWebhookHandler struct {
	confirmer PaymentConfirmer
	logger    *slog.Logger
}

// NewFreeKassaWebhookHandler creates the handler.
func NewFreeKassaWebhookHandler(confirmer PaymentConfirmer, logger *slog.Logger) *FreeKassaWebhookHandler {
	return &FreeKassaWebhookHandler{confirmer: confirmer, logger: logger}
}

// RegisterRoutes mounts the webhook under the webhooks group. chi answers
// 405 for any method other than POST.
func (h *FreeKassaWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/freekassa", h.HandleConfirmation)
}

// HandleConfirmation implements POST /webhooks/freekassa.
//
// The gateway redelivers until it reads a 200 with the literal body "OK", so
// every outcome the handler cannot turn into "OK" must stay safe to re-run:
// a bad signature is 400, an unknown order 404, a store failure 500, and all
// of them leave no partial state behind.
func (h *FreeKassaWebhookHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	if err := r.ParseForm(); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidForm, "malformed callback body", err))
		return
	}

	merchantID := r.PostFormValue("MERCHANT_ID")
	amount := r.PostFormValue("AMOUNT")
	orderID := r.PostFormValue("MERCHANT_ORDER_ID")
	sign := r.PostFormValue("SIGN")
	if merchantID == "" || amount == "" || orderID == "" || sign == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "callback is missing required fields", nil))
		return
	}

	raw := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		raw[key] = r.PostFormValue(key)
	}

	err := h.confirmer.Confirm(ctx, billing.Confirmation{
		MerchantID: merchantID,
		Amount:     amount,
		OrderID:    orderID,
		Sign:       sign,
		Raw:        raw,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "payment confirmation rejected",
			"order_id", orderID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	// The gateway looks for this exact body.
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
