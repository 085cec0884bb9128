package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arcana/internal/db"
	"arcana/internal/types"
)

// PlanStore is the catalog access the billing service needs.
type PlanStore interface {
	GetByID(ctx context.Context, planID string) (*types.Plan, error)
	List(ctx context.Context) ([]types.Plan, error)
}

// PaymentStore is the payment-record access the billing service needs.
type PaymentStore interface {
	CreatePending(ctx context.Context, p *types.Payment) error
	GetByProviderOrder(ctx context.Context, provider, providerOrderID string) (*types.Payment, error)
	MarkPaid(ctx context.Context, paymentID string, rawPayload map[string]string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]types.Payment, error)
}

// EntitlementStore is the profile mutation applied on confirmation.
type EntitlementStore interface {
	ApplyPlan(ctx context.Context, userID string, plan types.Plan, now time.Time) error
}

// Purchase is the result of initiating a purchase: the visitor is redirected
// to PayURL and the gateway later confirms against OrderID.
type Purchase struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	PayURL    string `json:"pay_url"`
}

// Confirmation is the gateway's server-to-server callback, decoded from its
// form-encoded body. MerchantID and Amount are the received strings, kept
// verbatim because the signature binds them as sent. Raw carries every
// received field for audit.
type Confirmation struct {
	MerchantID string
	Amount     string
	OrderID    string
	Sign       string
	Raw        map[string]string
}

// Service implements the purchase lifecycle: initiation creates a pending
// payment record and a signed checkout URL; confirmation verifies the
// gateway's signature and applies the plan exactly once per order.
type Service struct {
	gateway  *Gateway
	pool     db.TxBeginner
	plans    PlanStore
	payments PaymentStore
	logger   *slog.Logger
	now      func() time.Time

	// txStores builds transaction-scoped stores for the confirmation
	// transition. Overridable in tests.
	txStores func(tx db.DBTX) (PaymentStore, EntitlementStore)
}

// NewService creates the billing Service.
func NewService(gateway *Gateway, pool db.TxBeginner, plans PlanStore, payments PaymentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:  gateway,
		pool:     pool,
		plans:    plans,
		payments: payments,
		logger:   logger,
		now:      time.Now,
		txStores: func(tx db.DBTX) (PaymentStore, EntitlementStore) {
			return db.NewPaymentRepository(tx), db.NewProfileRepository(tx)
		},
	}
}

// WithClock overrides the service's clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StartPurchase initiates a purchase of planID for the account: it persists
// a pending payment record, then returns the signed checkout URL. The record
// exists BEFORE the visitor leaves for the gateway, so the confirmation
// callback can always find its order.
func (s *Service) StartPurchase(ctx context.Context, userID, planID string) (*Purchase, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.PriceCents <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPlan, "plan is not purchasable", nil)
	}

	orderID := fmt.Sprintf("%s-%d", userID, s.now().UnixMilli())
	amount := FormatAmount(plan.PriceCents)

	payment := &types.Payment{
		ID:              uuid.NewString(),
		UserID:          userID,
		Provider:        ProviderFreeKassa,
		ProviderOrderID: orderID,
		PlanID:          plan.ID,
		AmountCents:     plan.PriceCents,
		Currency:        plan.Currency,
		Status:          types.PaymentPending,
	}
	if err := s.payments.CreatePending(ctx, payment); err != nil {
		return nil, err
	}

	payURL, err := s.gateway.PayURL(amount, plan.Currency, orderID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build checkout url", err)
	}

	s.logger.InfoContext(ctx, "purchase initiated",
		"user_id", userID,
		"plan_id", plan.ID,
		"order_id", orderID,
	)

	return &Purchase{
		PaymentID: payment.ID,
		OrderID:   orderID,
		Amount:    amount,
		Currency:  plan.Currency,
		PayURL:    payURL,
	}, nil
}

// Confirm processes the gateway's confirmation callback. The signature is
// verified over the received merchant-id and amount strings before any
// lookup; an unknown order is reported as not found; a matching pending
// record transitions to paid and the plan is applied in the same
// transaction. Re-deliveries of an already-paid order return nil without
// touching the entitlement, so the gateway's retries are harmless.
func (s *Service) Confirm(ctx context.Context, c Confirmation) error {
	if !s.gateway.VerifyConfirmation(c.MerchantID, c.Amount, c.OrderID, c.Sign) {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "invalid payment signature", nil)
	}

	payment, err := s.payments.GetByProviderOrder(ctx, ProviderFreeKassa, c.OrderID)
	if err != nil {
		return err
	}
	if payment.Status == types.PaymentPaid {
		s.logger.InfoContext(ctx, "duplicate payment confirmation ignored", "order_id", c.OrderID)
		return nil
	}
	if c.Amount != FormatAmount(payment.AmountCents) {
		// The signature already binds the amount; a mismatch against the
		// recorded price means the visitor paid a different total.
		s.logger.WarnContext(ctx, "confirmed amount differs from recorded price",
			"order_id", c.OrderID,
			"confirmed", c.Amount,
			"recorded", FormatAmount(payment.AmountCents),
		)
	}

	plan, err := s.plans.GetByID(ctx, payment.PlanID)
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.pool, func(tx db.DBTX) error {
		payments, profiles := s.txStores(tx)

		transitioned, err := payments.MarkPaid(ctx, payment.ID, c.Raw)
		if err != nil {
			return err
		}
		if !transitioned {
			// A concurrent delivery won the transition and applied the plan.
			return nil
		}
		return profiles.ApplyPlan(ctx, payment.UserID, *plan, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "payment confirmed",
		"order_id", c.OrderID,
		"user_id", payment.UserID,
		"plan_id", plan.ID,
	)
	return nil
}

// Plans returns the purchasable catalog.
func (s *Service) Plans(ctx context.Context) ([]types.Plan, error) {
	return s.plans.List(ctx)
}

// PaymentsForUser returns the account's recent payment records.
func (s *Service) PaymentsForUser(ctx context.Context, userID string) ([]types.Payment, error) {
	return s.payments.ListByUser(ctx, userID, 50)
}
