package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"arcana/internal/types"
)

func TestPaymentRepository_CreatePending_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := &types.Payment{
		ID:              "pay_1",
		UserID:          "user_1",
		Provider:        "freekassa",
		ProviderOrderID: "user_1-1767100000000",
		PlanID:          "sub_7d",
		AmountCents:     30000,
		Currency:        "RUB",
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.CreatePending(ctx, p)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPaymentRepository_GetByProviderOrder_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "pay_1"                       // id
			*dest[1].(*string) = "user_1"                      // user_id
			*dest[2].(*string) = "freekassa"                   // provider
			*dest[3].(*string) = "user_1-1767100000000"        // provider_order_id
			*dest[4].(*string) = "sub_7d"                      // plan_id
			*dest[5].(*int64) = 30000                          // amount_cents
			*dest[6].(*string) = "RUB"                         // currency
			*dest[7].(*types.PaymentStatus) = types.PaymentPending
			*dest[8].(*[]byte) = nil                           // raw_payload
			*dest[9].(*time.Time) = now                        // created_at
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	p, err := repo.GetByProviderOrder(ctx, "freekassa", "user_1-1767100000000")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentPending, p.Status)
	assert.Equal(t, int64(30000), p.AmountCents)
}

func TestPaymentRepository_GetByProviderOrder_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByProviderOrder(ctx, "freekassa", "unknown-order")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPayment, appErr.Code)
}

func TestPaymentRepository_MarkPaid_Transitioned(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	did, err := repo.MarkPaid(ctx, "pay_1", map[string]string{"AMOUNT": "300.00"})
	require.NoError(t, err)
	assert.True(t, did)
}

func TestPaymentRepository_MarkPaid_AlreadyPaid(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	// Status guard matched no rows: the record was already paid.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	did, err := repo.MarkPaid(ctx, "pay_1", map[string]string{"AMOUNT": "300.00"})
	require.NoError(t, err)
	assert.False(t, did)
}
