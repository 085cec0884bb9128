package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/internal/external"
	"arcana/internal/types"
)

type mockLedger struct {
	admitted bool
	debitErr error
	snapshot *types.QuotaSnapshot
	snapErr  error

	debitCalls int
	debitedID  types.Identity
}

func (m *mockLedger) CheckAndDebit(_ context.Context, id types.Identity) (bool, error) {
	m.debitCalls++
	m.debitedID = id
	return m.admitted, m.debitErr
}

func (m *mockLedger) Snapshot(_ context.Context, _ types.Identity) (*types.QuotaSnapshot, error) {
	return m.snapshot, m.snapErr
}

type mockEngine struct {
	result *external.WorkflowResult
	err    error

	gotReq external.WorkflowRequest
	calls  int
}

func (m *mockEngine) Ask(_ context.Context, req external.WorkflowRequest) (*external.WorkflowResult, error) {
	m.calls++
	m.gotReq = req
	return m.result, m.err
}

type mockCardStore struct {
	cards []types.Card
	err   error
}

func (m *mockCardStore) List(_ context.Context) ([]types.Card, error) {
	return m.cards, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func identityRequest(method, target, body string, id types.Identity) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(types.WithIdentity(req.Context(), id))
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func TestHandleAsk_Success(t *testing.T) {
	ledger := &mockLedger{admitted: true, snapshot: &types.QuotaSnapshot{Remaining: 4}}
	engine := &mockEngine{result: &external.WorkflowResult{Output: "the stars align"}}
	h := NewAssistantHandler(ledger, engine, &mockCardStore{}, discardLogger())

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"horoscope","input":"what awaits me"}`,
		types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "the stars align", resp.Output)
	assert.Equal(t, 4, resp.Remaining)
	assert.False(t, resp.LimitReached)

	assert.Equal(t, "horoscope", engine.gotReq.Service)
	assert.Equal(t, "what awaits me", engine.gotReq.Input)
	assert.Equal(t, "2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90", engine.gotReq.UserID)
	assert.Empty(t, engine.gotReq.Cards, "non-tarot services draw no cards")
}

func TestHandleAsk_ExhaustedIsSoft200(t *testing.T) {
	ledger := &mockLedger{admitted: false}
	engine := &mockEngine{}
	h := NewAssistantHandler(ledger, engine, &mockCardStore{}, discardLogger())

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"horoscope","input":"again"}`,
		types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	decodeData(t, rec, &resp)
	assert.True(t, resp.LimitReached)
	assert.Equal(t, 0, resp.Remaining)
	assert.Equal(t, 0, engine.calls, "workflow must not run for a rejected request")
}

func TestHandleAsk_TarotDrawsThreeDistinctCards(t *testing.T) {
	deck := []types.Card{
		{Name: "The Moon"},
		{Name: "The Moon (Reversed)"},
		{Name: "The Sun"},
		{Name: "The Tower"},
		{Name: "The Star"},
	}
	ledger := &mockLedger{admitted: true, snapshot: &types.QuotaSnapshot{Remaining: 2}}
	engine := &mockEngine{result: &external.WorkflowResult{Output: "a reading"}}
	h := NewAssistantHandler(ledger, engine, &mockCardStore{cards: deck}, discardLogger())
	// Identity shuffle keeps catalog order, so the reversed Moon is skipped.
	h.shuffle = func(int, func(i, j int)) {}

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"tarot","input":"what awaits me"}`,
		types.AccountIdentity("user-1"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	decodeData(t, rec, &resp)
	require.Len(t, resp.Cards, 3)
	assert.Equal(t, "The Moon", resp.Cards[0].Name)
	assert.Equal(t, "The Sun", resp.Cards[1].Name)
	assert.Equal(t, "The Tower", resp.Cards[2].Name)

	require.Len(t, engine.gotReq.Cards, 3, "drawn cards go to the workflow")
}

func TestHandleAsk_TarotCatalogTooSmall(t *testing.T) {
	ledger := &mockLedger{admitted: true}
	h := NewAssistantHandler(ledger, &mockEngine{}, &mockCardStore{cards: []types.Card{{Name: "The Moon"}}}, discardLogger())

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"tarot","input":"what awaits me"}`,
		types.AccountIdentity("user-1"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleAsk_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing service", `{"input":"x"}`},
		{"missing input", `{"service":"tarot"}`},
		{"unknown field", `{"service":"tarot","input":"x","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{admitted: true}
			h := NewAssistantHandler(ledger, &mockEngine{}, &mockCardStore{}, discardLogger())

			req := identityRequest(http.MethodPost, "/v1/assistant/ask", tt.body,
				types.AccountIdentity("user-1"))
			rec := httptest.NewRecorder()
			h.HandleAsk(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, ledger.debitCalls, "invalid requests must not consume quota")
		})
	}
}

func TestHandleAsk_NoIdentity(t *testing.T) {
	h := NewAssistantHandler(&mockLedger{}, &mockEngine{}, &mockCardStore{}, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/assistant/ask",
		strings.NewReader(`{"service":"tarot","input":"x"}`))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAsk_UpstreamFailure(t *testing.T) {
	ledger := &mockLedger{admitted: true}
	engine := &mockEngine{err: types.NewAppError(types.ErrCodeUpstreamWorkflow, "workflow engine returned 502", nil)}
	h := NewAssistantHandler(ledger, engine, &mockCardStore{}, discardLogger())

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"horoscope","input":"x"}`,
		types.AccountIdentity("user-1"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleAsk_SnapshotFailureStillAnswers(t *testing.T) {
	ledger := &mockLedger{
		admitted: true,
		snapErr:  types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve profile", nil),
	}
	engine := &mockEngine{result: &external.WorkflowResult{Output: "a reading"}}
	h := NewAssistantHandler(ledger, engine, &mockCardStore{}, discardLogger())

	req := identityRequest(http.MethodPost, "/v1/assistant/ask",
		`{"service":"horoscope","input":"x"}`,
		types.AccountIdentity("user-1"))
	rec := httptest.NewRecorder()
	h.HandleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "a reading", resp.Output)
	assert.Equal(t, 0, resp.Remaining)
}
