package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/payments"
	"github.com/vietddude/payguard/internal/core/recovery"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/worker"
	"github.com/vietddude/payguard/internal/health"
	"github.com/vietddude/payguard/internal/infra/provider"
	"github.com/vietddude/payguard/internal/infra/storage/memory"
)

var testSecret = []byte("api-test-secret")

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewMemoryStorage()
	ledger := holds.NewLedger(nil)
	signer, err := recovery.NewSigner("test-secret")
	require.NoError(t, err)

	orch := retry.NewOrchestrator(store, ledger, nil)
	exec := worker.NewExecutor(provider.NewRegistry(provider.NewMockAdapter("fincra")), orch, nil)
	svc := payments.NewService(payments.Deps{
		Store:     store,
		Ledger:    ledger,
		Orch:      orch,
		Recovery:  recovery.NewService(store, memory.NewSessionRepo(), ledger, signer, recovery.Config{}),
		Executor:  exec,
		Processor: worker.NewRetryProcessor(worker.ProcessorConfig{}, store, exec, nil),
	})
	monitor := health.NewMonitor(store, nil, nil, health.DefaultThresholds())
	return NewRouter(NewHandler(svc, nil), monitor, testSecret, nil)
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// Authentication
// =============================================================================

func TestParseToken(t *testing.T) {
	caller, err := ParseToken(token(t, "svc", "system", "operator"), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "svc", caller.UserID)
	assert.True(t, caller.Has(authz.RoleSystem))
	assert.True(t, caller.Has(authz.RoleOperator))

	_, err = ParseToken(token(t, "svc"), []byte("other-secret"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = ParseToken(token(t, ""), testSecret)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(none, testSecret)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/v1/transactions/x", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/transactions/x", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/transactions/x", token(t, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

// =============================================================================
// Use cases
// =============================================================================

func TestDepositVarianceAndRedeemFlow(t *testing.T) {
	router := newTestRouter(t)
	alice := token(t, "alice")
	system := token(t, "worker", "system")

	rec := do(t, router, http.MethodPost, "/v1/deposits", alice, map[string]any{
		"currency":        "USD",
		"expected_amount": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txID := decodeBody(t, rec)["id"].(string)

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txID+"/variance", alice, map[string]any{
		"received_amount": "90",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txID+"/variance", system, map[string]any{
		"received_amount": "90",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "self_service", body["category"])
	sessionKey := body["session_key"].(string)
	require.NotEmpty(t, sessionKey)

	rec = do(t, router, http.MethodPost, "/v1/recovery/"+sessionKey+"/redeem", token(t, "bob"), map[string]any{
		"action": "cancel_refund",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/recovery/"+sessionKey+"/redeem", alice, map[string]any{
		"action": "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/recovery/"+sessionKey+"/redeem", alice, map[string]any{
		"action": "cancel_refund",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Equal(t, "ok", body["outcome"])
	assert.Equal(t, "released", body["hold_status"])

	rec = do(t, router, http.MethodGet, "/v1/transactions/"+txID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decodeBody(t, rec)["transaction"].(map[string]any)
	assert.Equal(t, "cancelled", tx["status"])

	rec = do(t, router, http.MethodGet, "/v1/wallets/alice/usd", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wallet := decodeBody(t, rec)["wallet"].(map[string]any)
	assert.Equal(t, "90", wallet["available_balance"])

	rec = do(t, router, http.MethodGet, "/v1/wallets/alice/usd", token(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/recovery/rs_unknown/redeem", alice, map[string]any{
		"action": "cancel_refund",
	})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestCashoutEndpoints(t *testing.T) {
	router := newTestRouter(t)
	alice := token(t, "alice")
	system := token(t, "worker", "system")

	rec := do(t, router, http.MethodPost, "/v1/cashouts", alice, map[string]any{
		"currency": "US",
		"amount":   "10",
		"provider": "fincra",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/cashouts", alice, map[string]any{
		"currency": "USD",
		"amount":   "10",
		"provider": "fincra",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "empty wallet cannot cash out")

	rec = do(t, router, http.MethodPost, "/v1/cashouts", alice, map[string]any{
		"user_id":  "bob",
		"currency": "USD",
		"amount":   "10",
		"provider": "fincra",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/transactions/missing/failures", alice, map[string]any{"code": "API_TIMEOUT"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/transactions/missing/failures", system, map[string]any{"code": "API_TIMEOUT"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/transactions/missing/failures", system, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/retry/batch", system, map[string]any{"limit": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/v1/retry/batch", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	router := newTestRouter(t)
	alice := token(t, "alice")

	rec := do(t, router, http.MethodPost, "/v1/deposits", alice, map[string]any{
		"currency":        "USD",
		"expected_amount": "25",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	txID := decodeBody(t, rec)["id"].(string)

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txID+"/cancel", token(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txID+"/cancel", token(t, "ops", "operator"), map[string]any{
		"reason": "duplicate order",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody(t, rec)["status"])

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txID+"/variance", token(t, "worker", "system"), map[string]any{
		"received_amount": "25",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
