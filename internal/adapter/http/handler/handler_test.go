package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/core/ports/mocks"
	"deposit-ledger/internal/metrics"
	"deposit-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testToken = "operator-token"

type routerTestDeps struct {
	router    *gin.Engine
	ledger    *mocks.MockLedgerService
	registry  *mocks.MockAddressRegistry
	reporting *mocks.MockReportingService
	settings  *mocks.MockSettingsService
	sweeps    *mocks.MockSweepAgent
}

func setupRouter(t *testing.T, checkers ...ports.HealthChecker) *routerTestDeps {
	ctrl := gomock.NewController(t)
	d := &routerTestDeps{
		ledger:    mocks.NewMockLedgerService(ctrl),
		registry:  mocks.NewMockAddressRegistry(ctrl),
		reporting: mocks.NewMockReportingService(ctrl),
		settings:  mocks.NewMockSettingsService(ctrl),
		sweeps:    mocks.NewMockSweepAgent(ctrl),
	}

	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate(testToken).Return(&ports.TokenClaims{Operator: "ops"}, nil).AnyTimes()
	tokens.EXPECT().Validate(gomock.Not(testToken)).Return(nil, errors.New("bad token")).AnyTimes()

	d.router = SetupRouter(RouterDeps{
		Ledger:         d.ledger,
		Registry:       d.registry,
		Reporting:      d.reporting,
		Settings:       d.settings,
		Sweeps:         d.sweeps,
		TokenSvc:       tokens,
		HealthCheckers: checkers,
		Metrics:        metrics.New(),
		MinRetain:      5000,
		Mode:           gin.TestMode,
		Logger:         zerolog.Nop(),
	})
	return d
}

func (d *routerTestDeps) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

type staticChecker struct {
	name string
	err  error
}

func (s staticChecker) Ping(context.Context) error { return s.err }
func (s staticChecker) Name() string               { return s.name }

// --- Auth ---

func TestRouter_RequiresOperatorToken(t *testing.T) {
	d := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/1", nil)
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w = httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", errorCode(t, w))
}

// --- Accounts ---

func TestCreateAccount(t *testing.T) {
	d := setupRouter(t)
	ref := int64(99)
	d.ledger.EXPECT().EnsureAccount(gomock.Any(), int64(42), &ref).
		Return(&domain.Account{ID: 7, ExternalID: 42, ReferrerID: &ref, CreatedAt: time.Now()}, nil)

	w := d.do(http.MethodPost, "/api/v1/accounts", `{"external_id":42,"referrer_external_id":99}`)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(7), data["id"])
	assert.Equal(t, "0.000000000", data["balance_sol"])
}

func TestCreateAccount_ValidationError(t *testing.T) {
	d := setupRouter(t)
	w := d.do(http.MethodPost, "/api/v1/accounts", `{"external_id":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "LED_002", errorCode(t, w))
}

func TestGetAccount_BadID(t *testing.T) {
	d := setupRouter(t)
	for _, id := range []string{"abc", "0", "-3"} {
		w := d.do(http.MethodGet, "/api/v1/accounts/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "id %s", id)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().GetAccount(gomock.Any(), int64(5)).Return(nil, apperror.ErrNotFound("account"))

	w := d.do(http.MethodGet, "/api/v1/accounts/5", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "LED_004", errorCode(t, w))
}

func TestProvisionAddress(t *testing.T) {
	d := setupRouter(t)
	d.registry.EXPECT().GetOrCreateAddress(gomock.Any(), int64(3)).Return("Addr3", nil)

	w := d.do(http.MethodPost, "/api/v1/accounts/3/address", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Addr3", decodeData(t, w)["address"])
}

func TestProvisionAddress_Busy(t *testing.T) {
	d := setupRouter(t)
	d.registry.EXPECT().GetOrCreateAddress(gomock.Any(), int64(3)).Return("", apperror.ErrProvisioningBusy())

	w := d.do(http.MethodPost, "/api/v1/accounts/3/address", "")
	assert.Equal(t, "ADR_001", errorCode(t, w))
}

func TestBalance(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().GetBalance(gomock.Any(), int64(3)).Return(int64(1_500_000_000), nil)

	w := d.do(http.MethodGet, "/api/v1/accounts/3/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1_500_000_000), data["balance"])
	assert.Equal(t, "1.500000000", data["balance_sol"])
}

func TestCredit_SOLAmount(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().Credit(gomock.Any(), ports.EntryRequest{
		AccountID: 3,
		Amount:    250_000_000,
		Category:  domain.CategoryAdjustment,
		Tag:       "manual-7",
	}).Return(&ports.PostingResult{
		Entry:   domain.LedgerEntry{ID: 11, AccountID: 3, Tag: "manual-7", Amount: 250_000_000, Category: domain.CategoryAdjustment},
		Balance: 250_000_000,
	}, nil)

	w := d.do(http.MethodPost, "/api/v1/accounts/3/credits", `{"amount_sol":"0.25","category":"adjustment","tag":"manual-7"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(250_000_000), data["balance"])
	entry := data["entry"].(map[string]interface{})
	assert.Equal(t, "manual-7", entry["tag"])
}

func TestCredit_AmountChoice(t *testing.T) {
	d := setupRouter(t)
	w := d.do(http.MethodPost, "/api/v1/accounts/3/credits", `{"amount":5,"amount_sol":"1","category":"adjustment","tag":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = d.do(http.MethodPost, "/api/v1/accounts/3/credits", `{"category":"adjustment","tag":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDebit_Insufficient(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().Debit(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInsufficientBalance())

	w := d.do(http.MethodPost, "/api/v1/accounts/3/debits", `{"amount":10,"category":"adjustment","tag":"fix-1"}`)
	assert.Equal(t, "LED_001", errorCode(t, w))
}

func TestPurchase(t *testing.T) {
	d := setupRouter(t)
	referrer := int64(1)
	d.ledger.EXPECT().Purchase(gomock.Any(), ports.PurchaseRequest{
		AccountID: 3, OrderRef: "ord-9", UnitPrice: 1000, Quantity: 2,
	}).Return(&ports.PurchaseResult{Charged: 1900, Discount: 100, Balance: 100, Commission: 100, ReferrerID: &referrer}, nil)

	w := d.do(http.MethodPost, "/api/v1/accounts/3/purchases", `{"order_ref":"ord-9","unit_price":1000,"quantity":2}`)

	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1900), data["charged"])
	assert.Equal(t, float64(1), data["referrer_id"])
}

func TestPurchase_Duplicate(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().Purchase(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrDuplicateEntry())

	w := d.do(http.MethodPost, "/api/v1/accounts/3/purchases", `{"order_ref":"ord-9","unit_price":1000,"quantity":1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEntries(t *testing.T) {
	d := setupRouter(t)
	category := domain.CategoryDeposit
	d.reporting.EXPECT().Statement(gomock.Any(), ports.EntryListParams{
		AccountID: 3, Category: &category, Page: 2, PageSize: 500,
	}).Return([]domain.LedgerEntry{{ID: 1, Tag: "sig", Amount: 10, Category: category}}, int64(101), nil)

	w := d.do(http.MethodGet, "/api/v1/accounts/3/entries?category=deposit&page=2&page_size=500", "")

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(100), data["page_size"])
	assert.Equal(t, float64(2), data["total_pages"])
	assert.Len(t, data["items"], 1)
}

func TestReferralsAndReconciliation(t *testing.T) {
	d := setupRouter(t)
	d.reporting.EXPECT().ReferralStats(gomock.Any(), int64(3)).
		Return(&domain.ReferralStats{AccountID: 3, ReferredCount: 2, EarnedFromLedger: 50, EarnedCached: 50}, nil)
	d.reporting.EXPECT().CheckBalance(gomock.Any(), int64(3)).
		Return(&domain.BalanceCheck{AccountID: 3, Cached: 10, LedgerSum: 10, Consistent: true}, nil)

	w := d.do(http.MethodGet, "/api/v1/accounts/3/referrals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeData(t, w)["referred_count"])

	w = d.do(http.MethodGet, "/api/v1/accounts/3/reconciliation", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeData(t, w)["consistent"])
}

// --- Sweeps ---

func TestSweepAll_DefaultFloor(t *testing.T) {
	d := setupRouter(t)
	d.sweeps.EXPECT().SweepAll(gomock.Any(), uint64(5000)).
		Return(&domain.BatchSweepResult{BatchID: "b1", Succeeded: 2, TotalLamports: 900}, nil)

	w := d.do(http.MethodPost, "/api/v1/sweeps", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b1", decodeData(t, w)["batch_id"])
}

func TestSweepOne_FloorOverride(t *testing.T) {
	d := setupRouter(t)
	d.sweeps.EXPECT().Sweep(gomock.Any(), int64(4), uint64(0)).
		Return(&domain.SweepResult{AccountID: 4, Status: domain.SweepStatusSwept, Lamports: 10}, nil)

	w := d.do(http.MethodPost, "/api/v1/sweeps/4", `{"min_retain_lamports":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "swept", decodeData(t, w)["status"])
}

func TestSweepOne_FailureCarriesResult(t *testing.T) {
	d := setupRouter(t)
	d.sweeps.EXPECT().Sweep(gomock.Any(), int64(4), uint64(5000)).
		Return(&domain.SweepResult{AccountID: 4, Status: domain.SweepStatusFailed, Reason: "transfer rejected"},
			apperror.ErrSweepFailed(errors.New("rejected")))

	w := d.do(http.MethodPost, "/api/v1/sweeps/4", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "SWP_002", errorCode(t, w))
	assert.Equal(t, "transfer rejected", decodeData(t, w)["reason"])
}

// --- Admin ---

func TestStats(t *testing.T) {
	d := setupRouter(t)
	d.reporting.EXPECT().SystemStats(gomock.Any()).Return(&domain.SystemStats{Accounts: 4, TotalSwept: 70}, nil)

	w := d.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(70), decodeData(t, w)["total_swept"])
}

func TestSettings(t *testing.T) {
	d := setupRouter(t)
	d.settings.EXPECT().All(gomock.Any()).Return(map[string]string{"referral_bonus_percent": "5"}, nil)
	d.settings.EXPECT().Set(gomock.Any(), "referral_bonus_percent", "7.5").Return(nil)
	d.settings.EXPECT().Get(gomock.Any(), "referral_bonus_percent").Return("7.5", nil)
	d.settings.EXPECT().Set(gomock.Any(), "referral_bonus_percent", "150").
		Return(apperror.Validation("referral_bonus_percent must not exceed 100"))

	w := d.do(http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", decodeData(t, w)["referral_bonus_percent"])

	w = d.do(http.MethodPut, "/api/v1/settings/referral_bonus_percent", `{"value":" 7.5 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7.5", decodeData(t, w)["value"])

	w = d.do(http.MethodPut, "/api/v1/settings/referral_bonus_percent", `{"value":"150"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Health & metrics ---

func TestHealthCheck(t *testing.T) {
	d := setupRouter(t, staticChecker{name: "postgresql"}, staticChecker{name: "solana-rpc", err: errors.New("timeout")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp struct {
		Status       string                       `json:"status"`
		Dependencies map[string]map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "healthy", resp.Dependencies["postgresql"]["status"])
	assert.Equal(t, "timeout", resp.Dependencies["solana-rpc"]["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	d := setupRouter(t)
	d.ledger.EXPECT().GetBalance(gomock.Any(), int64(1)).Return(int64(0), nil)
	d.do(http.MethodGet, "/api/v1/accounts/1/balance", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `path="/api/v1/accounts/:id/balance"`))
}
