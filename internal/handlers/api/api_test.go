package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/auth"
	"github.com/kevin07696/escrow-service/internal/domain"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/kevin07696/escrow-service/internal/testutil/engine"
	"github.com/kevin07696/escrow-service/pkg/middleware"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	engine *engine.Engine
	tokens *auth.TokenManager
	router *gin.Engine
}

func newFixture(t *testing.T, limiter *middleware.RateLimiter) *apiFixture {
	t.Helper()
	e := engine.New(t, engine.Options{})
	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), "escrow-test", time.Hour)
	require.NoError(t, err)

	return &apiFixture{
		engine: e,
		tokens: tokens,
		router: NewRouter(RouterDeps{
			Purchases: e.PurchaseService,
			Disputes:  e.DisputeService,
			Tokens:    tokens,
			Limiter:   limiter,
			Timeouts:  resilience.TestTimeoutConfig(),
			Logger:    zap.NewNop(),
		}),
	}
}

func (f *apiFixture) token(t *testing.T, actor domain.Actor) string {
	t.Helper()
	tok, err := f.tokens.GenerateToken(actor.UserID, actor.Scopes)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, actor *domain.Actor, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, *actor))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func actor(a domain.Actor) *domain.Actor { return &a }

func TestPurchaseLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, actor(engine.Buyer), http.MethodPost, "/v1/purchases", gin.H{"product_id": "prod-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Purchase     domain.Purchase `json:"purchase"`
		ClientSecret string          `json:"client_secret"`
	}](t, w)
	assert.NotEmpty(t, created.ClientSecret)
	assert.Equal(t, domain.PurchaseStatusPendingPayment, created.Purchase.Status)

	w = f.do(t, actor(engine.Buyer), http.MethodPost, "/v1/purchases/confirm",
		gin.H{"payment_intent_id": created.Purchase.PaymentIntentID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.PurchaseStatusPaid, decode[domain.Purchase](t, w).Status)

	w = f.do(t, actor(engine.Seller), http.MethodGet, "/v1/purchases/"+created.Purchase.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, actor(engine.Buyer), http.MethodGet, "/v1/purchases/"+created.Purchase.ID+"/ledger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[svcports.LedgerView](t, w)
	assert.NotEmpty(t, view.Entries)
	assert.Empty(t, view.Discrepancy)
}

func TestPurchaseErrors(t *testing.T) {
	f := newFixture(t, nil)
	paid := f.engine.Paid(t)

	tests := []struct {
		name       string
		actor      *domain.Actor
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   domain.ErrorCode
	}{
		{
			name:       "missing_token",
			method:     http.MethodGet,
			path:       "/v1/purchases/" + paid.ID,
			wantStatus: http.StatusUnauthorized,
			wantCode:   domain.ErrorCodeAuthMissing,
		},
		{
			name:       "unknown_purchase",
			actor:      actor(engine.Buyer),
			method:     http.MethodGet,
			path:       "/v1/purchases/nope",
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ErrorCodePurchaseNotFound,
		},
		{
			name:       "stranger_cannot_view",
			actor:      actor(engine.Stranger),
			method:     http.MethodGet,
			path:       "/v1/purchases/" + paid.ID,
			wantStatus: http.StatusForbidden,
			wantCode:   domain.ErrorCodeAuthForbidden,
		},
		{
			name:       "unknown_product",
			actor:      actor(engine.Buyer),
			method:     http.MethodPost,
			path:       "/v1/purchases",
			body:       gin.H{"product_id": "missing"},
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ErrorCodeProductNotFound,
		},
		{
			name:       "buyer_cannot_refund",
			actor:      actor(engine.Buyer),
			method:     http.MethodPost,
			path:       "/v1/purchases/" + paid.ID + "/refund",
			wantStatus: http.StatusForbidden,
			wantCode:   domain.ErrorCodeAuthForbidden,
		},
		{
			name:       "refund_above_remaining",
			actor:      actor(engine.Admin),
			method:     http.MethodPost,
			path:       "/v1/purchases/" + paid.ID + "/refund",
			body:       gin.H{"amount": "1000.00"},
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.ErrorCodeValidationAmountInvalid,
		},
		{
			name:       "paid_purchase_cannot_be_cancelled",
			actor:      actor(engine.Buyer),
			method:     http.MethodPost,
			path:       "/v1/purchases/" + paid.ID + "/cancel",
			wantStatus: http.StatusConflict,
			wantCode:   domain.ErrorCodeInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.actor, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[errorEnvelope](t, w).Error.Code)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/purchases", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+f.token(t, engine.Buyer))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrorCodeValidationFailed, decode[errorEnvelope](t, w).Error.Code)
}

func TestAdminPartialRefund(t *testing.T) {
	f := newFixture(t, nil)
	paid := f.engine.Paid(t)

	w := f.do(t, actor(engine.Admin), http.MethodPost, "/v1/purchases/"+paid.ID+"/refund",
		gin.H{"amount": "25.50", "reason": "goodwill"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	f.engine.RequireBalanced(t, paid.ID)
}

func TestDisputeFlow(t *testing.T) {
	f := newFixture(t, nil)
	paid := f.engine.Paid(t)

	w := f.do(t, actor(engine.Buyer), http.MethodPost, "/v1/disputes", gin.H{
		"purchase_id": paid.ID,
		"type":        domain.DisputeTypeNotAsDescribed,
		"title":       "Wrong course",
		"description": "the syllabus does not match the listing",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := decode[domain.Dispute](t, w)
	assert.Equal(t, engine.Buyer.UserID, d.DisputerID)

	w = f.do(t, actor(engine.Buyer), http.MethodPost, "/v1/disputes", gin.H{
		"purchase_id": paid.ID,
		"type":        domain.DisputeTypeOther,
		"description": "again",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrorCodeAlreadyDisputed, decode[errorEnvelope](t, w).Error.Code)

	w = f.do(t, actor(engine.Seller), http.MethodPost, "/v1/disputes/"+d.ID+"/responses",
		gin.H{"message": "the syllabus was updated last week"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[domain.Dispute](t, w).ResponseCount)

	w = f.do(t, actor(engine.Seller), http.MethodPost, "/v1/disputes/"+d.ID+"/resolve",
		gin.H{"resolution": "refund_full"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, actor(engine.Admin), http.MethodPost, "/v1/disputes/"+d.ID+"/resolve",
		gin.H{"resolution": "refund_full", "notes": "listing was misleading"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.DisputeStatusResolved, decode[domain.Dispute](t, w).Status)

	w = f.do(t, actor(engine.Buyer), http.MethodGet, "/v1/disputes/"+d.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[svcports.DisputeView](t, w)
	assert.NotEmpty(t, view.History)

	f.engine.RequireBalanced(t, paid.ID)
}

func TestDisputeWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	_, d := f.engine.Disputed(t, domain.DisputeTypeQualityIssue)

	w := f.do(t, actor(engine.Seller), http.MethodPost, "/v1/disputes/"+d.ID+"/withdraw", nil)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = f.do(t, actor(engine.Buyer), http.MethodPost, "/v1/disputes/"+d.ID+"/withdraw", gin.H{"reason": "sorted it out"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.DisputeStatusCancelled, decode[domain.Dispute](t, w).Status)
}

func TestDisputeAssign(t *testing.T) {
	f := newFixture(t, nil)
	_, d := f.engine.Disputed(t, domain.DisputeTypeQualityIssue)

	w := f.do(t, actor(engine.Seller), http.MethodPost, "/v1/disputes/"+d.ID+"/assign", nil)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = f.do(t, actor(engine.Admin), http.MethodPost, "/v1/disputes/"+d.ID+"/assign", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assigned := decode[domain.Dispute](t, w)
	assert.Equal(t, engine.Admin.UserID, assigned.AssignedAdminID)
	assert.Equal(t, domain.DisputeStatusInvestigating, assigned.Status)

	w = f.do(t, actor(engine.Admin), http.MethodPost, "/v1/disputes/"+d.ID+"/responses",
		gin.H{"message": "please attach the course outline"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[domain.Dispute](t, w).ResponseCount)
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.001, 1)
	defer limiter.Shutdown()
	f := newFixture(t, limiter)

	path := "/v1/purchases/nope"
	assert.Equal(t, http.StatusNotFound, f.do(t, actor(engine.Buyer), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, actor(engine.Buyer), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, actor(engine.Seller), http.MethodGet, path, nil).Code)
}
