package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/scheduler"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T, secret string) (*gin.Engine, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	calls := 0
	jobs := []scheduler.Job{
		{Name: scheduler.JobReleaseEscrow, Run: func(context.Context) (scheduler.Result, error) {
			calls++
			return scheduler.Result{"released": 2}, nil
		}},
		{Name: scheduler.JobExpireDisputes, Run: func(context.Context) (scheduler.Result, error) {
			return nil, errors.New("db down")
		}},
	}
	r := gin.New()
	NewSweepHandler(jobs, resilience.TestTimeoutConfig(), zap.NewNop(), secret).Register(r)
	return r, &calls
}

func TestSweepHandler_Authentication(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		header     string
		value      string
		wantStatus int
	}{
		{name: "header_secret", secret: "s3cret", header: SecretHeader, value: "s3cret", wantStatus: http.StatusOK},
		{name: "bearer_secret", secret: "s3cret", header: "Authorization", value: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "wrong_secret", secret: "s3cret", header: SecretHeader, value: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing_secret", secret: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "unconfigured_secret_rejects_all", secret: "", header: SecretHeader, value: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, calls := newRouter(t, tt.secret)
			req := httptest.NewRequest(http.MethodPost, "/cron/release-escrow", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, 1, *calls)
			} else {
				assert.Zero(t, *calls)
			}
		})
	}
}

func TestSweepHandler_Responses(t *testing.T) {
	r, _ := newRouter(t, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/cron/release-escrow", nil)
	req.Header.Set(SecretHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, scheduler.JobReleaseEscrow, resp.Job)
	assert.Equal(t, 2, resp.Result["released"])

	req = httptest.NewRequest(http.MethodPost, "/cron/expire-disputes", nil)
	req.Header.Set(SecretHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "db down", resp.Error)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cron/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
