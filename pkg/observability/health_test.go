package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_NoDatabase(t *testing.T) {
	h := NewHealthChecker(nil)
	report := h.Check(context.Background())

	assert.Equal(t, StatusReady, report.Status)
	assert.Equal(t, StatusDisabled, report.Checks["database"])
}

func TestHealthChecker_Probes(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		extra      CheckFunc
		wantStatus string
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "all_ready",
			db:         stubPinger{},
			extra:      func(context.Context) error { return nil },
			wantStatus: StatusReady,
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"database": StatusReady, "notifications": StatusReady},
		},
		{
			name:       "database_down",
			db:         stubPinger{err: errors.New("connection refused")},
			extra:      func(context.Context) error { return nil },
			wantStatus: StatusNotReady,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "not_ready: connection refused", "notifications": StatusReady},
		},
		{
			name:       "backlog_full",
			extra:      func(context.Context) error { return errors.New("queue 95% full") },
			wantStatus: StatusNotReady,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": StatusDisabled, "notifications": "not_ready: queue 95% full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.db)
			h.AddCheck("notifications", tt.extra)

			rec := httptest.NewRecorder()
			h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var report ReadinessReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantChecks, report.Checks)
		})
	}
}

func TestHealthChecker_ProbeHonoursTimeout(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report := h.Check(ctx)
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Contains(t, report.Checks["slow"], "deadline exceeded")
}

func TestHealthChecker_AddCheckReplaces(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("store", func(context.Context) error { return errors.New("down") })
	h.AddCheck("store", func(context.Context) error { return nil })

	assert.Equal(t, StatusReady, h.Check(context.Background()).Status)
}

func TestMetricsHandler_Routes(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("notifications", func(context.Context) error { return errors.New("backlog") })
	handler := NewMetricsHandler(h)

	tests := []struct {
		path string
		want int
	}{
		{path: "/livez", want: http.StatusOK},
		{path: "/readyz", want: http.StatusServiceUnavailable},
		{path: "/metrics", want: http.StatusOK},
		{path: "/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
