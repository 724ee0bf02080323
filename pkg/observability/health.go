package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const probeTimeout = 2 * time.Second

// Readiness values reported in ReadinessReport.Status and per probe
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusDisabled = "disabled"
)

// ReadinessReport is the body served on /readyz
type ReadinessReport struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// CheckFunc reports a dependency as unhealthy by returning an error
type CheckFunc func(ctx context.Context) error

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

type probe struct {
	name string
	fn   CheckFunc
}

// HealthChecker evaluates the registered dependency probes
type HealthChecker struct {
	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker registers db as the "database" probe. A nil db (the
// in-memory store) is reported as disabled and never fails readiness.
func NewHealthChecker(db Pinger) *HealthChecker {
	h := &HealthChecker{}
	if db != nil {
		h.AddCheck("database", db.Ping)
	} else {
		h.AddCheck("database", nil)
	}
	return h
}

// AddCheck registers a named probe. Registering a name twice replaces it.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.probes {
		if h.probes[i].name == name {
			h.probes[i].fn = fn
			return
		}
	}
	h.probes = append(h.probes, probe{name: name, fn: fn})
}

// Check runs every probe concurrently, each under its own timeout
func (h *HealthChecker) Check(ctx context.Context) ReadinessReport {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]string, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		if p.fn == nil {
			results[i] = StatusDisabled
			continue
		}
		wg.Add(1)
		go func(i int, fn CheckFunc) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			if err := fn(pctx); err != nil {
				results[i] = StatusNotReady + ": " + err.Error()
				return
			}
			results[i] = StatusReady
		}(i, p.fn)
	}
	wg.Wait()

	report := ReadinessReport{
		Status:    StatusReady,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(probes)),
	}
	for i, p := range probes {
		report.Checks[p.name] = results[i]
		if results[i] != StatusReady && results[i] != StatusDisabled {
			report.Status = StatusNotReady
		}
	}
	return report
}

// ReadyHandler serves the readiness report, answering 503 while any probe fails
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())

		code := http.StatusOK
		if report.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}
