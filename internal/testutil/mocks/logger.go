// Package mocks provides shared mock implementations for testing.
package mocks

import (
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// MockLogger records log calls. It is safe for concurrent use.
type MockLogger struct {
	mu    sync.Mutex
	calls []LogCall
}

// LogCall represents a captured log call
type LogCall struct {
	Level   string
	Message string
	Fields  []ports.Field
}

var _ ports.Logger = (*MockLogger)(nil)

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(level, msg string, fields []ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, LogCall{Level: level, Message: msg, Fields: fields})
}

func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.record("info", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.record("error", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.record("warn", msg, fields) }
func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.record("debug", msg, fields) }

// Calls returns captured calls at level, or every call when level is empty
func (m *MockLogger) Calls(level string) []LogCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LogCall
	for _, c := range m.calls {
		if level == "" || c.Level == level {
			out = append(out, c)
		}
	}
	return out
}

// HasMessage reports whether msg was logged at level
func (m *MockLogger) HasMessage(level, msg string) bool {
	for _, c := range m.Calls(level) {
		if c.Message == msg {
			return true
		}
	}
	return false
}
