package ports

import (
	"time"

	"github.com/shopspring/decimal"
)

// Logger is the structured logger services write to. Adapters that talk to
// infrastructure take *zap.Logger directly.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
}

// Field is one structured key/value pair
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Money logs an amount with its two fixed decimal places, e.g. "90.00"
func Money(key string, amount decimal.Decimal) Field {
	return Field{Key: key, Value: amount.StringFixed(2)}
}

// Err creates the conventional "error" field
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
