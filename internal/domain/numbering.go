package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SequenceKind prefixes a persisted human-readable identifier.
type SequenceKind string

const (
	SequenceOrder       SequenceKind = "ORD"
	SequenceTransaction SequenceKind = "TXN"
	SequenceDispute     SequenceKind = "DISP"
)

// MaxSequenceValue is the largest value that fits the 6-digit suffix.
const MaxSequenceValue int64 = 999999

// Valid reports whether k is a known sequence kind
func (k SequenceKind) Valid() bool {
	switch k {
	case SequenceOrder, SequenceTransaction, SequenceDispute:
		return true
	}
	return false
}

// FormatSequenceNumber renders KIND-YYYY-NNNNNN.
func FormatSequenceNumber(kind SequenceKind, year int, seq int64) (string, error) {
	if !kind.Valid() {
		return "", Errorf(ErrorCodeValidationFailed, "unknown sequence kind %q", kind)
	}
	if seq < 1 || seq > MaxSequenceValue {
		return "", Errorf(ErrorCodeValidationFailed, "sequence %d out of range for %s-%04d", seq, kind, year)
	}
	return fmt.Sprintf("%s-%04d-%06d", kind, year, seq), nil
}

// ParseSequenceNumber splits a formatted identifier back into its parts.
func ParseSequenceNumber(s string) (SequenceKind, int, int64, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[1]) != 4 || len(parts[2]) != 6 {
		return "", 0, 0, Errorf(ErrorCodeValidationFailed, "malformed sequence number %q", s)
	}

	kind := SequenceKind(parts[0])
	if !kind.Valid() {
		return "", 0, 0, Errorf(ErrorCodeValidationFailed, "unknown sequence kind in %q", s)
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, WrapError(ErrorCodeValidationFailed, "malformed year", err)
	}

	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return "", 0, 0, Errorf(ErrorCodeValidationFailed, "malformed sequence in %q", s)
	}

	return kind, year, seq, nil
}
