package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// executor returns tx when set, otherwise the pool
func executor(tx ports.DBTX, pool *pgxpool.Pool) ports.DBTX {
	if tx != nil {
		return tx
	}
	return pool
}

// lockingExecutor rejects row-lock reads outside a transaction, where the
// lock would be released before the caller could act on it
func lockingExecutor(tx ports.DBTX) (ports.DBTX, error) {
	if tx == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeInternalError, "row lock requested outside a transaction")
	}
	return tx, nil
}

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func numeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.StringFixed(domain.MoneyScale)); err != nil {
		return n, fmt.Errorf("convert numeric %s: %w", d, err)
	}
	return n, nil
}

func rateNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert numeric %s: %w", d, err)
	}
	return n, nil
}

func nullNumeric(d *decimal.Decimal) (pgtype.Numeric, error) {
	if d == nil {
		return pgtype.Numeric{}, nil
	}
	return numeric(*d)
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	str, err := n.MarshalJSON()
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("marshal numeric: %w", err)
	}
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	return decimal.NewFromString(string(str))
}

func pgNumericToDecimalPtr(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	d, err := pgNumericToDecimal(n)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func pgError(err error, code string) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == code {
		return pgErr, true
	}
	return nil, false
}

// decimals converts a batch of numerics, failing on the first malformed one
func decimals(ns ...pgtype.Numeric) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(ns))
	for i, n := range ns {
		d, err := pgNumericToDecimal(n)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func toNumerics(ds ...decimal.Decimal) ([]pgtype.Numeric, error) {
	out := make([]pgtype.Numeric, len(ds))
	for i, d := range ds {
		n, err := numeric(d)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
