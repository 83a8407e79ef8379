// Package core provides money parsing and handling utilities.
//
// Amounts are held as int64 minor units at a fixed scale of two fractional
// digits. Conversions to and from decimal text go through shopspring/decimal
// so wire numbers like 15000, 15000.00 and "15000.5" are exact.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinorScale is the number of fractional digits held in Money.Minor.
const MinorScale = 2

// ParseAmount converts a decimal string to minor units with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Returns ErrInvalidAmount for
// invalid formats, negative values, or zero amounts.
//
// Examples:
//
//	ParseAmount("12.34")  -> Money{1234}, nil
//	ParseAmount("12,34")  -> Money{1234}, nil
//	ParseAmount("12.345") -> Money{1235}, nil (rounds up)
//	ParseAmount("12.344") -> Money{1234}, nil (rounds down)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m, ok := MoneyFromDecimal(d)
	if !ok || m.Minor <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// MoneyFromDecimal rounds d half-up to MinorScale digits. ok is false when the
// value does not fit in int64 minor units.
func MoneyFromDecimal(d decimal.Decimal) (Money, bool) {
	shifted := d.Shift(MinorScale).Round(0)
	if !shifted.BigInt().IsInt64() {
		return Money{}, false
	}
	return Money{Minor: shifted.IntPart()}, true
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorScale)
}

// String renders the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorScale)
}

func (m Money) Add(o Money) Money {
	return Money{Minor: m.Minor + o.Minor}
}

func (m Money) Sub(o Money) Money {
	return Money{Minor: m.Minor - o.Minor}
}

func (m Money) IsZero() bool {
	return m.Minor == 0
}
