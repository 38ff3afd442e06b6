// Package core provides the ledger domain types and money handling.
//
// Money is held as integer cents. Parsing, formatting and rate arithmetic go
// through shopspring/decimal so that no value ever passes through a binary float.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CentsScale is the number of decimal places every amount is rounded to.
const CentsScale = 2

var hundred = decimal.NewFromInt(100)

// Money is a signed currency amount in cents.
type Money struct {
	Cents int64
}

// NewMoneyFromDecimal rounds d half away from zero to cents.
func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(CentsScale).Mul(hundred).IntPart()}
}

// ParseMoney parses a signed decimal string such as "12.34", "-3", "0,50".
//
// A comma decimal separator is accepted. More than two fractional digits are
// rounded half away from zero, so "1.005" becomes 101 cents.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	// Keep the cents value inside int64.
	if d.Abs().GreaterThan(decimal.NewFromInt(maxUnits)) {
		return Money{}, ErrInvalidAmount
	}
	return NewMoneyFromDecimal(d), nil
}

const maxUnits = (1<<63 - 1) / 100

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -CentsScale)
}

// String formats the amount with exactly two decimals, e.g. "-3.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(CentsScale)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

// SubChecked returns m - o, or false when the result does not fit in int64.
func (m Money) SubChecked(o Money) (Money, bool) {
	d := m.Cents - o.Cents
	if (o.Cents > 0 && d > m.Cents) || (o.Cents < 0 && d < m.Cents) {
		return Money{}, false
	}
	return Money{Cents: d}, true
}
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.Cents < o.Cents }

// MulRate multiplies m by an integer factor and a decimal rate, rounding to cents.
func MulRate(factor int, rate decimal.Decimal) Money {
	return NewMoneyFromDecimal(decimal.NewFromInt(int64(factor)).Mul(rate))
}

// Validate rejects zero and negative amounts.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MarshalJSON emits the amount as a decimal string so clients never see float noise.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("amount: %w", ErrInvalidAmount)
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseMoney(raw)
	if err != nil {
		return fmt.Errorf("amount %q: %w", raw, err)
	}
	*m = parsed
	return nil
}
