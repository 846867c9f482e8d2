// Package money provides exact decimal monetary values with a currency tag.
// All arithmetic is performed on shopspring decimals; mixing currencies is a
// programming error and fails fast.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies the currency of a monetary value. The value of the
// constant is the display symbol, which is also accepted as a prefix when
// parsing ("$12.34").
type Currency string

const (
	USD Currency = "$"
	EUR Currency = "€"
	GBP Currency = "£"
)

// DefaultCurrency is assumed when parsing a bare numeric string.
var DefaultCurrency = USD

// CurrencyMismatchError reports arithmetic or comparison between two Money
// values of different currencies.
type CurrencyMismatchError struct {
	Left  Currency
	Right Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %q vs %q (conversions not supported)", e.Left, e.Right)
}

// ParseError reports a string that could not be parsed into a Money value.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse money value %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Money is an exact decimal amount tagged with a currency. The zero value is
// an untagged zero: it participates in arithmetic with any currency and
// adopts the other operand's tag, which gives Sum its identity element.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New creates a Money from a decimal amount.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount, currency: currency}
}

// FromInt creates a Money from an integer amount in the default currency.
func FromInt(amount int64) Money {
	return Money{amount: decimal.NewFromInt(amount), currency: DefaultCurrency}
}

// FromFloat creates a Money from a float amount in the default currency.
func FromFloat(amount float64) Money {
	return Money{amount: decimal.NewFromFloat(amount), currency: DefaultCurrency}
}

// FromDecimal creates a Money in the default currency.
func FromDecimal(amount decimal.Decimal) Money {
	return Money{amount: amount, currency: DefaultCurrency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// Parse converts a string such as "12.34", "$12.34" or "€5" into a Money
// value. A leading currency symbol selects the currency; otherwise
// DefaultCurrency is used. Returns a *ParseError on malformed input.
func Parse(input string) (Money, error) {
	trimmed := strings.TrimSpace(input)
	currency := DefaultCurrency
	for _, c := range []Currency{USD, EUR, GBP} {
		if strings.HasPrefix(trimmed, string(c)) {
			currency = c
			trimmed = strings.TrimPrefix(trimmed, string(c))
			break
		}
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(trimmed))
	if err != nil {
		return Money{}, &ParseError{Input: input, Err: err}
	}
	return Money{amount: amount, currency: currency}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(input string) Money {
	m, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return m
}

// Amount returns the underlying decimal value.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency tag. The zero value reports DefaultCurrency.
func (m Money) Currency() Currency {
	if m.currency == "" {
		return DefaultCurrency
	}
	return m.currency
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// sameCurrency resolves the result currency of a binary operation, panicking
// with a *CurrencyMismatchError when both sides carry different tags. An
// untagged zero adopts the other operand's currency.
func (m Money) sameCurrency(other Money) Currency {
	switch {
	case m.currency == "":
		return other.currency
	case other.currency == "":
		return m.currency
	case m.currency == other.currency:
		return m.currency
	}
	panic(&CurrencyMismatchError{Left: m.currency, Right: other.currency})
}

// Add returns m + other. Panics with *CurrencyMismatchError on mixed
// currencies.
func (m Money) Add(other Money) Money {
	return Money{amount: m.amount.Add(other.amount), currency: m.sameCurrency(other)}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{amount: m.amount.Sub(other.amount), currency: m.sameCurrency(other)}
}

// Mul scales the amount by a decimal factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Div divides the amount by a decimal divisor.
func (m Money) Div(divisor decimal.Decimal) Money {
	return Money{amount: m.amount.Div(divisor), currency: m.currency}
}

// Ratio returns m / other as a bare decimal, e.g. a portfolio weight.
func (m Money) Ratio(other Money) decimal.Decimal {
	m.sameCurrency(other)
	return m.amount.Div(other.amount)
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int {
	m.sameCurrency(other)
	return m.amount.Cmp(other.amount)
}

// Equal reports whether the two values carry the same amount.
func (m Money) Equal(other Money) bool { return m.Cmp(other) == 0 }

// GreaterThan reports m > other.
func (m Money) GreaterThan(other Money) bool { return m.Cmp(other) > 0 }

// GreaterThanOrEqual reports m >= other.
func (m Money) GreaterThanOrEqual(other Money) bool { return m.Cmp(other) >= 0 }

// LessThan reports m < other.
func (m Money) LessThan(other Money) bool { return m.Cmp(other) < 0 }

// LessThanOrEqual reports m <= other.
func (m Money) LessThanOrEqual(other Money) bool { return m.Cmp(other) <= 0 }

// Abs returns the absolute value.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Neg returns the negated value.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Round rounds the amount to the given number of decimal places, half away
// from zero.
func (m Money) Round(places int32) Money {
	return Money{amount: m.amount.Round(places), currency: m.currency}
}

// String renders the value as symbol followed by the decimal amount,
// e.g. "$12.34".
func (m Money) String() string {
	return string(m.Currency()) + m.amount.String()
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Sum adds the given values, starting from an untagged zero. The result
// adopts the currency of the first addend; an empty sum is the untagged
// zero value.
func Sum(values ...Money) Money {
	total := Money{}
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// MarshalJSON serialises the value with the amount as a decimal string, so
// that round-tripping is exact.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.Currency()})
}

// UnmarshalJSON restores a value produced by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.amount = raw.Amount
	m.currency = raw.Currency
	return nil
}
