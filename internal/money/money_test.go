package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		amount   string
		currency Currency
	}{
		{name: "bare number", input: "12.34", amount: "12.34", currency: USD},
		{name: "dollar prefix", input: "$12.34", amount: "12.34", currency: USD},
		{name: "euro prefix", input: "€5", amount: "5", currency: EUR},
		{name: "pound prefix", input: "£0.10", amount: "0.1", currency: GBP},
		{name: "whitespace", input: "  $ 7.50 ", amount: "7.5", currency: USD},
		{name: "negative", input: "-3", amount: "-3", currency: USD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, m.Amount().String())
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("twelve dollars")
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "twelve dollars", parseErr.Input)
}

func TestArithmetic(t *testing.T) {
	a := FromInt(10)
	b := FromFloat(2.5)

	assert.Equal(t, "12.5", a.Add(b).Amount().String())
	assert.Equal(t, "7.5", a.Sub(b).Amount().String())
	assert.Equal(t, "25", b.Mul(decimal.NewFromInt(10)).Amount().String())
	assert.Equal(t, "5", a.Div(decimal.NewFromInt(2)).Amount().String())
	assert.Equal(t, "4", a.Ratio(b).String())
	assert.Equal(t, "3", FromInt(-3).Abs().Amount().String())
	assert.Equal(t, "1.33", FromFloat(1.3349).Round(2).Amount().String())
}

func TestCurrencyMismatchPanics(t *testing.T) {
	usd := FromInt(1)
	eur := New(decimal.NewFromInt(1), EUR)

	assert.PanicsWithError(t, (&CurrencyMismatchError{Left: USD, Right: EUR}).Error(), func() {
		usd.Add(eur)
	})
	assert.Panics(t, func() { usd.Cmp(eur) })
}

func TestSumStartsFromZeroAndKeepsCurrency(t *testing.T) {
	total := Sum(New(decimal.NewFromInt(3), EUR), New(decimal.NewFromInt(4), EUR))
	assert.Equal(t, "7", total.Amount().String())
	assert.Equal(t, EUR, total.Currency())

	empty := Sum()
	assert.True(t, empty.IsZero())
}

func TestUntaggedZeroAdoptsCurrency(t *testing.T) {
	total := Money{}.Add(New(decimal.NewFromInt(9), GBP))
	assert.Equal(t, GBP, total.Currency())
	assert.Equal(t, "9", total.Amount().String())
}

func TestComparisons(t *testing.T) {
	assert.True(t, FromInt(2).GreaterThan(FromInt(1)))
	assert.True(t, FromInt(1).LessThanOrEqual(FromInt(1)))
	assert.True(t, FromInt(0).IsZero())
	assert.True(t, FromInt(-1).IsNegative())
	assert.True(t, Min(FromInt(3), FromInt(2)).Equal(FromInt(2)))
	assert.True(t, Max(FromInt(3), FromInt(2)).Equal(FromInt(3)))
}

func TestStringAndJSONRoundTrip(t *testing.T) {
	m := MustParse("$12.34")
	assert.Equal(t, "$12.34", m.String())

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
	assert.Equal(t, m.Currency(), back.Currency())
}
