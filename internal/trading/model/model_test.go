package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderValidate(t *testing.T) {
	base := Order{Side: Buy, Price: 100, Quantity: 10, Remaining: 10, IdempotencyKey: "k"}

	tests := []struct {
		name   string
		mutate func(o *Order)
		want   error
	}{
		{"valid", func(o *Order) {}, nil},
		{"zero quantity", func(o *Order) { o.Quantity = 0 }, ErrInvalidQuantity},
		{"negative quantity", func(o *Order) { o.Quantity = -1 }, ErrInvalidQuantity},
		{"zero price", func(o *Order) { o.Price = 0 }, ErrInvalidPrice},
		{"missing key", func(o *Order) { o.IdempotencyKey = "" }, ErrMissingKey},
		{"bad side", func(o *Order) { o.Side = 0 }, ErrInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			assert.ErrorIs(t, o.Validate(), tt.want)
		})
	}
}

func TestSide(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.Equal(t, "BUY", Buy.String())

	s, err := ParseSide("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, s)

	_, err = ParseSide("sideways")
	assert.Error(t, err)
}

func TestTicks(t *testing.T) {
	tick := decimal.RequireFromString("0.01")

	ticks, err := ToTicks(decimal.RequireFromString("100.05"), tick)
	require.NoError(t, err)
	assert.Equal(t, int64(10005), ticks)
	assert.True(t, FromTicks(ticks, tick).Equal(decimal.RequireFromString("100.05")))

	_, err = ToTicks(decimal.RequireFromString("100.005"), tick)
	assert.Error(t, err)

	_, err = ToTicks(decimal.RequireFromString("1"), decimal.Zero)
	assert.Error(t, err)
}
