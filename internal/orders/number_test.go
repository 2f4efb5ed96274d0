package orders

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"500", 50000},
		{"499,90", 49990},
		{" 1 200.5 ", 120050},
		{"0.015", 2},
		{"10.004", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePriceRejects(t *testing.T) {
	for _, in := range []string{"", "0", "-5", "abc", "0.004", "1,2,3",
		"184467440737095516.16", "92233720368547758.08", "1e20"} {
		_, err := ParsePrice(in)
		assert.ErrorIs(t, err, ErrInvalidPrice, in)
	}
}

func TestNewOrderNumber(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	a := NewOrderNumber(now)
	b := NewOrderNumber(now)

	assert.True(t, strings.HasPrefix(a, "o"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len(b))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "79001234567", DigitsOnly("+7 (900) 123-45-67"))
	assert.Equal(t, "", DigitsOnly("n/a"))
}
