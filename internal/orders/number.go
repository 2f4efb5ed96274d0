package orders

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidPrice = errors.New("price must be a positive amount")

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// NewOrderNumber returns "o" + base36 unix millis + 5 random base36 chars.
func NewOrderNumber(now time.Time) string {
	id := uuid.New()
	var n uint64
	for _, b := range id[:8] {
		n = n<<8 | uint64(b)
	}
	suffix := strconv.FormatUint(n, 36)
	for len(suffix) < 5 {
		suffix = "0" + suffix
	}
	return "o" + strconv.FormatInt(now.UnixMilli(), 36) + suffix[:5]
}

// ParsePrice reads a major-unit amount ("500", "499,90", " 1 200.5 ")
// and returns round(price × 100) minor units.
func ParsePrice(raw string) (int64, error) {
	s := strings.Join(strings.Fields(raw), "")
	s = strings.Replace(s, ",", ".", 1)
	if s == "" {
		return 0, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	minor := d.Shift(2).Round(0)
	if !minor.IsPositive() || !minor.IsInteger() || minor.GreaterThan(maxMinor) {
		return 0, ErrInvalidPrice
	}
	n := minor.IntPart()
	if n <= 0 {
		return 0, ErrInvalidPrice
	}
	return n, nil
}

// MajorUnits renders minor units as a decimal in major units (50050 -> 500.5).
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// DigitsOnly strips everything but ASCII digits, e.g. "+7 (900) 1" -> "79001".
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
