package parsing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidMoney is returned when a string cannot be read as a money value
var ErrInvalidMoney = errors.New("invalid money value")

// Money is a fixed-point amount in minor currency units (pence, cents)
type Money int64

// currencySymbols lists the symbols accepted around a price
const currencySymbols = "£$€¥₹"

func isCurrencySymbol(r rune) bool {
	return strings.ContainsRune(currencySymbols, r)
}

// ParseMoney reads a decimal amount such as "12.99", "£4.50", "1,234.56" or
// "3,20" into minor units. At most two fractional digits are accepted; a
// single separator followed by exactly three digits is a thousands separator.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return isCurrencySymbol(r) || unicode.IsSpace(r)
	})
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidMoney)
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimFunc(s[1:], func(r rune) bool {
			return isCurrencySymbol(r) || unicode.IsSpace(r)
		})
	}

	intPart, fracPart := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		tail := s[i+1:]
		switch len(tail) {
		case 1, 2:
			intPart, fracPart = s[:i], tail
		case 3:
			// grouping only, e.g. "1,234"
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
		}
	}

	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidMoney, s)
	}

	var minor int64
	switch len(fracPart) {
	case 1:
		minor = int64(fracPart[0]-'0') * 10
	case 2:
		minor = int64(fracPart[0]-'0')*10 + int64(fracPart[1]-'0')
	}

	m := Money(units*100 + minor)
	if negative {
		m = -m
	}
	return m, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Mul returns the amount multiplied by a quantity, saturating at the
// int64 bounds instead of wrapping
func (m Money) Mul(quantity int) Money {
	a, b := int64(m), int64(quantity)
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a < 0) != (b < 0) {
			return Money(math.MinInt64)
		}
		return Money(math.MaxInt64)
	}
	return Money(product)
}

// Add returns the sum of two amounts, saturating at the int64 bounds
func (m Money) Add(other Money) Money {
	sum := m + other
	switch {
	case other > 0 && sum < m:
		return Money(math.MaxInt64)
	case other < 0 && sum > m:
		return Money(math.MinInt64)
	}
	return sum
}

// String formats the amount with two fractional digits, e.g. "12.99"
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a JSON number with two decimals
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a string
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" || s == "" {
		*m = 0
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
