package enums

import (
	"fmt"
	"strings"
)

// Currency represents supported monetary denominations, stored in the
// provider's lowercase ISO form.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyCAD Currency = "cad"
	CurrencyEUR Currency = "eur"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyCAD,
	CurrencyEUR,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
