package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

var (
	// ErrInvalidCurrency indicates the code is not a recognised ISO 4217 currency.
	ErrInvalidCurrency = errors.New("money: invalid currency")
	// ErrInvalidAmount indicates a decimal string that cannot be represented in minor units.
	ErrInvalidAmount = errors.New("money: invalid amount")
)

// NormalizeCurrency validates code and returns its canonical upper-case form.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

// CurrencyScale returns the number of minor-unit digits for the currency (JPY 0, USD 2, BHD 3).
func CurrencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// ParseAmount converts a non-negative decimal string in major units ("12.50") into
// minor units for the currency. More fractional digits than the currency allows is an error.
func ParseAmount(raw string, code string) (int64, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(raw)
	if value == "" || strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" || (hasFrac && frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if len(frac) > scale {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, raw, scale)
	}
	digits := whole + frac + strings.Repeat("0", scale-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
	}
	minor, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return minor, nil
}

// FormatAmount renders minor units as a decimal string in major units.
func FormatAmount(minor int64, code string) string {
	scale, err := CurrencyScale(code)
	if err != nil || scale == 0 {
		return strconv.FormatInt(minor, 10)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	digits := strconv.FormatInt(minor, 10)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:]
}
