package commitment

import (
	"fmt"
	"math/big"
	"strings"
)

// AmountDecimals is the display scale: one display unit is 10^9 base units.
const AmountDecimals = 9

var amountScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

// FormatAmount renders base units in display units, trimming trailing
// fractional zeros.
func FormatAmount(amount uint64) string {
	whole := amount / amountScale.Uint64()
	frac := amount % amountScale.Uint64()
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", AmountDecimals, frac), "0")
	return fmt.Sprintf("%d.%s", whole, fracStr)
}

// ParseAmount converts a display amount such as "1.5" to base units. More
// than nine fractional digits, negative values and overflow are rejected.
func ParseAmount(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("amount required")
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (frac == "" || len(frac) > AmountDecimals) {
		return 0, fmt.Errorf("amount %q: at most %d decimal places", value, AmountDecimals)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	total, _ := new(big.Int).SetString(whole, 10)
	total.Mul(total, amountScale)
	if frac != "" {
		fracVal, _ := new(big.Int).SetString(frac+strings.Repeat("0", AmountDecimals-len(frac)), 10)
		total.Add(total, fracVal)
	}
	if !total.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows", value)
	}
	return total.Uint64(), nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
