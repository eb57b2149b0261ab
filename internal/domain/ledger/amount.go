package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a coin quantity counted in the smallest indivisible unit.
type Amount int64

const (
	// Decimals is the number of fractional digits in the human-facing
	// decimal representation.
	Decimals = 8

	// Coin is one whole coin in smallest units.
	Coin Amount = 100_000_000

	// MaxSupply is the hard ceiling on any balance or transfer amount.
	MaxSupply Amount = 21_000_000 * Coin
)

// ParseAmount converts a human-facing decimal string into smallest units.
// The conversion is exact: inputs carrying more than Decimals fractional
// digits are rejected rather than truncated, as are negative and
// non-representable values.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}

	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidInput, s, Decimals)
	}
	if scaled.Cmp(decimal.NewFromInt(math.MaxInt64)) > 0 {
		return 0, fmt.Errorf("%w: amount %s is out of range", ErrInvalidInput, s)
	}

	return Amount(scaled.IntPart()), nil
}

// String renders the amount as an exact decimal, e.g. 150000000 -> "1.5".
func (a Amount) String() string {
	return decimal.New(int64(a), -Decimals).String()
}
