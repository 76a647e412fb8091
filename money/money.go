/*
Package money provides the exact fixed-point amount used by every calculation.

PURPOSE:
  Revenue, deductions and payouts are all counted in integer minor units
  (halalas). Nothing in the engine ever touches a binary float, so every
  sum reconciles to the last minor unit.

KEY CONCEPTS:
  - Money:   an amount in minor units (2 decimal places)
  - Percent: a rate backed by decimal.Decimal ("12.5" means 12.5%)
  - Allocate: weighted split with deterministic remainder hand-out

ROUNDING:
  Percentage application uses round-half-to-even (banker's rounding) on
  minor units. Division never rounds implicitly: callers get the quotient
  and must hand out the remainder themselves (see Allocate).

USAGE:
  gross := money.MustParse("1000000.00")
  nazer := gross.MulPercent(money.MustPercent("5"))   // 50000.00
  shares, _ := money.Allocate(gross, []int64{2, 2, 1})

SEE ALSO:
  - distribution/policy.go: deduction policy built on MulPercent
  - distribution/heirs.go: heir shares built on Allocate
*/
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of decimal places held in minor units.
const MinorDigits = 2

var (
	// ErrTooPrecise is returned when a parsed amount has more decimals than MinorDigits.
	ErrTooPrecise = errors.New("amount has more precision than minor units allow")

	// ErrInvalidAmount is returned for unparseable or out-of-range input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNoWeights is returned when Allocate is called with no positive weight.
	ErrNoWeights = errors.New("allocation requires at least one positive weight")
)

// =============================================================================
// MONEY
// =============================================================================

// Money is an exact amount in minor units.
type Money struct {
	minor int64
}

// Zero is the zero amount.
var Zero = Money{}

// FromMinor builds an amount from minor units (halalas).
func FromMinor(minor int64) Money { return Money{minor: minor} }

// FromMajor builds an amount from whole currency units.
func FromMajor(major int64) Money { return Money{minor: major * pow10(MinorDigits)} }

// Parse reads a decimal string such as "1250.75". More than MinorDigits
// decimal places is an error, never a silent rounding.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts an exact decimal into minor units.
func FromDecimal(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(MinorDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Zero, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	if !shifted.BigInt().IsInt64() {
		return Zero, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, d.String())
	}
	return Money{minor: shifted.IntPart()}, nil
}

func (m Money) Minor() int64              { return m.minor }
func (m Money) Decimal() decimal.Decimal  { return decimal.New(m.minor, -MinorDigits) }
func (m Money) String() string            { return m.Decimal().StringFixed(MinorDigits) }
func (m Money) Add(o Money) Money         { return Money{minor: m.minor + o.minor} }
func (m Money) Sub(o Money) Money         { return Money{minor: m.minor - o.minor} }
func (m Money) Neg() Money                { return Money{minor: -m.minor} }
func (m Money) IsZero() bool              { return m.minor == 0 }
func (m Money) IsNegative() bool          { return m.minor < 0 }
func (m Money) IsPositive() bool          { return m.minor > 0 }
func (m Money) LessThan(o Money) bool     { return m.minor < o.minor }
func (m Money) GreaterThan(o Money) bool  { return m.minor > o.minor }
func (m Money) Times(n int64) Money       { return Money{minor: m.minor * n} }
func (m Money) Min(o Money) Money         { return Money{minor: min(m.minor, o.minor)} }
func (m Money) Max(o Money) Money         { return Money{minor: max(m.minor, o.minor)} }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.minor < o.minor:
		return -1
	case m.minor > o.minor:
		return 1
	}
	return 0
}

// MulPercent returns round_half_even(m * p / 100) in minor units.
// The product is exact in decimal; only the final step rounds.
func (m Money) MulPercent(p Percent) Money {
	v := decimal.NewFromInt(m.minor).Mul(p.d).Shift(-2).RoundBank(0)
	return Money{minor: v.IntPart()}
}

// DivMod splits m into n equal integer parts and returns one part plus the
// minor units left over. n must be positive.
func (m Money) DivMod(n int64) (part Money, remainder Money) {
	if n <= 0 {
		panic("money: DivMod by non-positive divisor")
	}
	return Money{minor: m.minor / n}, Money{minor: m.minor % n}
}

// Sum adds amounts.
func Sum(amounts ...Money) Money {
	var total int64
	for _, a := range amounts {
		total += a.minor
	}
	return Money{minor: total}
}

// MarshalJSON encodes the amount as a fixed-point string to keep clients off floats.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts "123.45" or a bare JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, string(b))
		}
		s = n.String()
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocate splits total by integer weights. Each slot gets weight*unit where
// unit = total / Σweights (integer division). The leftover, always smaller
// than Σweights, is handed out one minor unit at a time round-robin over the
// positive-weight slots in slice order. Callers control fairness by ordering
// the slice.
func Allocate(total Money, weights []int64) ([]Money, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: cannot allocate negative %s", ErrInvalidAmount, total)
	}
	var units int64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %d", ErrInvalidAmount, w)
		}
		units += w
	}
	if units == 0 {
		return nil, ErrNoWeights
	}

	unit, leftover := total.DivMod(units)
	shares := make([]Money, len(weights))
	for i, w := range weights {
		shares[i] = unit.Times(w)
	}

	for left := leftover.minor; left > 0; {
		for i, w := range weights {
			if left == 0 {
				break
			}
			if w == 0 {
				continue
			}
			shares[i].minor++
			left--
		}
	}
	return shares, nil
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
