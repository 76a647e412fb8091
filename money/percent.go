package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Percent is a rate expressed in percent ("5" is 5%, "12.5" is 12.5%).
type Percent struct {
	d decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Hundred is 100%.
var Hundred = Percent{d: hundred}

func NewPercent(d decimal.Decimal) Percent { return Percent{d: d} }
func PercentFromInt(v int64) Percent       { return Percent{d: decimal.NewFromInt(v)} }

// ParsePercent reads "5", "12.5" or "12.5%".
func ParsePercent(s string) (Percent, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{}, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	return Percent{d: d}, nil
}

// MustPercent is ParsePercent for constants and tests.
func MustPercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Percent) Decimal() decimal.Decimal   { return p.d }
func (p Percent) String() string             { return p.d.String() }
func (p Percent) Add(o Percent) Percent      { return Percent{d: p.d.Add(o.d)} }
func (p Percent) Sub(o Percent) Percent      { return Percent{d: p.d.Sub(o.d)} }
func (p Percent) IsNegative() bool           { return p.d.IsNegative() }
func (p Percent) IsZero() bool               { return p.d.IsZero() }
func (p Percent) GreaterThan(o Percent) bool { return p.d.GreaterThan(o.d) }
func (p Percent) Equal(o Percent) bool       { return p.d.Equal(o.d) }

// Fraction returns the rate as a plain ratio (5% -> 0.05).
func (p Percent) Fraction() decimal.Decimal { return p.d.Div(hundred) }

func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.d.String())
}

func (p *Percent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	parsed, err := ParsePercent(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
