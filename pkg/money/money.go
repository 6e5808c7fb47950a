// Package money implements the fixed-point base-unit arithmetic used
// throughout the fund's off-chain projection. All monetary values are
// integers in the fund's base unit (18 fractional digits unless noted);
// ratios are expressed in basis points (1 bp = 1/10,000).
package money

import (
	"errors"
	"math/big"
)

var errInvalidAmountJSON = errors.New("money: invalid amount json")

// Decimals is the number of fractional digits carried by a base unit.
const Decimals = 18

// BpsDenominator is the basis-point denominator (1 bp = 1/10,000).
const BpsDenominator = 10_000

// Unit is one whole base unit (10^18).
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Amount is a fixed-point base-unit quantity. The zero value represents
// zero; a nil *Amount is never intentionally dereferenced by callers in
// this module — Zero() is used instead wherever a default is needed.
type Amount struct {
	v *big.Int
}

// Zero returns the additive identity.
func Zero() Amount { return Amount{v: new(big.Int)} }

// FromBigInt wraps an existing *big.Int, copying it so the caller's
// mutations are never observed.
func FromBigInt(v *big.Int) Amount {
	if v == nil {
		return Zero()
	}
	return Amount{v: new(big.Int).Set(v)}
}

// FromInt64 wraps a small literal number of base units — for config
// defaults and test fixtures, not for on-chain amounts (those come
// through FromBigInt/FromString).
func FromInt64(v int64) Amount { return Amount{v: big.NewInt(v)} }

// FromString parses a base-10 integer string of base units.
func FromString(s string) (Amount, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, false
	}
	return Amount{v: v}, true
}

// MarshalJSON renders the amount as a base-10 integer string, matching
// how amounts are persisted everywhere else.
func (a Amount) MarshalJSON() ([]byte, error) { return []byte(`"` + a.String() + `"`), nil }

// UnmarshalJSON parses a quoted base-10 integer string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*a = Zero()
		return nil
	}
	parsed, ok := FromString(s)
	if !ok {
		return errInvalidAmountJSON
	}
	*a = parsed
	return nil
}

// Int returns the underlying integer; callers must not mutate it.
func (a Amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

func (a Amount) String() string { return a.Int().String() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return Amount{v: new(big.Int).Add(a.Int(), b.Int())} }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return Amount{v: new(big.Int).Sub(a.Int(), b.Int())} }

// Neg returns -a.
func (a Amount) Neg() Amount { return Amount{v: new(big.Int).Neg(a.Int())} }

// Cmp compares a to b (-1, 0, 1).
func (a Amount) Cmp(b Amount) int { return a.Int().Cmp(b.Int()) }

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int { return a.Int().Sign() }

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// Abs returns |a|.
func (a Amount) Abs() Amount {
	if a.Sign() < 0 {
		return a.Neg()
	}
	return a
}

// MulBps returns a * bps / 10_000, truncating toward zero.
func (a Amount) MulBps(bps int64) Amount {
	num := new(big.Int).Mul(a.Int(), big.NewInt(bps))
	num.Quo(num, big.NewInt(BpsDenominator))
	return Amount{v: num}
}

// RatioBps returns (a / b) expressed in basis points; b == 0 returns 0.
func (a Amount) RatioBps(b Amount) int64 {
	if b.Sign() == 0 {
		return 0
	}
	num := new(big.Int).Mul(a.Int(), big.NewInt(BpsDenominator))
	num.Quo(num, b.Int())
	return num.Int64()
}

// Sum adds up a slice of Amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Bps is a basis-point ratio (1/10,000), used for target/min/max tier
// ratios and deviation thresholds.
type Bps int64

// Of returns amount * bp / 10_000.
func (b Bps) Of(amount Amount) Amount { return amount.MulBps(int64(b)) }

// Float64 returns the basis-point value as a fraction (e.g. 250 -> 0.025).
func (b Bps) Float64() float64 { return float64(b) / float64(BpsDenominator) }
