package types

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Rational is used for frame rates: the encoder is configured with a
// fractional value, while NTSC-like rates must survive a float round-trip.
type Rational struct {
	Num int
	Den int
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func newNTSCRationalFromFloat64(f float64) *big.Rat {
	num := math.Ceil(f) * 1000
	r := big.NewRat(int64(num), 1001)
	confirmValue, _ := r.Float64()
	if math.Abs(f-confirmValue) < 1e-2 {
		return r
	}
	return nil
}

func RationalFromApproxFloat64(fps float64) (r Rational) {
	if float64(int(fps)) == fps {
		return Rational{Num: int(fps), Den: 1}
	}

	if rat := newNTSCRationalFromFloat64(fps); rat != nil {
		return Rational{
			Num: int(rat.Num().Int64()),
			Den: int(rat.Denom().Int64()),
		}
	}

	r.Num = int(math.Round(fps * 1000000))
	r.Den = 1000000
	gcd := big.NewInt(0).GCD(nil, nil, big.NewInt(int64(r.Num)), big.NewInt(int64(r.Den))).Int64()
	if gcd > 1 {
		r.Num /= int(gcd)
		r.Den /= int(gcd)
	}
	return
}

// RationalFromString accepts "30", "30000/1001" and "29.97" (approximate,
// snapped to an NTSC rate when close enough; a leading "~" is allowed).
func RationalFromString(s string) (*Rational, error) {
	var r Rational
	switch {
	case len(s) == 0:
		return nil, fmt.Errorf("unable to parse Rational from empty string")
	case strings.Contains(s, "/"):
		if _, err := fmt.Sscanf(s, "%d/%d", &r.Num, &r.Den); err != nil {
			return nil, fmt.Errorf("unable to parse Rational from %q: %w", s, err)
		}
	default:
		fps, err := strconv.ParseFloat(strings.TrimPrefix(s, "~"), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse Rational from %q: %w", s, err)
		}
		r = RationalFromApproxFloat64(fps)
	}
	if r.Den == 0 {
		return nil, fmt.Errorf("denominator cannot be zero")
	}
	return &r, nil
}

// Set implements pflag.Value.
func (r *Rational) Set(s string) error {
	v, err := RationalFromString(s)
	if err != nil {
		return err
	}
	*r = *v
	return nil
}

// Type implements pflag.Value.
func (r *Rational) Type() string {
	return "rational"
}
