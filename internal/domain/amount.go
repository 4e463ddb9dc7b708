package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 128-bit integer. Every collateral, token, share and
// price value in the protocol is an Amount; floating point never enters
// protocol math. Arithmetic is checked: a result that does not fit in 128
// bits, an underflow, or a zero divisor panics, which the chain runtime
// converts into a failed receipt.
//
// The zero value is a usable zero amount. JSON and text encode as a decimal
// string so 128-bit values survive clients that parse numbers as float64.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// AmountFromString parses a decimal string into an Amount.
func AmountFromString(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	if a.v.BitLen() > 128 {
		return Amount{}, fmt.Errorf("domain: amount %q exceeds 128 bits", s)
	}
	return a, nil
}

// MustAmount parses a decimal string and panics on error. For fixtures and
// constants only.
func MustAmount(s string) Amount {
	a, err := AmountFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a + b, panicking if the sum exceeds 128 bits.
func (a Amount) Add(b Amount) Amount {
	var z uint256.Int
	if _, carry := z.AddOverflow(&a.v, &b.v); carry || z.BitLen() > 128 {
		panic(fmt.Sprintf("domain: amount overflow: %s + %s", a.String(), b.String()))
	}
	return Amount{v: z}
}

// Sub returns a - b, panicking on underflow.
func (a Amount) Sub(b Amount) Amount {
	var z uint256.Int
	if _, borrow := z.SubOverflow(&a.v, &b.v); borrow {
		panic(fmt.Sprintf("domain: amount underflow: %s - %s", a.String(), b.String()))
	}
	return Amount{v: z}
}

// MulDiv returns floor(a * b / div) computed with a 256-bit intermediate, so
// products of two 128-bit values never wrap. Panics if div is zero or the
// quotient exceeds 128 bits.
func (a Amount) MulDiv(b, div Amount) Amount {
	if div.IsZero() {
		panic(fmt.Sprintf("domain: amount division by zero: %s * %s / 0", a.String(), b.String()))
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&a.v, &b.v, &div.v); overflow || z.BitLen() > 128 {
		panic(fmt.Sprintf("domain: amount overflow: %s * %s / %s", a.String(), b.String(), div.String()))
	}
	return Amount{v: z}
}

// Div returns floor(a / b), panicking if b is zero.
func (a Amount) Div(b Amount) Amount {
	if b.IsZero() {
		panic(fmt.Sprintf("domain: amount division by zero: %s / 0", a.String()))
	}
	var z uint256.Int
	z.Div(&a.v, &b.v)
	return Amount{v: z}
}

// MulBps returns floor(a * bps / 10000). Fee math.
func (a Amount) MulBps(bps uint16) Amount {
	return a.MulDiv(NewAmount(uint64(bps)), NewAmount(uint64(BPSDenominator)))
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return a
	}
	return b
}

// Cmp returns -1, 0 or +1 comparing a against b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Equal reports a == b.
func (a Amount) Equal(b Amount) bool {
	return a.v.Eq(&b.v)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Uint64 returns the amount as a uint64, panicking if it does not fit.
func (a Amount) Uint64() uint64 {
	if a.v.BitLen() > 64 {
		panic(fmt.Sprintf("domain: amount %s exceeds 64 bits", a.String()))
	}
	return a.v.Uint64()
}

// String returns the decimal representation.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalText implements encoding.TextMarshaler (decimal string).
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := AmountFromString(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
