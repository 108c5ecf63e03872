package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// TokenAmount is a token quantity denominated in the token's smallest unit.
// The token network contracts store balances as uint256 so every arithmetic
// helper reports overflow instead of wrapping. The zero value is zero.
type TokenAmount struct {
	v uint256.Int
}

// NewAmount returns a TokenAmount holding x.
func NewAmount(x uint64) TokenAmount {
	var a TokenAmount
	a.v.SetUint64(x)
	return a
}

// AmountFromBig converts a non-negative big integer. It fails for negative
// values and values that do not fit in 256 bits.
func AmountFromBig(b *big.Int) (TokenAmount, error) {
	var a TokenAmount
	if b == nil {
		return a, nil
	}
	if b.Sign() < 0 {
		return a, fmt.Errorf("token amount: negative value %s", b)
	}
	if overflow := a.v.SetFromBig(b); overflow {
		return TokenAmount{}, fmt.Errorf("token amount: %s overflows uint256", b)
	}
	return a, nil
}

// ParseAmount parses a decimal or 0x-prefixed hexadecimal string.
func ParseAmount(s string) (TokenAmount, error) {
	var a TokenAmount
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return a, nil
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if err := a.v.SetFromHex(trimmed); err != nil {
			return TokenAmount{}, fmt.Errorf("token amount: %w", err)
		}
		return a, nil
	}
	if err := a.v.SetFromDecimal(trimmed); err != nil {
		return TokenAmount{}, fmt.Errorf("token amount: %w", err)
	}
	return a, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) TokenAmount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b and whether the sum overflowed.
func (a TokenAmount) Add(b TokenAmount) (TokenAmount, bool) {
	var out TokenAmount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// Sub returns a-b and whether the subtraction underflowed.
func (a TokenAmount) Sub(b TokenAmount) (TokenAmount, bool) {
	var out TokenAmount
	_, underflow := out.v.SubOverflow(&a.v, &b.v)
	return out, underflow
}

// SaturatingSub returns a-b, or zero when b > a.
func (a TokenAmount) SaturatingSub(b TokenAmount) TokenAmount {
	out, underflow := a.Sub(b)
	if underflow {
		return TokenAmount{}
	}
	return out
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a TokenAmount) Cmp(b TokenAmount) int { return a.v.Cmp(&b.v) }

// Lt reports a < b.
func (a TokenAmount) Lt(b TokenAmount) bool { return a.v.Lt(&b.v) }

// Gt reports a > b.
func (a TokenAmount) Gt(b TokenAmount) bool { return a.v.Gt(&b.v) }

// Eq reports a == b.
func (a TokenAmount) Eq(b TokenAmount) bool { return a.v.Eq(&b.v) }

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool { return a.v.IsZero() }

// Max returns the larger of a and b.
func (a TokenAmount) Max(b TokenAmount) TokenAmount {
	if a.Lt(b) {
		return b
	}
	return a
}

// Big returns the amount as a fresh big integer.
func (a TokenAmount) Big() *big.Int { return a.v.ToBig() }

// Bytes32 returns the big-endian 32 byte encoding used in signed payloads.
func (a TokenAmount) Bytes32() [32]byte { return a.v.Bytes32() }

// String returns the decimal representation.
func (a TokenAmount) String() string { return a.v.Dec() }

// MarshalText implements encoding.TextMarshaler using the decimal form.
func (a TokenAmount) MarshalText() ([]byte, error) { return []byte(a.v.Dec()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *TokenAmount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SumAmounts adds every amount and reports overflow.
func SumAmounts(amounts ...TokenAmount) (TokenAmount, bool) {
	var total TokenAmount
	for _, amount := range amounts {
		next, overflow := total.Add(amount)
		if overflow {
			return TokenAmount{}, true
		}
		total = next
	}
	return total, false
}
