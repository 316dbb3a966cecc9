// Package codec converts application integers to and from their hexadecimal
// plaintext form, and keys and ciphertexts to and from ASCII transport strings.
package codec

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/fitcipher/fitcipher/scheme"
	"golang.org/x/exp/constraints"
)

var (
	// ErrNegativeValue is returned when a negative integer is encoded.
	ErrNegativeValue = errors.New("negative value")

	// ErrMalformedPlaintext is returned when a plaintext is not a
	// hexadecimal digit string.
	ErrMalformedPlaintext = errors.New("malformed plaintext")

	// ErrEncodingOverflow is returned when a value does not fit the
	// plaintext modulus or 64 bits.
	ErrEncodingOverflow = errors.New("encoding overflow")

	// ErrContextMismatch is returned when a transport string was produced
	// under another parameter set.
	ErrContextMismatch = scheme.ErrContextMismatch
)

// Plaintext is the uppercase hexadecimal representation of a non-negative
// integer. It represents one metric sample or one running total.
type Plaintext string

// Zero is the plaintext of 0.
const Zero Plaintext = "0"

// EncodeInteger returns the canonical plaintext of n.
func EncodeInteger[T constraints.Integer](n T) (Plaintext, error) {
	if n < 0 {
		return "", fmt.Errorf("cannot EncodeInteger: %w: %d", ErrNegativeValue, n)
	}
	return Plaintext(strings.ToUpper(strconv.FormatUint(uint64(n), 16))), nil
}

// DecodeInteger is the inverse of EncodeInteger.
func DecodeInteger(p Plaintext) (uint64, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("cannot DecodeInteger: %w", err)
	}
	n, err := strconv.ParseUint(string(p), 16, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("cannot DecodeInteger: %w: %s exceeds 64 bits", ErrEncodingOverflow, p)
		}
		return 0, fmt.Errorf("cannot DecodeInteger: %w: %w", ErrMalformedPlaintext, err)
	}
	return n, nil
}

// Validate returns ErrMalformedPlaintext unless p is a non-empty string of
// uppercase hexadecimal digits.
func (p Plaintext) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedPlaintext)
	}
	for i := 0; i < len(p); i++ {
		if digitValue(p[i]) < 0 {
			return fmt.Errorf("%w: invalid digit %q at position %d", ErrMalformedPlaintext, p[i], i)
		}
	}
	return nil
}

// CheckBound returns ErrEncodingOverflow unless the value of p is strictly
// smaller than t.
func (p Plaintext) CheckBound(t uint64) error {
	n, err := DecodeInteger(p)
	if err != nil {
		return err
	}
	if n >= t {
		return fmt.Errorf("%w: %d is not smaller than the plaintext modulus %d", ErrEncodingOverflow, n, t)
	}
	return nil
}

// Digits returns the hexadecimal digits of p, least significant first.
// Leading zeros are dropped; the digits of zero are [0].
func (p Plaintext) Digits() ([]uint64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s := strings.TrimLeft(string(p), "0")
	if s == "" {
		return []uint64{0}, nil
	}

	digits := make([]uint64, len(s))
	for i := range digits {
		digits[i] = uint64(digitValue(s[len(s)-1-i]))
	}
	return digits, nil
}

// PlaintextFromDigits carries a little-endian digit vector into a canonical
// plaintext. Digit values may exceed 15, as they do after homomorphic
// additions.
func PlaintextFromDigits(digits []uint64) Plaintext {
	acc := new(big.Int)
	d := new(big.Int)
	for i := len(digits) - 1; i >= 0; i-- {
		acc.Lsh(acc, 4)
		acc.Add(acc, d.SetUint64(digits[i]))
	}
	return Plaintext(strings.ToUpper(acc.Text(16)))
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}
