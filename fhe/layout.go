// Package fhe encrypts, decrypts and adds hexadecimal plaintexts under the BFV
// scheme of a scheme.Context.
//
// A plaintext is batched into the slots of one BFV plaintext as follows:
//
//	slot 0          tally, 1 per fresh encryption
//	slot 1          guard, 15 per fresh encryption
//	slots 2..2+D-1  hexadecimal digits, least significant first
//	other slots     0
//
// Homomorphic addition adds the slots independently, so the sum of k fresh
// ciphertexts has tally k, guard 15k and digit slots of at most 15k. While k
// does not exceed the fold capacity (t-1)/15, no slot wraps modulo t and the
// carried digit sum is exact. The decryptor checks these relations and
// reports ErrDecryptionFailed when any of them does not hold, which happens
// with overwhelming probability for a wrong secret key or an exhausted noise
// budget.
//
// A sum of t or more ciphertexts wraps every slot back into a valid layout,
// so the slots alone cannot bound k. Each scheme.Ciphertext therefore carries
// its fold count, which the evaluator adds up and the transport envelope
// preserves. The decryptor refuses counts past the capacity and tallies that
// differ from the count.
package fhe

import (
	"errors"
	"fmt"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/scheme"
)

var (
	// ErrDecryptionFailed is returned when a decrypted plaintext does not
	// satisfy the slot layout.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSchemeMismatch is returned when ciphertexts of different parameter
	// sets are combined.
	ErrSchemeMismatch = errors.New("scheme mismatch")
)

const (
	tallySlot   = 0
	guardSlot   = 1
	digitOffset = scheme.LayoutOverhead
)

// pack returns the slot vector of a fresh encryption of p.
func pack(ctx *scheme.Context, p codec.Plaintext) ([]uint64, error) {

	if err := p.CheckBound(ctx.PlaintextModulus()); err != nil {
		return nil, err
	}

	digits, err := p.Digits()
	if err != nil {
		return nil, err
	}

	values := make([]uint64, ctx.Slots())
	values[tallySlot] = 1
	values[guardSlot] = scheme.MaxDigit
	copy(values[digitOffset:digitOffset+ctx.Digits()], digits)

	return values, nil
}

// unpack verifies the slot layout and returns the carried digit sum and the
// number of folded ciphertexts.
func unpack(ctx *scheme.Context, values []uint64) (codec.Plaintext, uint64, error) {

	if len(values) < digitOffset+ctx.Digits() {
		return "", 0, fmt.Errorf("%w: %d slots", ErrDecryptionFailed, len(values))
	}

	tally := values[tallySlot]
	if tally == 0 || tally > ctx.FoldCapacity() {
		return "", 0, fmt.Errorf("%w: fold count outside [1, %d]", ErrDecryptionFailed, ctx.FoldCapacity())
	}

	bound := scheme.MaxDigit * tally
	if values[guardSlot] != bound {
		return "", 0, fmt.Errorf("%w: guard slot does not match fold count", ErrDecryptionFailed)
	}

	digits := values[digitOffset : digitOffset+ctx.Digits()]
	for i, d := range digits {
		if d > bound {
			return "", 0, fmt.Errorf("%w: digit slot %d out of range", ErrDecryptionFailed, i)
		}
	}

	for i, v := range values[digitOffset+ctx.Digits():] {
		if v != 0 {
			return "", 0, fmt.Errorf("%w: padding slot %d is not zero", ErrDecryptionFailed, digitOffset+ctx.Digits()+i)
		}
	}

	return codec.PlaintextFromDigits(digits), tally, nil
}
