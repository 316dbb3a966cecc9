// Package scheme holds the homomorphic encryption parameters shared by every
// other component: the ring degree, the coefficient modulus chain and the
// plaintext modulus of the underlying BFV scheme.
//
// A Context is created once from a ParametersLiteral and is immutable
// afterwards. Keys, plaintexts and ciphertexts are only interoperable when they
// were produced under contexts with the same Fingerprint.
package scheme

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
	"github.com/zeebo/blake3"
)

const (
	// MinLogN is the smallest ring degree accepted by NewContext.
	MinLogN = 10
	// MaxLogN is the largest ring degree accepted by NewContext.
	MaxLogN = 16

	// MaxDigit is the largest hexadecimal digit value.
	MaxDigit = 15

	// LayoutOverhead is the number of slots used by the tally and guard
	// counters of an encoded value.
	LayoutOverhead = 2
)

var (
	// ErrInvalidParameters is returned when a ParametersLiteral cannot
	// instantiate a usable context.
	ErrInvalidParameters = errors.New("invalid scheme parameters")

	// ErrContextMismatch is returned when an object produced under one
	// context is used with another.
	ErrContextMismatch = errors.New("context mismatch")
)

// ParametersLiteral is the unchecked, user-facing description of a parameter
// set. It is what configuration files carry. Use NewContext to validate it.
type ParametersLiteral struct {
	LogN             int    `json:"LogN" yaml:"log_n"`
	LogQ             []int  `json:"LogQ" yaml:"log_q"`
	LogP             []int  `json:"LogP,omitempty" yaml:"log_p"`
	PlaintextModulus uint64 `json:"PlaintextModulus" yaml:"plaintext_modulus"`
}

// BFVParametersLiteral returns the lattigo literal for p.
func (p ParametersLiteral) BFVParametersLiteral() bfv.ParametersLiteral {
	return bfv.ParametersLiteral{
		LogN:             p.LogN,
		LogQ:             p.LogQ,
		LogP:             p.LogP,
		PlaintextModulus: p.PlaintextModulus,
	}
}

// Fingerprint identifies a parameter set.
type Fingerprint [32]byte

// String returns the hexadecimal encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Context is a validated parameter set.
type Context struct {
	literal     ParametersLiteral
	params      bfv.Parameters
	fingerprint Fingerprint
	digits      int
	capacity    uint64
}

// NewContext validates the literal and instantiates the BFV parameters.
// All errors wrap ErrInvalidParameters.
func NewContext(lit ParametersLiteral) (*Context, error) {

	if lit.LogN < MinLogN || lit.LogN > MaxLogN {
		return nil, fmt.Errorf("%w: LogN=%d must be in [%d, %d]", ErrInvalidParameters, lit.LogN, MinLogN, MaxLogN)
	}

	if len(lit.LogQ) == 0 {
		return nil, fmt.Errorf("%w: empty coefficient modulus chain", ErrInvalidParameters)
	}

	if lit.PlaintextModulus <= MaxDigit+1 {
		return nil, fmt.Errorf("%w: plaintext modulus %d leaves no fold capacity", ErrInvalidParameters, lit.PlaintextModulus)
	}

	if lit.PlaintextModulus&1 == 0 {
		return nil, fmt.Errorf("%w: plaintext modulus %d must be an odd prime", ErrInvalidParameters, lit.PlaintextModulus)
	}

	params, err := bfv.NewParametersFromLiteral(lit.BFVParametersLiteral())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	t := params.PlaintextModulus()

	// The guard slot holds MaxDigit per fold and must never reach t.
	capacity := (t - 1) / MaxDigit
	digits := len(strconv.FormatUint(t-1, 16))

	if need := LayoutOverhead + digits; params.MaxSlots() < need {
		return nil, fmt.Errorf("%w: %d slots available but %d are needed", ErrInvalidParameters, params.MaxSlots(), need)
	}

	data, err := params.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	lit.LogQ = append([]int(nil), lit.LogQ...)
	lit.LogP = append([]int(nil), lit.LogP...)

	return &Context{
		literal:     lit,
		params:      params,
		fingerprint: blake3.Sum256(data),
		digits:      digits,
		capacity:    capacity,
	}, nil
}

// Parameters returns the underlying BFV parameters.
func (ctx *Context) Parameters() bfv.Parameters {
	return ctx.params
}

// Literal returns a copy of the literal the context was created from.
func (ctx *Context) Literal() ParametersLiteral {
	lit := ctx.literal
	lit.LogQ = append([]int(nil), ctx.literal.LogQ...)
	lit.LogP = append([]int(nil), ctx.literal.LogP...)
	return lit
}

// PlaintextModulus returns t. Encoded values must be strictly smaller.
func (ctx *Context) PlaintextModulus() uint64 {
	return ctx.params.PlaintextModulus()
}

// Slots returns the number of plaintext slots.
func (ctx *Context) Slots() int {
	return ctx.params.MaxSlots()
}

// Digits returns the number of hexadecimal digit slots of an encoded value.
func (ctx *Context) Digits() int {
	return ctx.digits
}

// FoldCapacity returns the largest number of fresh ciphertexts whose sum
// still decrypts exactly.
func (ctx *Context) FoldCapacity() uint64 {
	return ctx.capacity
}

// Fingerprint returns the BLAKE3 digest of the parameter set.
func (ctx *Context) Fingerprint() Fingerprint {
	return ctx.fingerprint
}

// Equal reports whether both contexts describe the same parameter set.
func (ctx *Context) Equal(other *Context) bool {
	return other != nil && ctx.fingerprint == other.fingerprint
}

// Check returns ErrContextMismatch if fp is not the fingerprint of ctx.
func (ctx *Context) Check(fp Fingerprint) error {
	if fp != ctx.fingerprint {
		return fmt.Errorf("%w: have %.16s, want %.16s", ErrContextMismatch, fp, ctx.fingerprint)
	}
	return nil
}

func (ctx *Context) String() string {
	return fmt.Sprintf("LogN=%d/logQP=%d/logT=%d/slots=%d",
		ctx.params.LogN(),
		int(math.Round(ctx.params.LogQP())),
		int(math.Round(ctx.params.LogT())),
		ctx.Slots())
}
