package fhe

import (
	"fmt"

	"github.com/fitcipher/fitcipher/scheme"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// Evaluator adds ciphertexts without any key material. It is safe for
// concurrent use: every call works on a shallow copy of the lattigo
// evaluator.
type Evaluator struct {
	ctx  *scheme.Context
	eval *bfv.Evaluator
}

// NewEvaluator returns an Evaluator for ctx.
func NewEvaluator(ctx *scheme.Context) *Evaluator {
	return &Evaluator{
		ctx:  ctx,
		eval: bfv.NewEvaluator(ctx.Parameters(), nil),
	}
}

// Add returns a new ciphertext of the sum of the plaintexts of a and b.
// Both operands must belong to the evaluator's context, otherwise
// ErrSchemeMismatch is returned. The fold count of the result is the sum of
// the operands' counts; a result past the fold capacity can be computed but
// does not decrypt.
func (e *Evaluator) Add(a, b *scheme.Ciphertext) (*scheme.Ciphertext, error) {
	if err := checkOperand(e.ctx, a); err != nil {
		return nil, fmt.Errorf("cannot Add: op0: %w", err)
	}
	if err := checkOperand(e.ctx, b); err != nil {
		return nil, fmt.Errorf("cannot Add: op1: %w", err)
	}

	ct, err := e.eval.ShallowCopy().AddNew(a.Ciphertext, b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cannot Add: %w", err)
	}
	return e.ctx.BindCiphertext(ct, scheme.AddFolds(a.Folds, b.Folds)), nil
}

// AddInPlace adds b into acc.
func (e *Evaluator) AddInPlace(acc, b *scheme.Ciphertext) error {
	if err := checkOperand(e.ctx, acc); err != nil {
		return fmt.Errorf("cannot AddInPlace: op0: %w", err)
	}
	if err := checkOperand(e.ctx, b); err != nil {
		return fmt.Errorf("cannot AddInPlace: op1: %w", err)
	}
	if err := e.eval.ShallowCopy().Add(acc.Ciphertext, b.Ciphertext, acc.Ciphertext); err != nil {
		return fmt.Errorf("cannot AddInPlace: %w", err)
	}
	acc.Folds = scheme.AddFolds(acc.Folds, b.Folds)
	return nil
}

// Fold adds cts into a copy of seed, left to right, and returns the total.
// seed is not modified.
func (e *Evaluator) Fold(seed *scheme.Ciphertext, cts ...*scheme.Ciphertext) (*scheme.Ciphertext, error) {
	if err := checkOperand(e.ctx, seed); err != nil {
		return nil, fmt.Errorf("cannot Fold: seed: %w", err)
	}

	eval := e.eval.ShallowCopy()
	acc := seed.CopyNew()

	for i, ct := range cts {
		if err := checkOperand(e.ctx, ct); err != nil {
			return nil, fmt.Errorf("cannot Fold: operand %d: %w", i, err)
		}
		if err := eval.Add(acc.Ciphertext, ct.Ciphertext, acc.Ciphertext); err != nil {
			return nil, fmt.Errorf("cannot Fold: operand %d: %w", i, err)
		}
		acc.Folds = scheme.AddFolds(acc.Folds, ct.Folds)
	}

	return acc, nil
}

func checkOperand(ctx *scheme.Context, ct *scheme.Ciphertext) error {
	if ct == nil || ct.Ciphertext == nil {
		return fmt.Errorf("nil ciphertext")
	}
	if ct.Folds == 0 {
		return fmt.Errorf("ciphertext without fold count")
	}
	if err := ctx.Check(ct.Fingerprint); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemeMismatch, err)
	}
	if ct.Degree() != 1 || ct.Level() != ctx.Parameters().MaxLevel() {
		return fmt.Errorf("unsupported ciphertext shape: degree=%d level=%d", ct.Degree(), ct.Level())
	}
	for i := range ct.Value {
		if ct.Value[i].N() != ctx.Parameters().N() {
			return fmt.Errorf("unsupported ciphertext shape: ring degree %d", ct.Value[i].N())
		}
	}
	return nil
}
