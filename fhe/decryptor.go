package fhe

import (
	"fmt"
	"sync"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/scheme"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// Decryptor decrypts ciphertexts with a secret key. It is safe for
// concurrent use.
type Decryptor struct {
	ctx *scheme.Context

	mu  sync.Mutex
	ecd *bfv.Encoder
	dec *rlwe.Decryptor
}

// NewDecryptor returns a Decryptor for sk, which must belong to ctx.
func NewDecryptor(ctx *scheme.Context, sk *scheme.SecretKey) (*Decryptor, error) {
	if sk == nil || sk.SecretKey == nil {
		return nil, fmt.Errorf("cannot NewDecryptor: nil secret key")
	}
	if err := ctx.Check(sk.Fingerprint); err != nil {
		return nil, fmt.Errorf("cannot NewDecryptor: %w", err)
	}
	params := ctx.Parameters()
	return &Decryptor{
		ctx: ctx,
		ecd: bfv.NewEncoder(params),
		dec: bfv.NewDecryptor(params, sk.SecretKey),
	}, nil
}

// Decrypt returns the plaintext of ct. Digit slots are carried, so the
// result of a homomorphic sum is a canonical plaintext of the integer sum.
// It returns ErrDecryptionFailed rather than a wrong value when the
// decrypted slots are inconsistent, when their tally differs from the fold
// count of ct, or when that count exceeds the fold capacity.
func (d *Decryptor) Decrypt(ct *scheme.Ciphertext) (codec.Plaintext, error) {
	p, _, err := d.decrypt(ct)
	return p, err
}

// DecryptInteger decrypts ct and decodes the plaintext.
func (d *Decryptor) DecryptInteger(ct *scheme.Ciphertext) (uint64, error) {
	p, err := d.Decrypt(ct)
	if err != nil {
		return 0, err
	}
	return codec.DecodeInteger(p)
}

// Folds returns the number of fresh ciphertexts summed into ct.
func (d *Decryptor) Folds(ct *scheme.Ciphertext) (uint64, error) {
	_, n, err := d.decrypt(ct)
	return n, err
}

func (d *Decryptor) decrypt(ct *scheme.Ciphertext) (p codec.Plaintext, folds uint64, err error) {

	if err = checkOperand(d.ctx, ct); err != nil {
		return "", 0, fmt.Errorf("cannot Decrypt: %w", err)
	}

	// past the capacity the slots may have wrapped into a valid layout
	if ct.Folds > d.ctx.FoldCapacity() {
		return "", 0, fmt.Errorf("cannot Decrypt: %w: %d folds exceed the capacity of %d", ErrDecryptionFailed, ct.Folds, d.ctx.FoldCapacity())
	}

	values := make([]uint64, d.ctx.Slots())

	if err = d.decode(ct, values); err != nil {
		return "", 0, fmt.Errorf("cannot Decrypt: %w", err)
	}

	if p, folds, err = unpack(d.ctx, values); err != nil {
		return "", 0, fmt.Errorf("cannot Decrypt: %w", err)
	}

	if folds != ct.Folds {
		return "", 0, fmt.Errorf("cannot Decrypt: %w: tally %d does not match %d folds", ErrDecryptionFailed, folds, ct.Folds)
	}

	return p, folds, nil
}

func (d *Decryptor) decode(ct *scheme.Ciphertext, values []uint64) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDecryptionFailed, r)
		}
	}()

	pt := d.dec.DecryptNew(ct.Ciphertext)
	if err = d.ecd.Decode(pt, values); err != nil {
		return fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return nil
}
