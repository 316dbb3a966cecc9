package fhe

import (
	"fmt"
	"sync"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/scheme"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
	"golang.org/x/exp/constraints"
)

// Encryptor encrypts plaintexts under a public key. It is safe for
// concurrent use.
type Encryptor struct {
	ctx *scheme.Context
	pk  *scheme.PublicKey

	mu  sync.Mutex
	ecd *bfv.Encoder
	enc *rlwe.Encryptor
}

// NewEncryptor returns an Encryptor for pk, which must belong to ctx.
func NewEncryptor(ctx *scheme.Context, pk *scheme.PublicKey) (*Encryptor, error) {
	if pk == nil || pk.PublicKey == nil {
		return nil, fmt.Errorf("cannot NewEncryptor: nil public key")
	}
	if err := ctx.Check(pk.Fingerprint); err != nil {
		return nil, fmt.Errorf("cannot NewEncryptor: %w", err)
	}
	params := ctx.Parameters()
	return &Encryptor{
		ctx: ctx,
		pk:  pk,
		ecd: bfv.NewEncoder(params),
		enc: bfv.NewEncryptor(params, pk.PublicKey),
	}, nil
}

// PublicKey returns the encryption key.
func (e *Encryptor) PublicKey() *scheme.PublicKey {
	return e.pk
}

// Encrypt returns a fresh encryption of p. It returns codec.ErrEncodingOverflow
// if p is not smaller than the plaintext modulus.
func (e *Encryptor) Encrypt(p codec.Plaintext) (*scheme.Ciphertext, error) {

	values, err := pack(e.ctx, p)
	if err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}

	params := e.ctx.Parameters()
	pt := bfv.NewPlaintext(params, params.MaxLevel())

	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.ecd.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}

	ct, err := e.enc.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("cannot Encrypt: %w", err)
	}

	return e.ctx.BindCiphertext(ct, 1), nil
}

// EncryptInteger encodes n and encrypts it.
func EncryptInteger[T constraints.Integer](e *Encryptor, n T) (*scheme.Ciphertext, error) {
	p, err := codec.EncodeInteger(n)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(p)
}
