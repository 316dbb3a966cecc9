package scheme

import (
	"bytes"
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// Ciphertext is an rlwe.Ciphertext tagged with the fingerprint of the
// context it was produced under.
//
// Folds counts the fresh encryptions summed into the ciphertext. It is 1 for
// a fresh encryption and saturates at math.MaxUint64.
type Ciphertext struct {
	*rlwe.Ciphertext
	Fingerprint Fingerprint
	Folds       uint64
}

// PublicKey is an rlwe.PublicKey tagged with its context fingerprint.
type PublicKey struct {
	*rlwe.PublicKey
	Fingerprint Fingerprint
}

// SecretKey is an rlwe.SecretKey tagged with its context fingerprint.
type SecretKey struct {
	*rlwe.SecretKey
	Fingerprint Fingerprint
}

// BindCiphertext tags ct with the fingerprint of ctx and a fold count of
// folds.
func (ctx *Context) BindCiphertext(ct *rlwe.Ciphertext, folds uint64) *Ciphertext {
	return &Ciphertext{Ciphertext: ct, Fingerprint: ctx.fingerprint, Folds: folds}
}

// BindPublicKey tags pk with the fingerprint of ctx.
func (ctx *Context) BindPublicKey(pk *rlwe.PublicKey) *PublicKey {
	return &PublicKey{PublicKey: pk, Fingerprint: ctx.fingerprint}
}

// BindSecretKey tags sk with the fingerprint of ctx.
func (ctx *Context) BindSecretKey(sk *rlwe.SecretKey) *SecretKey {
	return &SecretKey{SecretKey: sk, Fingerprint: ctx.fingerprint}
}

// CopyNew returns a deep copy of the ciphertext.
func (ct *Ciphertext) CopyNew() *Ciphertext {
	return &Ciphertext{Ciphertext: ct.Ciphertext.CopyNew(), Fingerprint: ct.Fingerprint, Folds: ct.Folds}
}

// AddFolds returns a+b, saturating at math.MaxUint64.
func AddFolds(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return math.MaxUint64
}

// Equal reports whether both keys have the same context and the same
// binary representation.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	if pk == nil || other == nil {
		return pk == other
	}
	if pk.Fingerprint != other.Fingerprint {
		return false
	}
	return equalBinary(pk.PublicKey, other.PublicKey)
}

// Equal reports whether both keys have the same context and the same
// binary representation.
func (sk *SecretKey) Equal(other *SecretKey) bool {
	if sk == nil || other == nil {
		return sk == other
	}
	if sk.Fingerprint != other.Fingerprint {
		return false
	}
	return equalBinary(sk.SecretKey, other.SecretKey)
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

func equalBinary(a, b binaryMarshaler) bool {
	da, err := a.MarshalBinary()
	if err != nil {
		return false
	}
	db, err := b.MarshalBinary()
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}
