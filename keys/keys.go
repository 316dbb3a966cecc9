// Package keys generates and holds the key pair of a parameter set.
//
// A KeyAuthority is an explicit value with the lifetime of its owner (a
// service process or a client installation). Only the public key is meant to
// cross into the aggregator's trust boundary; the secret key stays with the
// party that decrypts.
package keys

import (
	"fmt"

	"github.com/fitcipher/fitcipher/scheme"
	"github.com/tuneinsight/lattigo/v5/schemes/bfv"
)

// KeyPair is a public/secret key pair bound to one parameter set.
type KeyPair struct {
	Public *scheme.PublicKey
	Secret *scheme.SecretKey
}

// Generate samples a fresh key pair under ctx.
func Generate(ctx *scheme.Context) KeyPair {
	sk, pk := bfv.NewKeyGenerator(ctx.Parameters()).GenKeyPairNew()
	return KeyPair{
		Public: ctx.BindPublicKey(pk),
		Secret: ctx.BindSecretKey(sk),
	}
}

// KeyAuthority owns one key pair. Its keys are read-only after creation and
// can be shared across goroutines.
type KeyAuthority struct {
	ctx  *scheme.Context
	pair KeyPair
}

// NewKeyAuthority generates a new key pair under ctx.
func NewKeyAuthority(ctx *scheme.Context) *KeyAuthority {
	return &KeyAuthority{ctx: ctx, pair: Generate(ctx)}
}

// FromKeyPair wraps an existing key pair, for instance one loaded from a
// Keyring. Both keys must belong to ctx.
func FromKeyPair(ctx *scheme.Context, pair KeyPair) (*KeyAuthority, error) {
	if pair.Public == nil || pair.Public.PublicKey == nil {
		return nil, fmt.Errorf("cannot FromKeyPair: missing public key")
	}
	if pair.Secret == nil || pair.Secret.SecretKey == nil {
		return nil, fmt.Errorf("cannot FromKeyPair: missing secret key")
	}
	if err := ctx.Check(pair.Public.Fingerprint); err != nil {
		return nil, fmt.Errorf("cannot FromKeyPair: public key: %w", err)
	}
	if err := ctx.Check(pair.Secret.Fingerprint); err != nil {
		return nil, fmt.Errorf("cannot FromKeyPair: secret key: %w", err)
	}
	return &KeyAuthority{ctx: ctx, pair: pair}, nil
}

// Context returns the parameter set of the key pair.
func (ka *KeyAuthority) Context() *scheme.Context {
	return ka.ctx
}

// PublicKey returns the public key.
func (ka *KeyAuthority) PublicKey() *scheme.PublicKey {
	return ka.pair.Public
}

// SecretKey returns the secret key. Callers must not hand it to the
// aggregator.
func (ka *KeyAuthority) SecretKey() *scheme.SecretKey {
	return ka.pair.Secret
}

// KeyPair returns both keys.
func (ka *KeyAuthority) KeyPair() KeyPair {
	return ka.pair
}
