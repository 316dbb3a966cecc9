package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/fhe"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
	"github.com/fitcipher/fitcipher/service"
)

var (
	// ErrNotReady is returned by Session methods called before Setup.
	ErrNotReady = errors.New("session is not set up")
	// ErrForeignKey is returned by Setup when the server is bound to a
	// public key the session cannot decrypt for.
	ErrForeignKey = errors.New("server is bound to another public key")
	// ErrNoKeys is returned by Setup when the session has no key pair and
	// the server does not export one.
	ErrNoKeys = errors.New("no key pair available")
	// ErrResultUnavailable wraps fhe.ErrDecryptionFailed for totals that
	// cannot be decrypted.
	ErrResultUnavailable = errors.New("result unavailable")
)

// Summary holds the decrypted totals.
type Summary struct {
	Runs     uint64
	Distance uint64
	Hours    uint64
}

// Session encrypts runs and decrypts totals for one server.
type Session struct {
	ctx *scheme.Context
	api *Client
	ka  *keys.KeyAuthority

	enc *fhe.Encryptor
	dec *fhe.Decryptor
}

// NewSession returns a session using the key pair ka. A nil ka means the
// session adopts the key pair the server exports, if it does so.
func NewSession(ctx *scheme.Context, api *Client, ka *keys.KeyAuthority) *Session {
	return &Session{ctx: ctx, api: api, ka: ka}
}

// KeyAuthority returns the key pair in use, or nil before Setup.
func (s *Session) KeyAuthority() *keys.KeyAuthority {
	return s.ka
}

// Setup checks that the server uses the same parameters and reconciles the
// bound key with the session's key pair: an unbound server gets the
// session's public key registered.
func (s *Session) Setup(ctx context.Context) error {
	params, err := s.api.GetParams(ctx)
	if err != nil {
		return fmt.Errorf("cannot Setup: %w", err)
	}
	if fp := s.ctx.Fingerprint().String(); params.Fingerprint != fp {
		return fmt.Errorf("cannot Setup: %w: server %s, local %s", codec.ErrContextMismatch, params.Fingerprint, fp)
	}

	kr, err := s.api.GetKeys(ctx)
	if err != nil {
		return fmt.Errorf("cannot Setup: %w", err)
	}

	if s.ka == nil {
		if kr.SecretKey == "" {
			return fmt.Errorf("cannot Setup: %w", ErrNoKeys)
		}
		if s.ka, err = s.adopt(kr); err != nil {
			return fmt.Errorf("cannot Setup: %w", err)
		}
	}

	switch kr.PublicKey {
	case "":
		own, err := codec.SerializePublicKey(s.ka.PublicKey())
		if err != nil {
			return fmt.Errorf("cannot Setup: %w", err)
		}
		if err = s.api.RegisterPublicKey(ctx, own); err != nil {
			return fmt.Errorf("cannot Setup: %w", err)
		}
	default:
		bound, err := codec.DeserializePublicKey(kr.PublicKey, s.ctx)
		if err != nil {
			return fmt.Errorf("cannot Setup: %w", err)
		}
		if !bound.Equal(s.ka.PublicKey()) {
			return fmt.Errorf("cannot Setup: %w", ErrForeignKey)
		}
	}

	if s.enc, err = fhe.NewEncryptor(s.ctx, s.ka.PublicKey()); err != nil {
		return fmt.Errorf("cannot Setup: %w", err)
	}
	if s.dec, err = fhe.NewDecryptor(s.ctx, s.ka.SecretKey()); err != nil {
		return fmt.Errorf("cannot Setup: %w", err)
	}
	return nil
}

func (s *Session) adopt(kr service.KeysResponse) (*keys.KeyAuthority, error) {
	pk, err := codec.DeserializePublicKey(kr.PublicKey, s.ctx)
	if err != nil {
		return nil, err
	}
	sk, err := codec.DeserializeSecretKey(kr.SecretKey, s.ctx)
	if err != nil {
		return nil, err
	}
	return keys.FromKeyPair(s.ctx, keys.KeyPair{Public: pk, Secret: sk})
}

// Encrypt returns the transport strings of one run. Negative values are
// rejected with codec.ErrNegativeValue.
func (s *Session) Encrypt(distance, hours int64) (service.RunItem, error) {
	if s.enc == nil {
		return service.RunItem{}, ErrNotReady
	}
	if distance < 0 {
		return service.RunItem{}, fmt.Errorf("distance: %w", codec.ErrNegativeValue)
	}
	if hours < 0 {
		return service.RunItem{}, fmt.Errorf("time: %w", codec.ErrNegativeValue)
	}

	var item service.RunItem
	for _, f := range []struct {
		dst *string
		n   int64
	}{
		{&item.Distance, distance},
		{&item.Time, hours},
	} {
		ct, err := fhe.EncryptInteger(s.enc, f.n)
		if err != nil {
			return service.RunItem{}, err
		}
		if *f.dst, err = codec.SerializeCiphertext(ct); err != nil {
			return service.RunItem{}, err
		}
	}
	return item, nil
}

// AddRun encrypts and submits one run. Invalid input fails before any
// request is made.
func (s *Session) AddRun(ctx context.Context, distance, hours int64) (string, error) {
	item, err := s.Encrypt(distance, hours)
	if err != nil {
		return "", fmt.Errorf("cannot AddRun: %w", err)
	}
	id, err := s.api.SubmitRecord(ctx, item)
	if err != nil {
		return "", fmt.Errorf("cannot AddRun: %w", err)
	}
	return id, nil
}

// Metrics fetches and decrypts the totals.
func (s *Session) Metrics(ctx context.Context) (Summary, error) {
	if s.dec == nil {
		return Summary{}, fmt.Errorf("cannot Metrics: %w", ErrNotReady)
	}

	res, err := s.api.GetAggregate(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot Metrics: %w", err)
	}
	return s.Decrypt(res)
}

// Decrypt decrypts the three totals of res.
func (s *Session) Decrypt(res service.SummaryItem) (Summary, error) {
	if s.dec == nil {
		return Summary{}, ErrNotReady
	}

	var sum Summary
	for _, f := range []struct {
		name string
		src  string
		dst  *uint64
	}{
		{"runs", res.TotalRuns, &sum.Runs},
		{"distance", res.TotalDistance, &sum.Distance},
		{"hours", res.TotalHours, &sum.Hours},
	} {
		ct, err := codec.DeserializeCiphertext(f.src, s.ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if *f.dst, err = s.dec.DecryptInteger(ct); err != nil {
			if errors.Is(err, fhe.ErrDecryptionFailed) {
				return Summary{}, fmt.Errorf("%s: %w: %w", f.name, ErrResultUnavailable, err)
			}
			return Summary{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return sum, nil
}
