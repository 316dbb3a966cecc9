package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fitcipher/fitcipher/scheme"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// ErrMalformedTransport is returned when a transport string cannot be decoded.
var ErrMalformedTransport = errors.New("malformed transport string")

// Kind identifies the object carried by a transport string.
type Kind byte

const (
	// KindCiphertext tags a scheme.Ciphertext.
	KindCiphertext Kind = iota + 1
	// KindPublicKey tags a scheme.PublicKey.
	KindPublicKey
	// KindSecretKey tags a scheme.SecretKey.
	KindSecretKey
)

func (k Kind) String() string {
	switch k {
	case KindCiphertext:
		return "ciphertext"
	case KindPublicKey:
		return "public key"
	case KindSecretKey:
		return "secret key"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Envelope layout: magic | version | kind | fingerprint | payload.
// A ciphertext payload starts with its big-endian uint64 fold count.
const (
	envelopeVersion = 2
	headerSize      = len(envelopeMagic) + 2 + len(scheme.Fingerprint{})
	foldsSize       = 8
)

const envelopeMagic = "FTC"

var transportEncoding = base64.StdEncoding

// SerializeCiphertext returns the transport string of ct.
func SerializeCiphertext(ct *scheme.Ciphertext) (string, error) {
	if ct == nil || ct.Ciphertext == nil {
		return "", fmt.Errorf("cannot SerializeCiphertext: nil ciphertext")
	}
	if ct.Folds == 0 {
		return "", fmt.Errorf("cannot SerializeCiphertext: ciphertext without fold count")
	}
	return seal(KindCiphertext, ct.Fingerprint, binary.BigEndian.AppendUint64(nil, ct.Folds), ct.Ciphertext)
}

// DeserializeCiphertext decodes a transport string produced by
// SerializeCiphertext under a context equal to ctx.
func DeserializeCiphertext(s string, ctx *scheme.Context) (*scheme.Ciphertext, error) {
	payload, err := open(s, KindCiphertext, ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot DeserializeCiphertext: %w", err)
	}
	if len(payload) <= foldsSize {
		return nil, fmt.Errorf("cannot DeserializeCiphertext: %w: missing fold count", ErrMalformedTransport)
	}
	folds := binary.BigEndian.Uint64(payload)
	if folds == 0 {
		return nil, fmt.Errorf("cannot DeserializeCiphertext: %w: zero fold count", ErrMalformedTransport)
	}
	payload = payload[foldsSize:]
	ct := new(rlwe.Ciphertext)
	if err = unmarshal(ct, payload); err != nil {
		return nil, fmt.Errorf("cannot DeserializeCiphertext: %w", err)
	}
	return ctx.BindCiphertext(ct, folds), nil
}

// SerializePublicKey returns the transport string of pk.
func SerializePublicKey(pk *scheme.PublicKey) (string, error) {
	if pk == nil || pk.PublicKey == nil {
		return "", fmt.Errorf("cannot SerializePublicKey: nil key")
	}
	return seal(KindPublicKey, pk.Fingerprint, nil, pk.PublicKey)
}

// DeserializePublicKey decodes a transport string produced by
// SerializePublicKey under a context equal to ctx.
func DeserializePublicKey(s string, ctx *scheme.Context) (*scheme.PublicKey, error) {
	payload, err := open(s, KindPublicKey, ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot DeserializePublicKey: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err = unmarshal(pk, payload); err != nil {
		return nil, fmt.Errorf("cannot DeserializePublicKey: %w", err)
	}
	return ctx.BindPublicKey(pk), nil
}

// SerializeSecretKey returns the transport string of sk.
func SerializeSecretKey(sk *scheme.SecretKey) (string, error) {
	if sk == nil || sk.SecretKey == nil {
		return "", fmt.Errorf("cannot SerializeSecretKey: nil key")
	}
	return seal(KindSecretKey, sk.Fingerprint, nil, sk.SecretKey)
}

// DeserializeSecretKey decodes a transport string produced by
// SerializeSecretKey under a context equal to ctx.
func DeserializeSecretKey(s string, ctx *scheme.Context) (*scheme.SecretKey, error) {
	payload, err := open(s, KindSecretKey, ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot DeserializeSecretKey: %w", err)
	}
	sk := new(rlwe.SecretKey)
	if err = unmarshal(sk, payload); err != nil {
		return nil, fmt.Errorf("cannot DeserializeSecretKey: %w", err)
	}
	return ctx.BindSecretKey(sk), nil
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

type binaryUnmarshaler interface {
	UnmarshalBinary([]byte) error
}

// unmarshal decodes an untrusted payload. lattigo may panic on inconsistent
// sizes, which is reported as ErrMalformedTransport.
func unmarshal(obj binaryUnmarshaler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedTransport, r)
		}
	}()
	if err = obj.UnmarshalBinary(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedTransport, err)
	}
	return nil
}

func seal(kind Kind, fp scheme.Fingerprint, prefix []byte, obj binaryMarshaler) (string, error) {
	payload, err := obj.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("cannot marshal %s: %w", kind, err)
	}

	buf := make([]byte, 0, headerSize+len(prefix)+len(payload))
	buf = append(buf, envelopeMagic...)
	buf = append(buf, envelopeVersion, byte(kind))
	buf = append(buf, fp[:]...)
	buf = append(buf, prefix...)
	buf = append(buf, payload...)

	return transportEncoding.EncodeToString(buf), nil
}

func open(s string, kind Kind, ctx *scheme.Context) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedTransport)
	}

	buf, err := transportEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransport, err)
	}

	if len(buf) <= headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the envelope header", ErrMalformedTransport, len(buf))
	}

	if string(buf[:len(envelopeMagic)]) != envelopeMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedTransport)
	}
	buf = buf[len(envelopeMagic):]

	if buf[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedTransport, buf[0])
	}

	if got := Kind(buf[1]); got != kind {
		return nil, fmt.Errorf("%w: expected a %s but got a %s", ErrMalformedTransport, kind, got)
	}
	buf = buf[2:]

	var fp scheme.Fingerprint
	copy(fp[:], buf)
	if err = ctx.Check(fp); err != nil {
		return nil, err
	}

	return buf[len(fp):], nil
}
