package keys

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/scheme"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyringSealed is returned when a keyring cannot be opened with the
// given passphrase or was tampered with.
var ErrKeyringSealed = errors.New("keyring cannot be opened")

// Keyring file layout: magic | salt | nonce | sealed JSON document.
const (
	keyringMagic = "FTCK1"
	saltSize     = 16
)

// Argon2id cost, following the RFC 9106 second recommended option.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

type keyringDocument struct {
	Fingerprint string
	PublicKey   string
	SecretKey   string
}

// SaveKeyring writes the key pair of ka to path, sealed under a key derived
// from passphrase. The file is created with mode 0600.
func SaveKeyring(path string, passphrase []byte, ka *KeyAuthority) error {
	pk, err := codec.SerializePublicKey(ka.PublicKey())
	if err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}
	sk, err := codec.SerializeSecretKey(ka.SecretKey())
	if err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}

	doc, err := json.Marshal(keyringDocument{
		Fingerprint: ka.Context().Fingerprint().String(),
		PublicKey:   pk,
		SecretKey:   sk,
	})
	if err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err = rand.Read(salt); err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}

	header := make([]byte, 0, len(keyringMagic)+saltSize+len(nonce))
	header = append(header, keyringMagic...)
	header = append(header, salt...)
	header = append(header, nonce...)

	out := aead.Seal(header, nonce, doc, []byte(keyringMagic))

	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot SaveKeyring: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cannot SaveKeyring: %w", err)
	}
	return nil
}

// LoadKeyring opens a keyring written by SaveKeyring. The keys must belong
// to ctx. A missing file is reported with an error wrapping fs.ErrNotExist.
func LoadKeyring(path string, passphrase []byte, ctx *scheme.Context) (*KeyAuthority, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", err)
	}

	nonceSize := chacha20poly1305.NonceSizeX
	if len(data) < len(keyringMagic)+saltSize+nonceSize || string(data[:len(keyringMagic)]) != keyringMagic {
		return nil, fmt.Errorf("cannot LoadKeyring: %w: not a keyring file", ErrKeyringSealed)
	}

	salt := data[len(keyringMagic) : len(keyringMagic)+saltSize]
	nonce := data[len(keyringMagic)+saltSize : len(keyringMagic)+saltSize+nonceSize]
	sealed := data[len(keyringMagic)+saltSize+nonceSize:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", err)
	}

	doc, err := aead.Open(nil, nonce, sealed, []byte(keyringMagic))
	if err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", ErrKeyringSealed)
	}

	var kd keyringDocument
	if err = json.Unmarshal(doc, &kd); err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", err)
	}

	pk, err := codec.DeserializePublicKey(kd.PublicKey, ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", err)
	}
	sk, err := codec.DeserializeSecretKey(kd.SecretKey, ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot LoadKeyring: %w", err)
	}

	return FromKeyPair(ctx, KeyPair{Public: pk, Secret: sk})
}

// LoadOrCreateKeyring loads the keyring at path, or generates a new key
// pair and saves it there if the file does not exist yet. The boolean
// reports whether a new key pair was created.
func LoadOrCreateKeyring(path string, passphrase []byte, ctx *scheme.Context) (*KeyAuthority, bool, error) {
	ka, err := LoadKeyring(path, passphrase, ctx)
	if err == nil {
		return ka, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	ka = NewKeyAuthority(ctx)
	if err = SaveKeyring(path, passphrase, ka); err != nil {
		return nil, false, err
	}
	return ka, true, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
