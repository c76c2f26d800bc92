package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed credential values are stored with this prefix so config payloads
// can mix plain and sealed params.
const sealedPrefix = "enc:"

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

func key() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(GetConfig().CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key is not valid base64: %w", err)
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	return raw, nil
}

// EncryptString seals a credential value for storage. The result carries
// the "enc:" prefix and a random nonce, so encrypting the same value twice
// yields different ciphertexts.
func EncryptString(plaintext string) (string, error) {
	k, err := key()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString unseals a value produced by EncryptString. Values without
// the "enc:" prefix are returned unchanged, so callers can pass whole
// param maps through without caring which entries are sealed.
func DecryptString(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	k, err := key()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// IsSealed reports whether a stored value is an encrypted credential.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// UnsealParams returns a copy of params with every sealed string value
// decrypted. Used by the bootstrap sequencer right before a config push;
// sealed values never leave the manager in encrypted form.
func UnsealParams(params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok || !IsSealed(s) {
			out[k] = v
			continue
		}
		plain, err := DecryptString(s)
		if err != nil {
			return nil, fmt.Errorf("unseal param %q: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}
