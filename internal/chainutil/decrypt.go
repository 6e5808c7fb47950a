// Package chainutil holds the signer passphrase encryption helpers
// shared by the chain gateway wiring. Adapted from the teacher's
// internal/util package's util.Decrypt call in cmd/main.go.
package chainutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Hex2Bytes decodes a hex string, tolerating an optional "0x" prefix.
func Hex2Bytes(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Decrypt reverses Encrypt: key must be 16, 24 or 32 bytes (AES-128/192/256);
// ciphertext is base64 of nonce||sealed. cmd/controlplane uses it in dev
// mode to recover each signer's hex-encoded private key, which it then
// registers with gateway.InMemoryKeyService.
func Decrypt(key []byte, ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "new gcm")
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "open sealed box")
	}
	return string(plain), nil
}

// Encrypt seals plaintext with AES-GCM, returning base64 of nonce||sealed.
// Provided so operators can produce values Decrypt accepts; the control
// plane itself only ever calls Decrypt.
func Encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "new gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}
