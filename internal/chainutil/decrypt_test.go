package chainutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef") // 32 bytes
	sealed, err := Encrypt(key[:32], "vip-approver-passphrase")
	require.NoError(t, err)

	plain, err := Decrypt(key[:32], sealed)
	require.NoError(t, err)
	require.Equal(t, "vip-approver-passphrase", plain)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sealed, err := Encrypt(key, "secret")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "AA"
	_, err = Decrypt(key, tampered)
	require.Error(t, err)
}

func TestHex2Bytes(t *testing.T) {
	require.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("0xabcd"))
	require.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("abcd"))
}
