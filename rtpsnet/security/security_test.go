package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	tr := NewSecretBoxTransform(key)

	plaintext := []byte("sample payload bytes")
	ciphertext, err := tr.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := tr.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSecretBoxOpenRejectsTampering(t *testing.T) {
	var key [KeySize]byte
	tr := NewSecretBoxTransform(key)

	ciphertext, err := tr.Seal([]byte("hello"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = tr.Open(ciphertext)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestNoopTransformPassesThrough(t *testing.T) {
	var tr NoopTransform
	got, err := tr.Seal([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}
