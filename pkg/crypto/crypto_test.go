package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	require.NoError(t, SetEncryptionKey("secreto-de-proceso-para-tests"))

	// Leer un campo cifrado devuelve el texto original
	plain := "EAAGm0PX4ZCpsBO7bearer1234567890"
	enc, err := Encrypt(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)

	dec, err := Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryptNondeterministic(t *testing.T) {
	require.NoError(t, SetEncryptionKey("secreto-de-proceso-para-tests"))

	// Nonce aleatorio: dos cifrados del mismo texto difieren
	a, err := Encrypt("mismo texto")
	require.NoError(t, err)
	b, err := Encrypt("mismo texto")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	require.NoError(t, SetEncryptionKey("secreto-de-proceso-para-tests"))

	// Valores guardados antes de activar el cifrado pasan tal cual
	out, err := Decrypt("no-base64!!")
	require.NoError(t, err)
	assert.Equal(t, "no-base64!!", out)
}

func TestSetEncryptionKeyEmpty(t *testing.T) {
	assert.Error(t, SetEncryptionKey(""))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("clave-segura-123")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	assert.True(t, CheckPasswordHash("clave-segura-123", hash))
	assert.False(t, CheckPasswordHash("clave-equivocada", hash))
	assert.False(t, CheckPasswordHash("clave-segura-123", "$2a$10$not-argon"))
}

func TestPasswordHashSaltedPerCall(t *testing.T) {
	h1, err := HashPassword("misma")
	require.NoError(t, err)
	h2, err := HashPassword("misma")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
