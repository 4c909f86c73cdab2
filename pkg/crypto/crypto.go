package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

// Parámetros argon2id para derivar la clave AES-256 desde el secreto de
// proceso. La sal es fija por despliegue: el secreto ya es de alta entropía y
// la derivación debe ser estable entre reinicios para poder descifrar.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
	kdfKeyLen  = 32
)

var kdfSalt = []byte("crmcore-secrets-v1")

var encryptionKey []byte

// SetEncryptionKey deriva y fija la clave global de cifrado a partir del
// secreto de proceso. Rechaza secretos vacíos: los campos sensibles nunca
// deben persistirse en claro.
func SetEncryptionKey(secret string) error {
	if secret == "" {
		return errors.New("process secret is empty")
	}
	encryptionKey = argon2.IDKey([]byte(secret), kdfSalt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	return nil
}

// Encrypt encrypts a plain text string using AES-GCM and returns a base64 encoded string.
func Encrypt(plainText string) (string, error) {
	if len(encryptionKey) == 0 {
		return "", errors.New("encryption key not configured")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64 encoded string using AES-GCM.
func Decrypt(cipherText string) (string, error) {
	if len(encryptionKey) == 0 {
		return "", errors.New("encryption key not configured")
	}

	// If it doesn't look like base64, maybe it's legacy plain text
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return cipherText, nil // Fallback to plain text
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return cipherText, nil // Too short to be encrypted with nonce
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
