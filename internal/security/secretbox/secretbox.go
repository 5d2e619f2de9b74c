package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	encryptionKeyEnvVar = "ENCRYPTION_KEY"
	nonceSizeGCM        = 12 // AES-GCM nonce size recomendado (96 bits)
	derivedKeyLength    = 32 // 32 bytes => AES-256
	minSecretLength     = 32
	hkdfInfo            = "postdispatch/tokenstore/v1"
	sep                 = "|" // nonce|ciphertext (ambos en base64)
)

var (
	derivedKey    []byte
	masterKeyOnce sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// deriveKey aplica HKDF-SHA256 sobre el secreto configurado para obtener una
// clave AES-256 de 32 bytes, sin exigir que el secreto original mida
// exactamente 32 bytes.
func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%s debe decodificar a al menos %d bytes, obtuvo %d", encryptionKeyEnvVar, minSecretLength, len(secret))
	}
	h := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return key, nil
}

// decodeSecret acepta el secreto en base64 estándar o, si eso falla, lo
// trata como bytes crudos.
func decodeSecret(raw string) []byte {
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return b
	}
	return []byte(raw)
}

// ensureLoaded carga y deriva la clave desde ENCRYPTION_KEY una sola vez.
func ensureLoaded() error {
	masterKeyOnce.Do(func() {
		raw := strings.TrimSpace(os.Getenv(encryptionKeyEnvVar))
		if raw == "" {
			loadErr = fmt.Errorf("%s no seteada; genere un secreto con: openssl rand -base64 32", encryptionKeyEnvVar)
			return
		}
		key, err := deriveKey(decodeSecret(raw))
		if err != nil {
			loadErr = err
			return
		}
		mu.Lock()
		derivedKey = key
		mu.Unlock()
	})
	return loadErr
}

// ValidateSecretLength decodifica raw igual que ensureLoaded (base64 o
// crudo) y falla si el resultado es más corto que minSecretLength. Permite a
// internal/config.Validate rechazar un secreto corto en el arranque en vez
// de esperar al primer Encrypt/Decrypt.
func ValidateSecretLength(raw string) error {
	_, err := deriveKey(decodeSecret(strings.TrimSpace(raw)))
	return err
}

// IsSecretBoxReady expone si la clave está cargada (útil para healthchecks).
func IsSecretBoxReady() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(derivedKey) == derivedKeyLength
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func Encrypt(plainText string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}

	mu.RLock()
	key := make([]byte, len(derivedKey))
	copy(key, derivedKey)
	mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)

	nonceB64 := base64.StdEncoding.EncodeToString(nonce)
	ctB64 := base64.StdEncoding.EncodeToString(ct)
	return nonceB64 + sep + ctB64, nil
}

// DecryptWithKey descifra con un secreto explícito (base64 o raw), derivando
// la clave AES con el mismo esquema HKDF que Encrypt/Decrypt.
func DecryptWithKey(secret string, cipherText string) (string, error) {
	key, err := deriveKey(decodeSecret(strings.TrimSpace(secret)))
	if err != nil {
		return "", err
	}
	return decryptWith(key, cipherText)
}

// Decrypt recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
func Decrypt(cipherText string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	mu.RLock()
	key := make([]byte, len(derivedKey))
	copy(key, derivedKey)
	mu.RUnlock()
	return decryptWith(key, cipherText)
}

func decryptWith(key []byte, cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}

// --- Helpers para tests ---

// UnsafeResetSecretBoxForTests borra estado interno. Usar sólo en tests.
func UnsafeResetSecretBoxForTests() {
	mu.Lock()
	derivedKey = nil
	mu.Unlock()
	masterKeyOnce = sync.Once{}
	loadErr = nil
}

// UnsafeSetMasterKeyForTests permite setear una clave ya derivada (32 bytes) en tests.
func UnsafeSetMasterKeyForTests(k []byte) error {
	if len(k) != derivedKeyLength {
		return fmt.Errorf("clave inválida para test: se requieren %d bytes", derivedKeyLength)
	}
	UnsafeResetSecretBoxForTests()
	mu.Lock()
	derivedKey = make([]byte, len(k))
	copy(derivedKey, k)
	mu.Unlock()
	return nil
}
