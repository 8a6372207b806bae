// Package crypt implements the shard-line envelope encryption described in
// spec §6: AES-128-CBC with a PBKDF2 key derivation (1024 iterations,
// SHA-512; PKCS#12 key derivation is not used) from an operator-supplied
// passphrase, and the
// bcrypt-hashed passphrase check used to gate unlocking at boot.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/docvault/engine/pkg/apperr"

	"crypto/sha512"
)

const (
	keyLenBytes  = 16 // AES-128
	saltLenBytes = 16
	iterations   = 1024
)

// envelopePattern matches a shard line that has been encrypted: two
// base64 segments joined by a dot (§8 scenario 5).
var envelopePattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+\.[A-Za-z0-9+/=]+$`)

// Tool is the process-wide crypt tool. It holds the passphrase only after
// Unlock succeeds and derives a key from it for each envelope; until then
// IsReady is false and shards fall back to
// raw JSON (§4.2 loadData / unloadData).
type Tool struct {
	mu       sync.RWMutex
	unlocked bool
	passphrase string
}

// New creates an unready crypt tool.
func New() *Tool {
	return &Tool{}
}

// IsReady reports whether a passphrase has been unlocked.
func (t *Tool) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unlocked
}

// Unlock checks passphrase against the bcrypt hash stored at hashPath
// (config/js2crypt). If hashPath does not exist, encryption was never
// configured and Unlock succeeds trivially with the given passphrase
// recorded for later Encrypt and Decrypt calls.
func (t *Tool) Unlock(passphrase, hashPath string) error {
	hash, err := os.ReadFile(hashPath)
	if errors.Is(err, os.ErrNotExist) {
		t.mu.Lock()
		t.passphrase = passphrase
		t.unlocked = true
		t.mu.Unlock()
		return nil
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CryptError, "failed to read encryption key hash")
	}

	if err := bcrypt.CompareHashAndPassword(bytes.TrimSpace(hash), []byte(passphrase)); err != nil {
		return apperr.Wrap(err, apperr.CryptError, "passphrase does not match stored hash")
	}

	t.mu.Lock()
	t.passphrase = passphrase
	t.unlocked = true
	t.mu.Unlock()
	return nil
}

// StorePassphraseHash writes a bcrypt hash of passphrase to hashPath so a
// future boot can Unlock against it.
func StorePassphraseHash(passphrase, hashPath string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Wrap(err, apperr.CryptError, "failed to hash passphrase")
	}
	return os.WriteFile(hashPath, hash, 0o600)
}

// Encrypt produces a "<base64 salt>.<base64 ciphertext>" envelope for
// plaintext, deriving a fresh AES-128 key from the tool's passphrase and a
// new random 16-byte salt on every call.
func (t *Tool) Encrypt(plaintext []byte) (string, error) {
	t.mu.RLock()
	passphrase := t.passphrase
	ready := t.unlocked
	t.mu.RUnlock()

	if !ready {
		return "", apperr.New(apperr.CryptError, "encryption key not unlocked")
	}

	salt := make([]byte, saltLenBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", apperr.Wrap(err, apperr.CryptError, "failed to generate salt")
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CryptError, "failed to create cipher")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := salt[:aes.BlockSize]
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	envelope := fmt.Sprintf("%s.%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(ciphertext))
	return envelope, nil
}

// Decrypt reverses Encrypt. A wrong passphrase, or a corrupt envelope,
// yields apperr.CryptError without mutating any on-disk state.
func (t *Tool) Decrypt(envelope string) ([]byte, error) {
	t.mu.RLock()
	passphrase := t.passphrase
	ready := t.unlocked
	t.mu.RUnlock()

	if !ready {
		return nil, apperr.New(apperr.CryptError, "encryption key not unlocked")
	}

	parts := strings.SplitN(envelope, ".", 2)
	if len(parts) != 2 {
		return nil, apperr.New(apperr.CryptError, "malformed envelope")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(salt) < aes.BlockSize {
		return nil, apperr.New(apperr.CryptError, "malformed envelope salt")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, apperr.New(apperr.CryptError, "malformed envelope ciphertext")
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CryptError, "failed to create cipher")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, salt[:aes.BlockSize]).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CryptError, "decryption failed")
	}
	return unpadded, nil
}

// IsEnvelope reports whether line looks like an encrypted envelope rather
// than raw JSON.
func IsEnvelope(line string) bool {
	trimmed := strings.TrimSpace(line)
	return len(trimmed) > 0 && trimmed[0] != '{' && envelopePattern.MatchString(trimmed)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLenBytes, sha512.New)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}
