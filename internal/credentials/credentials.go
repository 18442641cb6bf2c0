// Package credentials encrypts and decrypts subscribers' broker API
// credentials at rest, using PBKDF2 key derivation and AES-256-GCM
// authenticated encryption.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// Pair is a broker API key/secret pair as handed to a strategy runtime.
type Pair struct {
	APIKey    string
	APISecret string
}

// sealed is the on-disk/in-column format for an encrypted Pair.
type sealed struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Box encrypts and decrypts credential pairs using a single master
// passphrase (the deployment's BROKER_CREDENTIAL_KEY).
type Box struct {
	masterKey string
}

// NewBox creates a Box keyed by masterKey. An empty masterKey is rejected:
// callers must not silently store credentials in plaintext.
func NewBox(masterKey string) (*Box, error) {
	if masterKey == "" {
		return nil, errors.New("credentials: master key must not be empty")
	}
	return &Box{masterKey: masterKey}, nil
}

// Seal encrypts a credential pair into an opaque string suitable for storage
// in a domain.CredentialStore.
func (b *Box) Seal(pair Pair) (string, error) {
	plaintext, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("credentials: marshal pair: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credentials: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(b.masterKey), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	gcm, err := newGCM(derivedKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := sealed{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("credentials: marshal sealed blob: %w", err)
	}
	return string(data), nil
}

// Open decrypts a blob produced by Seal back into the credential pair.
func (b *Box) Open(blob string) (Pair, error) {
	var s sealed
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return Pair{}, fmt.Errorf("credentials: parsing sealed blob: %w", err)
	}
	if s.Version != currentVersion {
		return Pair{}, fmt.Errorf("credentials: unsupported version %d", s.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(s.Salt)
	if err != nil {
		return Pair{}, fmt.Errorf("credentials: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil {
		return Pair{}, fmt.Errorf("credentials: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return Pair{}, fmt.Errorf("credentials: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(b.masterKey), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	gcm, err := newGCM(derivedKey)
	if err != nil {
		return Pair{}, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Pair{}, fmt.Errorf("credentials: decryption failed (wrong master key?): %w", err)
	}

	var pair Pair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return Pair{}, fmt.Errorf("credentials: unmarshal pair: %w", err)
	}
	return pair, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: creating GCM: %w", err)
	}
	return gcm, nil
}
