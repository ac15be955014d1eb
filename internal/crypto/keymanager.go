package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedSecretJSON is the on-disk format for an encrypted API secret.
type encryptedSecretJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// SecretConfig carries the information LoadSecret needs to resolve the API
// secret.
type SecretConfig struct {
	// RawSecret is the base64 secret as issued by the venue. If non-empty,
	// LoadSecret returns it directly.
	RawSecret string

	// EncryptedPath is the path to a JSON file produced by EncryptSecret.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

// EncryptSecret encrypts the base64 API secret with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM. It returns the JSON
// blob suitable for writing to disk.
func EncryptSecret(secretB64, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	secretB64 = strings.TrimSpace(secretB64)
	if secretB64 == "" {
		return nil, errors.New("crypto: api secret must not be empty")
	}
	if _, err := base64.StdEncoding.DecodeString(secretB64); err != nil {
		return nil, fmt.Errorf("crypto: api secret is not valid base64: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(secretB64), nil)

	out := encryptedSecretJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptSecret decrypts a JSON blob produced by EncryptSecret and returns
// the base64 API secret.
func DecryptSecret(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedSecretJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted secret JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

// LoadSecret resolves the API secret from the provided configuration.
//
// Resolution order:
//  1. If RawSecret is set, return it.
//  2. If EncryptedPath is set, read the file and decrypt with Password.
//  3. Otherwise, return an error.
func LoadSecret(cfg SecretConfig) (string, error) {
	if s := strings.TrimSpace(cfg.RawSecret); s != "" {
		return s, nil
	}
	if cfg.EncryptedPath != "" {
		data, err := os.ReadFile(cfg.EncryptedPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted secret file: %w", err)
		}
		return DecryptSecret(data, cfg.Password)
	}
	return "", errors.New("crypto: no api secret source configured (set api_secret or encrypted_secret_path)")
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
