// Package auth verifies the identity tokens issued for editor sessions and
// manages the symmetric keys the server signs with.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLength is the size of every symmetric key the server uses.
	KeyLength = 32
	// Expected hex-encoded length (32 bytes = 64 hex characters).
	keyHexLength = 64

	// Key file names under the data directory.
	AccessKeyFile = "auth.key"
	InviteKeyFile = "invite.key"

	// HKDF info labels keep derived keys independent of each other.
	AccessKeyInfo = "ezhuthu access token v4.local"
)

// LoadOrGenerateKey loads a hex-encoded 32-byte key from <dir>/<name>.
// If the file doesn't exist, a new key is generated and saved with 0600 permissions.
func LoadOrGenerateKey(dir, name string) ([]byte, error) {
	keyPath := filepath.Join(dir, name)

	//#nosec G304 -- key path is derived from the configured data path
	keyBytes, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		keyHex := strings.TrimSpace(string(keyBytes))
		if len(keyHex) != keyHexLength {
			return nil, fmt.Errorf("invalid key length in %s: expected %d hex chars, got %d", name, keyHexLength, len(keyHex))
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid key format in %s: not valid hex: %w", name, err)
		}
		return key, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("save %s: %w", name, err)
	}

	return key, nil
}

// DeriveKey expands a deployment secret into a 32-byte key bound to info.
func DeriveKey(secret, info string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("derive key: empty secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
