package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const secretFileName = "jwt.secret"

// SigningSecret returns the configured secret, or the one persisted in dir
// (generated on first use) when configured is empty.
func SigningSecret(configured, dir string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret, err := LoadOrCreateSecret(dir)
	if err != nil {
		return nil, err
	}
	slog.Info("using generated signing secret", "path", filepath.Join(dir, secretFileName))
	return []byte(secret), nil
}

// LoadOrCreateSecret reads dir/jwt.secret, or generates and persists a new
// 256-bit hex-encoded secret if the file is missing or empty.
func LoadOrCreateSecret(dir string) (string, error) {
	path := filepath.Join(dir, secretFileName)

	data, err := os.ReadFile(path) //nolint:gosec // dir comes from configuration
	if err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	}

	return RotateSecret(dir)
}

// RotateSecret generates a new secret, replacing the existing one.
// Every token signed with the previous secret stops verifying, which forces
// all realtime clients to re-authenticate on their next handshake.
func RotateSecret(dir string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(b)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretFileName), []byte(secret), 0600); err != nil {
		return "", fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}
