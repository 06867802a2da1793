package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNoCredentials is returned when a session has never logged in.
var ErrNoCredentials = errors.New("no credentials; run login first")

// Credentials holds the authenticated identity for one session,
// persisted as credentials.toml inside the session directory.
type Credentials struct {
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

// LoadCredentials reads the session credentials file.
func LoadCredentials(path string) (*Credentials, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNoCredentials
	}
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.Username == "" || creds.Token == "" {
		return nil, ErrNoCredentials
	}
	return &creds, nil
}

// SaveCredentials writes the session credentials file with restrictive
// permissions.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
