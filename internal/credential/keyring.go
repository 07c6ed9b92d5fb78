// Package credential keeps the control API token in the OS keyring so it
// does not have to live in the config file.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "rebootreminder"

// APITokenKey is the keyring entry holding the control API bearer token.
const APITokenKey = "api-token"

// ErrNotFound is returned by Get when no credential is stored under key.
var ErrNotFound = errors.New("credential not found")

// opener is swapped in tests.
var opener = openKeyring

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/rebootreminder/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("rebootreminder-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential by key.
func Get(key string) (string, error) {
	ring, err := opener()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential by key.
func Set(key, value string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "rebootreminder " + key,
		Description: "Reboot reminder control API credential",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential. Deleting a missing credential is not an
// error.
func Delete(key string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// ResolveToken returns configured when it is set and the stored API token
// otherwise. A missing stored token yields "".
func ResolveToken(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	tok, err := Get(APITokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tok, err
}
