package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService groups the application secrets in the OS keychain.
const KeyringService = "job-aggregator"

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// File points to a file containing the secret value. When set it takes
	// precedence over Value.
	File string
	// KeyringAccount is looked up under KeyringService when neither File nor
	// Value yield a secret.
	KeyringAccount string
}

// Load returns the resolved secret value from the provided source. File takes
// precedence over Value, and the OS keyring is the last resort. The returned
// secret is always trimmed.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		src.Value = string(data)
		src.File = file
	}

	secret := strings.TrimSpace(src.Value)
	if secret != "" {
		return secret, nil
	}

	if src.File != "" {
		return "", fmt.Errorf("%s file %q is empty", name, src.File)
	}

	if account := strings.TrimSpace(src.KeyringAccount); account != "" {
		value, err := keyring.Get(KeyringService, account)
		switch {
		case errors.Is(err, keyring.ErrNotFound):
			return "", fmt.Errorf("%s is not configured (no keyring entry %q)", name, account)
		case err != nil:
			return "", fmt.Errorf("reading %s from keyring: %w", name, err)
		}
		if secret = strings.TrimSpace(value); secret != "" {
			return secret, nil
		}
	}

	return "", fmt.Errorf("%s is not configured", name)
}

// Store saves a secret in the OS keyring under the given account.
func Store(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, strings.TrimSpace(account), strings.TrimSpace(value))
}
