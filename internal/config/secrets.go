package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const secretService = "tripd"

// Secret accounts.
const (
	accountAPIToken    = "api_token"
	accountProviderKey = "providers_api_key"
)

// ErrSecretNotFound is returned when the secret store has no value.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain stores secrets outside the plain config file.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// fileKeychain keeps secrets in a 0600 JSON file under the data dir.
type fileKeychain struct {
	path string
}

// NewKeychain returns the secret store at $XDG_DATA_HOME/tripd/secrets.json.
func NewKeychain() Keychain {
	return fileKeychain{path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (k fileKeychain) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(k.path)
	if os.IsNotExist(err) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (k fileKeychain) Get(service, account string) (string, error) {
	secrets, err := k.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok || val == "" {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func (k fileKeychain) Set(service, account, value string) error {
	secrets, err := k.read()
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, out, 0o600)
}

// GetAPIToken returns the bearer token for the HTTP API, generating and
// storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	token, err := kc.Get(secretService, accountAPIToken)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token = hex.EncodeToString(buf)
	if err := kc.Set(secretService, accountAPIToken, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
