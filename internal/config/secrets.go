package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const secretsService = "reviewiq"

var errSecretNotFound = errors.New("secret not found")

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "reviewiq", "secrets.json")
}

// secretsFile keeps secrets as {service: {account: value}} in a 0600 file.
type secretsFile struct {
	path string
}

func (f secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Get(account string) (string, error) {
	secrets, err := f.read()
	if errors.Is(err, os.ErrNotExist) {
		return "", errSecretNotFound
	}
	if err != nil {
		return "", err
	}
	val, ok := secrets[secretsService][account]
	if !ok || val == "" {
		return "", errSecretNotFound
	}
	return val, nil
}

func (f secretsFile) Set(account, value string) error {
	secrets, err := f.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretsService] == nil {
		secrets[secretsService] = make(map[string]string)
	}
	secrets[secretsService][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// adminToken returns the stored admin token, generating and storing one on
// first use.
func adminToken(s secretStore) (string, error) {
	token, err := s.Get("admin_token")
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, errSecretNotFound) {
		return "", fmt.Errorf("reading admin token: %w", err)
	}
	token = rand.Text()
	if err := s.Set("admin_token", token); err != nil {
		return "", fmt.Errorf("storing admin token: %w", err)
	}
	return token, nil
}
