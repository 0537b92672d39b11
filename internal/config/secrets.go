package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const tokenAccount = "client_token"

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "clawkpit", "secrets.json")
}

// fileSecrets reads a 0600 JSON file of account -> secret.
type fileSecrets struct {
	path string
}

func (f fileSecrets) file() string {
	if f.path != "" {
		return f.path
	}
	return secretsFilePath()
}

func (f fileSecrets) Get(account string) (string, error) {
	data, err := os.ReadFile(f.file())
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("account %q not found", account)
	}
	return val, nil
}

func (f fileSecrets) Set(account, value string) error {
	p := f.file()

	secrets := make(map[string]string)
	if data, err := os.ReadFile(p); err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

// SaveToken persists the agent credential issued by device pairing.
func SaveToken(token string) error {
	return fileSecrets{}.Set(tokenAccount, token)
}
