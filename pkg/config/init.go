package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoLoan Configuration File
#
# Values here are overridden by DITTOLOAN_* environment variables
# (e.g. DITTOLOAN_LOGGING_LEVEL=DEBUG) and by command-line flags.
#
# inventory.type selects one backend; only its section is read:
#   flatfile: path, output_path
#   memory:   seed_path
#   badger:   db_path, in_memory, seed_path
#   sqlite:   path, busy_timeout, seed_path
#   s3:       bucket, key, region, endpoint, access_key_id, secret_access_key,
#             max_retries, timeout

`

// InitConfig writes a default configuration file at the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigAt(path, force)
}

// InitConfigAt writes a default configuration file at path.
func InitConfigAt(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := GenerateYAML(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateYAML renders cfg as a commented YAML document.
func GenerateYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
