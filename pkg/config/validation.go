package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Channel.InboundPath == cfg.Channel.ClientPrefix {
		return fmt.Errorf("channel: inbound_path and client_prefix must differ")
	}

	section := cfg.Inventory.section()
	switch cfg.Inventory.Type {
	case "flatfile", "sqlite":
		if s, _ := section["path"].(string); s == "" {
			return fmt.Errorf("inventory.%s: path is required", cfg.Inventory.Type)
		}
	case "badger":
		inMemory, _ := section["in_memory"].(bool)
		if s, _ := section["db_path"].(string); s == "" && !inMemory {
			return fmt.Errorf("inventory.badger: db_path is required")
		}
	case "s3":
		if s, _ := section["bucket"].(string); s == "" {
			return fmt.Errorf("inventory.s3: bucket is required")
		}
	}

	return nil
}

// section returns the options map for the selected backend.
func (c *InventoryConfig) section() map[string]any {
	switch c.Type {
	case "flatfile":
		return c.Flatfile
	case "memory":
		return c.Memory
	case "badger":
		return c.Badger
	case "sqlite":
		return c.Sqlite
	case "s3":
		return c.S3
	default:
		return nil
	}
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
