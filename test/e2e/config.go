package e2e

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/dittoloan/pkg/config"
)

// StoreType is the inventory backend a test run uses.
type StoreType string

const (
	StoreFlatfile StoreType = "flatfile"
	StoreMemory   StoreType = "memory"
	StoreBadger   StoreType = "badger"
	StoreSqlite   StoreType = "sqlite"
)

// TestConfig holds the configuration for a test run.
type TestConfig struct {
	Name  string
	Store StoreType
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return string(tc.Store)
}

// Persistent reports whether the backend keeps the catalogue across restarts.
func (tc *TestConfig) Persistent() bool {
	return tc.Store != StoreMemory
}

// InventoryConfig builds the inventory section for a run rooted at dir.
// seedPath holds the starting catalogue in the flat text format.
func (tc *TestConfig) InventoryConfig(dir, seedPath string) (config.InventoryConfig, error) {
	cfg := config.InventoryConfig{Type: string(tc.Store)}

	switch tc.Store {
	case StoreFlatfile:
		cfg.Flatfile = map[string]any{"path": seedPath}
	case StoreMemory:
		cfg.Memory = map[string]any{"seed_path": seedPath}
	case StoreBadger:
		cfg.Badger = map[string]any{
			"db_path":   filepath.Join(dir, "inventory.db"),
			"seed_path": seedPath,
		}
	case StoreSqlite:
		cfg.Sqlite = map[string]any{
			"path":      filepath.Join(dir, "inventory.sqlite"),
			"seed_path": seedPath,
		}
	default:
		return cfg, fmt.Errorf("unknown store type: %s", tc.Store)
	}
	return cfg, nil
}

// AllConfigs returns every backend the end-to-end suite runs against.
func AllConfigs() []*TestConfig {
	return []*TestConfig{
		{Name: "flatfile", Store: StoreFlatfile},
		{Name: "memory", Store: StoreMemory},
		{Name: "badger", Store: StoreBadger},
		{Name: "sqlite", Store: StoreSqlite},
	}
}
