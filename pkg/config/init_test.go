package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	for _, section := range []string{
		"# DittoLoan Configuration File",
		"logging:",
		"server:",
		"channel:",
		"queue:",
		"loan:",
		"inventory:",
	} {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// The generated file must load back into an equivalent configuration.
	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	want := GetDefaultConfig()
	if cfg.Channel != want.Channel {
		t.Errorf("Channel section changed on round trip: %+v vs %+v", cfg.Channel, want.Channel)
	}
	if cfg.Server != want.Server {
		t.Errorf("Server section changed on round trip: %+v vs %+v", cfg.Server, want.Server)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("# mine\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	err := InitConfigAt(path, false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected 'already exists' error, got: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "# mine\n" {
		t.Error("Existing config was modified without force")
	}

	if err := InitConfigAt(path, true); err != nil {
		t.Fatalf("InitConfigAt with force failed: %v", err)
	}
	content, _ = os.ReadFile(path)
	if !strings.HasPrefix(string(content), "# DittoLoan Configuration File") {
		t.Error("Expected config to be overwritten with force")
	}
}
