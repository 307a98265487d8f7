package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./swcache.db" {
			t.Errorf("expected database path ./swcache.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 3080 {
			t.Errorf("expected server port 3080, got %d", config.Server.Port)
		}
		if config.Proxy.Origin != "http://localhost:3000" {
			t.Errorf("expected proxy origin http://localhost:3000, got %s", config.Proxy.Origin)
		}
		if config.Cache.Backend != BackendMemory {
			t.Errorf("expected memory backend, got %s", config.Cache.Backend)
		}
		if config.Cache.RevalidateRate != 0 {
			t.Errorf("expected unthrottled revalidation by default, got rate %v", config.Cache.RevalidateRate)
		}
		if config.Cache.SweepInterval() != 5*time.Minute {
			t.Errorf("expected 5m sweep interval, got %v", config.Cache.SweepInterval())
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[server]
host = "0.0.0.0"
port = 8080

[proxy]
origin = "https://wrapped.example.com"

[cache]
backend = "sqlite"
revalidate_rate = 2.5
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}
		if config.OriginURL().Host != "wrapped.example.com" {
			t.Errorf("expected origin host wrapped.example.com, got %s", config.OriginURL().Host)
		}
		if config.Cache.Backend != BackendSQLite {
			t.Errorf("expected sqlite backend, got %s", config.Cache.Backend)
		}
		if config.Cache.RevalidateRate != 2.5 {
			t.Errorf("expected revalidate rate 2.5, got %v", config.Cache.RevalidateRate)
		}
		if config.Database.Path != "./swcache.db" {
			t.Errorf("expected missing keys to keep defaults, got database path %s", config.Database.Path)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tt := []struct {
			name    string
			mutate  func(*Config)
			wantErr error
		}{
			{name: "relative origin", mutate: func(c *Config) { c.Proxy.Origin = "/app" }, wantErr: ErrInvalidConfig},
			{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: ErrUnsupportedBackend},
			{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: ErrInvalidConfig},
			{name: "negative rate", mutate: func(c *Config) { c.Cache.RevalidateRate = -1 }, wantErr: ErrInvalidConfig},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)

				if err := config.Validate(); !errors.Is(err, tc.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tc.wantErr)
				}
			})
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
