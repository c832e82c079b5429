package common

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("SCANNER_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_StorageEnvOverrides(t *testing.T) {
	t.Setenv("SCANNER_STORAGE_BACKEND", "SQLite")
	t.Setenv("SCANNER_DATA_PATH", "/tmp/scan")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Backend != StorageSQLite {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, StorageSQLite)
	}
	if cfg.Storage.SQLite.Path != filepath.Join("/tmp/scan", "scanner.db") {
		t.Errorf("SQLite.Path = %q", cfg.Storage.SQLite.Path)
	}
	if cfg.Storage.Badger.Path != filepath.Join("/tmp/scan", "badger") {
		t.Errorf("Badger.Path = %q", cfg.Storage.Badger.Path)
	}
}

func TestConfig_DefaultMarkets(t *testing.T) {
	cfg := NewDefaultConfig()

	us, ok := cfg.MarketConfig(models.MarketUS)
	if !ok {
		t.Fatal("US market missing")
	}
	if us.Schedule != "0 7 * * *" {
		t.Errorf("US schedule = %q", us.Schedule)
	}
	if !us.AllowsVenue("NASDAQ") || us.AllowsVenue("OTC") {
		t.Errorf("unexpected US venue filter %v", us.Venues)
	}

	au, ok := cfg.MarketConfig(models.MarketAU)
	if !ok {
		t.Fatal("AU market missing")
	}
	if au.Schedule != "30 16 * * *" {
		t.Errorf("AU schedule = %q", au.Schedule)
	}
	if au.MinSqueezeDays != 5 {
		t.Errorf("AU MinSqueezeDays = %d, want 5", au.MinSqueezeDays)
	}
}

func TestLoadConfig_FileMergeAndClamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scanner.toml")
	content := `
[scanner]
max_concurrent = 1000
batch_size = 10
request_timeout = "5s"

[markets.au]
min_turnover = 250000.0
schedule = "0 17 * * *"

[scheduler]
catch_up_grace = "45m"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(filepath.Join(dir, "missing.toml"), path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Scanner.MaxConcurrent != 400 {
		t.Errorf("MaxConcurrent = %d, want clamp to 400", cfg.Scanner.MaxConcurrent)
	}
	if cfg.Scanner.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want clamp to 500", cfg.Scanner.BatchSize)
	}
	if cfg.Scanner.GetRequestTimeout() != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", cfg.Scanner.GetRequestTimeout())
	}
	if cfg.Markets.AU.MinTurnover != 250000 {
		t.Errorf("AU MinTurnover = %v", cfg.Markets.AU.MinTurnover)
	}
	if cfg.Markets.AU.Exchange != "AU" {
		t.Errorf("AU Exchange default lost, got %q", cfg.Markets.AU.Exchange)
	}
	if cfg.Scheduler.GetCatchUpGrace() != 45*time.Minute {
		t.Errorf("CatchUpGrace = %v", cfg.Scheduler.GetCatchUpGrace())
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[scanner\nbroken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestScannerConfig_DurationDefaults(t *testing.T) {
	c := ScannerConfig{RequestDelay: "bogus", RequestTimeout: ""}
	if c.GetRequestDelay() != 10*time.Millisecond {
		t.Errorf("GetRequestDelay = %v", c.GetRequestDelay())
	}
	if c.GetRequestTimeout() != 20*time.Second {
		t.Errorf("GetRequestTimeout = %v", c.GetRequestTimeout())
	}

	s := SchedulerConfig{}
	if s.GetPollInterval() != time.Minute || s.GetCooldown() != 2*time.Minute {
		t.Errorf("scheduler defaults = %v/%v", s.GetPollInterval(), s.GetCooldown())
	}
	if s.GetLocation().String() != DefaultTimezone {
		t.Errorf("GetLocation = %s, want %s", s.GetLocation(), DefaultTimezone)
	}
}

type kvStub map[string]string

func (k kvStub) GetSystemKV(_ context.Context, key string) (string, error) {
	if v, ok := k[key]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func (k kvStub) SetSystemKV(_ context.Context, key, value string) error {
	k[key] = value
	return nil
}

func TestResolveAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("EODHD_API_KEY", "from-env")
		got, err := ResolveAPIKey(ctx, kvStub{"eodhd_api_key": "from-store"}, "eodhd_api_key", "fallback")
		if err != nil || got != "from-env" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("store before fallback", func(t *testing.T) {
		t.Setenv("EODHD_API_KEY", "")
		t.Setenv("SCANNER_EODHD_API_KEY", "")
		got, err := ResolveAPIKey(ctx, kvStub{"eodhd_api_key": "from-store"}, "eodhd_api_key", "fallback")
		if err != nil || got != "from-store" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		t.Setenv("EODHD_API_KEY", "")
		t.Setenv("SCANNER_EODHD_API_KEY", "")
		got, err := ResolveAPIKey(ctx, nil, "eodhd_api_key", "fallback")
		if err != nil || got != "fallback" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("EODHD_API_KEY", "")
		t.Setenv("SCANNER_EODHD_API_KEY", "")
		if _, err := ResolveAPIKey(ctx, kvStub{}, "eodhd_api_key", ""); err == nil {
			t.Error("expected error")
		}
	})
}
