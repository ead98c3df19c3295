package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `app:
  name: "TestApp"
  version: "1.0"
markets:
  hk:
    enabled: true
    underlyings: ["HK.00700", "HK.800000"]
`
	f, err := os.CreateTemp("", "cfg-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Gateway.Port != 11111 {
		t.Errorf("unexpected gateway port default: %d", cfg.Gateway.Port)
	}
	if cfg.Scheduler.MinAPIInterval != 5*time.Second {
		t.Errorf("unexpected min api interval default: %v", cfg.Scheduler.MinAPIInterval)
	}
	if cfg.Markets.HK.TradingHours.Timezone != "Asia/Hong_Kong" {
		t.Errorf("unexpected HK timezone default: %s", cfg.Markets.HK.TradingHours.Timezone)
	}
	if cfg.Filters.HKDefault.MinVolumeDelta != 10 {
		t.Errorf("unexpected hk_default min_volume_delta: %d", cfg.Filters.HKDefault.MinVolumeDelta)
	}
}

func TestLoadConfigNoEnabledMarket(t *testing.T) {
	content := `app:
  name: "TestApp"
  version: "1.0"
`
	f, err := os.CreateTemp("", "cfg-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error when no market is enabled")
	}
}

func TestLoadConfigMissingUnderlyings(t *testing.T) {
	content := `app:
  name: "TestApp"
  version: "1.0"
markets:
  us:
    enabled: true
`
	f, err := os.CreateTemp("", "cfg-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for enabled market without underlyings")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("OPTIONFLOW_GATEWAY_HOST", "192.168.1.20")
	t.Setenv("OPTIONFLOW_GATEWAY_PORT", "22222")
	t.Setenv("OPTIONFLOW_POSTGRES_DSN", "host=db port=5432")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gateway.Host != "192.168.1.20" {
		t.Errorf("gateway host override not applied: %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 22222 {
		t.Errorf("gateway port override not applied: %d", cfg.Gateway.Port)
	}
	if cfg.Storage.Postgres.ConnString() != "host=db port=5432" {
		t.Errorf("postgres dsn override not applied: %s", cfg.Storage.Postgres.ConnString())
	}
}

func TestEnabledMarketsOrder(t *testing.T) {
	cfg := defaultConfig()
	cfg.Markets.HK.Enabled = true
	cfg.Markets.US.Enabled = true

	got := cfg.EnabledMarkets()
	if len(got) != 2 || got[0] != MarketNameHK || got[1] != MarketNameUS {
		t.Errorf("unexpected market order: %v", got)
	}
}

func TestConnStringFromParts(t *testing.T) {
	p := PostgresConfig{
		Host:    "127.0.0.1",
		Port:    5432,
		User:    "flow",
		DBName:  "flowdb",
		SSLMode: "disable",
	}
	want := "host=127.0.0.1 user=flow password= dbname=flowdb port=5432 sslmode=disable"
	if got := p.ConnString(); got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
