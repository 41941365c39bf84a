package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every bound variable; viper treats empty values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, b := range bindings {
		t.Setenv(b.env, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DBPath != "calpal.db" || cfg.ListenAddr != ":3000" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.CalendarID != "primary" || cfg.HorizonDays != 7 || cfg.MaxResults != 100 {
		t.Fatalf("unexpected calendar settings: %+v", cfg)
	}
	if cfg.UTCOffset != "-07:00" || cfg.TimeZone != "America/Edmonton" {
		t.Fatalf("unexpected zone settings: %q %q", cfg.UTCOffset, cfg.TimeZone)
	}
	if cfg.SettleInterval != time.Second || cfg.SettleAttempts != 5 {
		t.Fatalf("unexpected settle settings: %v %d", cfg.SettleInterval, cfg.SettleAttempts)
	}
	if cfg.CallTimeout != 10*time.Second || cfg.SyncTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.CallTimeout, cfg.SyncTimeout)
	}
	if cfg.CORSOrigin != "*" || cfg.SyncSchedule != "" {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("CALENDAR_ID")
	os.Unsetenv("SETTLE_ATTEMPTS")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "CALENDAR_ID=team@group.calendar.google.com\nSETTLE_ATTEMPTS=9\nEVENT_UTC_OFFSET=+05:30\nEVENT_TIMEZONE=Asia/Kolkata\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("EVENT_UTC_OFFSET", "+01:00")
	t.Setenv("EVENT_TIMEZONE", "Europe/Paris")
	t.Cleanup(func() {
		os.Unsetenv("CALENDAR_ID")
		os.Unsetenv("SETTLE_ATTEMPTS")
	})

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.CalendarID != "team@group.calendar.google.com" {
		t.Fatalf("calendar id mismatch: %q", cfg.CalendarID)
	}
	if cfg.SettleAttempts != 9 {
		t.Fatalf("settle attempts mismatch: %d", cfg.SettleAttempts)
	}
	if cfg.UTCOffset != "+01:00" || cfg.TimeZone != "Europe/Paris" {
		t.Fatalf("environment should win over env file: %q %q", cfg.UTCOffset, cfg.TimeZone)
	}
}

func TestLoad_Durations(t *testing.T) {
	clearEnv(t)
	t.Setenv("SETTLE_INTERVAL", "250ms")
	t.Setenv("SYNC_TIMEOUT", "2m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SettleInterval != 250*time.Millisecond || cfg.SyncTimeout != 2*time.Minute {
		t.Fatalf("durations mismatch: %v %v", cfg.SettleInterval, cfg.SyncTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DBPath:         "calpal.db",
			UTCOffset:      "-07:00",
			TimeZone:       "America/Edmonton",
			SettleInterval: time.Second,
			SettleAttempts: 5,
			CallTimeout:    10 * time.Second,
			SyncTimeout:    30 * time.Second,
			HorizonDays:    7,
			MaxResults:     100,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad offset", mutate: func(c *Config) { c.UTCOffset = "-7" }, wantErr: "EVENT_UTC_OFFSET"},
		{name: "Z offset", mutate: func(c *Config) { c.UTCOffset = "Z" }, wantErr: "EVENT_UTC_OFFSET"},
		{name: "unknown zone", mutate: func(c *Config) { c.TimeZone = "Mars/Olympus" }, wantErr: "EVENT_TIMEZONE"},
		{name: "empty zone", mutate: func(c *Config) { c.TimeZone = "" }, wantErr: "EVENT_TIMEZONE"},
		{name: "zero attempts", mutate: func(c *Config) { c.SettleAttempts = 0 }, wantErr: "SETTLE_ATTEMPTS"},
		{name: "negative interval", mutate: func(c *Config) { c.SettleInterval = -time.Second }, wantErr: "SETTLE_INTERVAL"},
		{name: "too many results", mutate: func(c *Config) { c.MaxResults = 5000 }, wantErr: "MAX_RESULTS"},
		{name: "half basic auth", mutate: func(c *Config) { c.BasicAuthUser = "admin" }, wantErr: "BASIC_AUTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
