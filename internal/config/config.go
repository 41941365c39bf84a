// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"calpal/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the commands need.
type Config struct {
	DBPath     string
	ListenAddr string

	CredentialsPath string
	TokenPath       string
	ClientID        string
	ClientSecret    string
	CalendarID      string
	HorizonDays     int
	MaxResults      int64

	UTCOffset      string
	TimeZone       string
	SettleInterval time.Duration
	SettleAttempts int
	CallTimeout    time.Duration
	SyncTimeout    time.Duration
	SyncSchedule   string

	CORSOrigin        string
	BasicAuthUser     string
	BasicAuthPassword string

	LogLevel string
	LogFile  string
}

var bindings = []struct {
	key string
	env string
	def any
}{
	{"db_path", "DB_PATH", "calpal.db"},
	{"listen_addr", "LISTEN_ADDR", ":3000"},
	{"credentials_path", "CREDENTIALS_PATH", "credentials.json"},
	{"token_path", "TOKEN_PATH", "token.json"},
	{"google_client_id", "GOOGLE_CLIENT_ID", ""},
	{"google_client_secret", "GOOGLE_CLIENT_SECRET", ""},
	{"calendar_id", "CALENDAR_ID", "primary"},
	{"horizon_days", "HORIZON_DAYS", 7},
	{"max_results", "MAX_RESULTS", 100},
	{"event_utc_offset", "EVENT_UTC_OFFSET", "-07:00"},
	{"event_timezone", "EVENT_TIMEZONE", "America/Edmonton"},
	{"settle_interval", "SETTLE_INTERVAL", "1s"},
	{"settle_attempts", "SETTLE_ATTEMPTS", 5},
	{"call_timeout", "CALL_TIMEOUT", "10s"},
	{"sync_timeout", "SYNC_TIMEOUT", "30s"},
	{"sync_schedule", "SYNC_SCHEDULE", ""},
	{"cors_origin", "CORS_ORIGIN", "*"},
	{"basic_auth_user", "BASIC_AUTH_USER", ""},
	{"basic_auth_password", "BASIC_AUTH_PASSWORD", ""},
	{"log_level", "LOG_LEVEL", "info"},
	{"log_file", "LOG_FILE", ""},
}

// Load reads envFile into the process environment, without overriding
// variables that are already set, and resolves the configuration. A missing
// envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for _, b := range bindings {
		_ = v.BindEnv(b.key, b.env)
		v.SetDefault(b.key, b.def)
	}

	cfg := &Config{
		DBPath:            strings.TrimSpace(v.GetString("db_path")),
		ListenAddr:        strings.TrimSpace(v.GetString("listen_addr")),
		CredentialsPath:   strings.TrimSpace(v.GetString("credentials_path")),
		TokenPath:         strings.TrimSpace(v.GetString("token_path")),
		ClientID:          strings.TrimSpace(v.GetString("google_client_id")),
		ClientSecret:      strings.TrimSpace(v.GetString("google_client_secret")),
		CalendarID:        strings.TrimSpace(v.GetString("calendar_id")),
		HorizonDays:       v.GetInt("horizon_days"),
		MaxResults:        v.GetInt64("max_results"),
		UTCOffset:         strings.TrimSpace(v.GetString("event_utc_offset")),
		TimeZone:          strings.TrimSpace(v.GetString("event_timezone")),
		SettleInterval:    v.GetDuration("settle_interval"),
		SettleAttempts:    v.GetInt("settle_attempts"),
		CallTimeout:       v.GetDuration("call_timeout"),
		SyncTimeout:       v.GetDuration("sync_timeout"),
		SyncSchedule:      strings.TrimSpace(v.GetString("sync_schedule")),
		CORSOrigin:        strings.TrimSpace(v.GetString("cors_origin")),
		BasicAuthUser:     v.GetString("basic_auth_user"),
		BasicAuthPassword: v.GetString("basic_auth_password"),
		LogLevel:          strings.TrimSpace(v.GetString("log_level")),
		LogFile:           strings.TrimSpace(v.GetString("log_file")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if !models.ValidOffset(c.UTCOffset) {
		errs = append(errs, fmt.Errorf("EVENT_UTC_OFFSET %q is not of the form +HH:MM or -HH:MM", c.UTCOffset))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil || c.TimeZone == "" {
		errs = append(errs, fmt.Errorf("EVENT_TIMEZONE %q is not a known timezone", c.TimeZone))
	}
	if c.SettleAttempts <= 0 {
		errs = append(errs, fmt.Errorf("SETTLE_ATTEMPTS must be positive, got %d", c.SettleAttempts))
	}
	if c.SettleInterval <= 0 {
		errs = append(errs, fmt.Errorf("SETTLE_INTERVAL must be positive, got %s", c.SettleInterval))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CALL_TIMEOUT must be positive, got %s", c.CallTimeout))
	}
	if c.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_TIMEOUT must be positive, got %s", c.SyncTimeout))
	}
	if c.HorizonDays <= 0 {
		errs = append(errs, fmt.Errorf("HORIZON_DAYS must be positive, got %d", c.HorizonDays))
	}
	if c.MaxResults <= 0 || c.MaxResults > 2500 {
		errs = append(errs, fmt.Errorf("MAX_RESULTS must be between 1 and 2500, got %d", c.MaxResults))
	}
	if (c.BasicAuthUser == "") != (c.BasicAuthPassword == "") {
		errs = append(errs, errors.New("BASIC_AUTH_USER and BASIC_AUTH_PASSWORD must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
