package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/periop/periop/internal/platform/db"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	AuthMode           string        `mapstructure:"AUTH_MODE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultFacility    string        `mapstructure:"DEFAULT_FACILITY"`
	Facilities         []string      `mapstructure:"FACILITIES"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	Timezone           string        `mapstructure:"TIMEZONE"`
	ShiftMorning       string        `mapstructure:"SHIFT_MORNING_START"`
	ShiftAfternoon     string        `mapstructure:"SHIFT_AFTERNOON_START"`
	ShiftNight         string        `mapstructure:"SHIFT_NIGHT_START"`
	RefreshInterval    time.Duration `mapstructure:"REFRESH_INTERVAL"`
	ArchiveInterval    time.Duration `mapstructure:"ARCHIVE_INTERVAL"`
	ArchiveDriver      string        `mapstructure:"ARCHIVE_DRIVER"`
	ArchiveSQLitePath  string        `mapstructure:"ARCHIVE_SQLITE_PATH"`
	ArchiveS3Bucket    string        `mapstructure:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region    string        `mapstructure:"ARCHIVE_S3_REGION"`
	ArchiveS3Endpoint  string        `mapstructure:"ARCHIVE_S3_ENDPOINT"`
	ArchiveS3PathStyle bool          `mapstructure:"ARCHIVE_S3_PATH_STYLE"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	MQTTBrokerURL      string        `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID       string        `mapstructure:"MQTT_CLIENT_ID"`
	StaffDirectoryURL  string        `mapstructure:"STAFF_DIRECTORY_URL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_FACILITY", "FACILITIES", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "TIMEZONE",
	"SHIFT_MORNING_START", "SHIFT_AFTERNOON_START", "SHIFT_NIGHT_START",
	"REFRESH_INTERVAL", "ARCHIVE_INTERVAL", "ARCHIVE_DRIVER", "ARCHIVE_SQLITE_PATH",
	"ARCHIVE_S3_BUCKET", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT", "ARCHIVE_S3_PATH_STYLE",
	"REDIS_URL", "MQTT_BROKER_URL", "MQTT_CLIENT_ID", "STAFF_DIRECTORY_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_FACILITY", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("SHIFT_MORNING_START", "07:00")
	v.SetDefault("SHIFT_AFTERNOON_START", "15:00")
	v.SetDefault("SHIFT_NIGHT_START", "23:00")
	v.SetDefault("REFRESH_INTERVAL", "60s")
	v.SetDefault("ARCHIVE_INTERVAL", "6h")
	v.SetDefault("ARCHIVE_DRIVER", "memory")
	v.SetDefault("ARCHIVE_SQLITE_PATH", "periop-archive.db")
	v.SetDefault("MQTT_CLIENT_ID", "periop-server")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	cfg.Facilities = splitList(cfg.Facilities)
	if len(cfg.Facilities) == 0 {
		cfg.Facilities = []string{cfg.DefaultFacility}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode: every request is treated as admin, do not use in production")
	}

	return cfg, nil
}

// splitList accepts both a real list and a single comma separated value, as
// set through the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Location loads the facility time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ShiftStarts parses the three shift start times as offsets from midnight.
func (c *Config) ShiftStarts() (morning, afternoon, night time.Duration, err error) {
	if morning, err = parseClock(c.ShiftMorning); err != nil {
		return 0, 0, 0, fmt.Errorf("SHIFT_MORNING_START: %w", err)
	}
	if afternoon, err = parseClock(c.ShiftAfternoon); err != nil {
		return 0, 0, 0, fmt.Errorf("SHIFT_AFTERNOON_START: %w", err)
	}
	if night, err = parseClock(c.ShiftNight); err != nil {
		return 0, 0, 0, fmt.Errorf("SHIFT_NIGHT_START: %w", err)
	}
	return morning, afternoon, night, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case "jwt":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	morning, afternoon, night, err := c.ShiftStarts()
	if err != nil {
		return err
	}
	if !(morning < afternoon && afternoon < night) {
		return fmt.Errorf("shift starts must be ordered morning < afternoon < night, got %s, %s, %s",
			c.ShiftMorning, c.ShiftAfternoon, c.ShiftNight)
	}

	if c.RefreshInterval < 30*time.Second || c.RefreshInterval > 90*time.Second {
		return fmt.Errorf("REFRESH_INTERVAL must be between 30s and 90s, got %s", c.RefreshInterval)
	}
	if c.ArchiveInterval <= 0 {
		return fmt.Errorf("ARCHIVE_INTERVAL must be positive, got %s", c.ArchiveInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	for _, f := range c.Facilities {
		if !db.ValidFacilityID(f) {
			return fmt.Errorf("FACILITIES: invalid facility identifier %q", f)
		}
	}

	switch c.ArchiveDriver {
	case "memory":
	case "sqlite":
		if c.ArchiveSQLitePath == "" {
			return fmt.Errorf("ARCHIVE_SQLITE_PATH is required when ARCHIVE_DRIVER is \"sqlite\"")
		}
	case "s3":
		if c.ArchiveS3Bucket == "" {
			return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_DRIVER is \"s3\"")
		}
		if c.ArchiveS3Region == "" {
			return fmt.Errorf("ARCHIVE_S3_REGION is required when ARCHIVE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("ARCHIVE_DRIVER must be \"memory\", \"sqlite\" or \"s3\", got %q", c.ArchiveDriver)
	}

	return nil
}
