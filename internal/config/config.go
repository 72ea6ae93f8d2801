package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Facebook FacebookConfig `mapstructure:"facebook"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cron     CronConfig     `mapstructure:"cron"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
// SQLite uses Path as a file name; PostgreSQL uses URL as-is.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type FacebookConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	GraphVersion string        `mapstructure:"graph_version"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxPages     int           `mapstructure:"max_pages"`
	PageSize     int           `mapstructure:"page_size"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

type SyncConfig struct {
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// StaleFactor is how many intervals a config may stay in "syncing" before it is reclaimed.
	StaleFactor     int    `mapstructure:"stale_factor"`
	DefaultInterval int    `mapstructure:"default_interval"`
	Schedule        string `mapstructure:"schedule"`
	ArchiveRaw      bool   `mapstructure:"archive_raw"`
}

type CronConfig struct {
	Secret string `mapstructure:"secret"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type AuthConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	AllowFallback bool          `mapstructure:"allow_fallback"`
	CookieName    string        `mapstructure:"cookie_name"`
	SecureCookie  bool          `mapstructure:"secure_cookie"`
	// Demo account seeded into the in-memory store in debug mode.
	DemoEmail    string `mapstructure:"demo_email"`
	DemoPassword string `mapstructure:"demo_password"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	File        string `mapstructure:"file"`
	ServiceName string `mapstructure:"service_name"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and platform-provided settings
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("facebook.graph_version", "FACEBOOK_GRAPH_VERSION")
	v.BindEnv("cron.secret", "CRON_SECRET")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("auth.demo_password", "DEMO_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/leadsync.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("facebook.base_url", "https://graph.facebook.com")
	v.SetDefault("facebook.graph_version", "v18.0")
	v.SetDefault("facebook.timeout", "15s")
	v.SetDefault("facebook.max_pages", 50)
	v.SetDefault("facebook.page_size", 100)
	v.SetDefault("facebook.rate_limit", 5.0)
	v.SetDefault("facebook.rate_burst", 5)

	v.SetDefault("sync.batch_timeout", "10m")
	v.SetDefault("sync.stale_factor", 3)
	v.SetDefault("sync.default_interval", 30)
	v.SetDefault("sync.schedule", "0 */5 * * * *")
	v.SetDefault("sync.archive_raw", true)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "leadsync-raw")
	v.SetDefault("storage.prefix", "graph")

	v.SetDefault("auth.session_ttl", "168h")
	v.SetDefault("auth.allow_fallback", false)
	v.SetDefault("auth.cookie_name", "session")
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("auth.demo_email", "demo@leadsync.local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service_name", "leadsync")
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for postgres")
	}
	if c.Sync.DefaultInterval < 15 || c.Sync.DefaultInterval > 1440 {
		return fmt.Errorf("sync.default_interval must be between 15 and 1440, got %d", c.Sync.DefaultInterval)
	}
	if c.Sync.StaleFactor < 1 {
		return fmt.Errorf("sync.stale_factor must be at least 1")
	}
	if c.Facebook.Timeout <= 0 {
		return fmt.Errorf("facebook.timeout must be positive")
	}
	return nil
}
