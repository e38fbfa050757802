package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Sessions  SessionConfig  `mapstructure:"sessions"`
	Log       LogConfig      `mapstructure:"log"`
	Admin     AdminConfig    `mapstructure:"admin"`
	Hooks     []HookConfig   `mapstructure:"hooks"`
	JWTSecret string         `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	BodyLimit  int    `mapstructure:"body_limit"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for the SQLite database file
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		if d.Name == ":memory:" {
			return ":memory:"
		}
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

type StorageConfig struct {
	Driver        string   `mapstructure:"driver"` // local or gcs
	LocalPath     string   `mapstructure:"local_path"`
	Bucket        string   `mapstructure:"bucket"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	MaxFileSize   int64    `mapstructure:"max_file_size"`
	MaxPixels     int      `mapstructure:"max_pixels"`
	Categories    []string `mapstructure:"categories"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"` // dev or prod
}

// AdminConfig seeds the first admin user on an empty database.
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// HookConfig is an outgoing HTTP hook fired after a record is saved.
// Header values may reference the environment as {{env.NAME}}.
type HookConfig struct {
	Name        string            `mapstructure:"name"`
	URL         string            `mapstructure:"url"`
	Method      string            `mapstructure:"method"`
	Kinds       []string          `mapstructure:"kinds"`
	Condition   string            `mapstructure:"condition"`
	Headers     map[string]string `mapstructure:"headers"`
	MaxAttempts int               `mapstructure:"max_attempts"`
}

// Load reads app.yaml from the working directory (if present) and the
// environment. Nested keys map to env vars with dots replaced by
// underscores, e.g. DATABASE_DRIVER.
func Load() (*Config, error) {
	return LoadFrom(".", "../..")
}

func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.body_limit", 32*1024*1024)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "spa_cms")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.public_base_url", "/api/files")
	v.SetDefault("storage.max_file_size", 10485760)
	v.SetDefault("storage.max_pixels", 40_000_000)
	v.SetDefault("storage.categories", []string{
		"home", "slider", "locations", "memberships", "team", "certificates",
		"packages", "popups", "treatments", "gallery",
	})
	v.SetDefault("sessions.idle_ttl", 2*time.Hour)
	v.SetDefault("sessions.sweep_interval", time.Minute)
	v.SetDefault("log.mode", "dev")
	v.SetDefault("admin.email", "admin@localhost")
	v.SetDefault("admin.password", "changeme")
	v.SetDefault("jwt_secret", "changeme-secret")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.Driver == "gcs" && cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required for the gcs driver")
	}
	return &cfg, nil
}
