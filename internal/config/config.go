package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBDriver      string
	DBDSN         string
	ServerPort    string
	SessionSecret string
	RunMode       string

	UploadDir    string
	MaxUploadMB  int
	LogDir       string
	LogLevel     string
	SentryDSN    string
	LoginPerMin  int
	AdminUser    string
	AdminPass    string
	SecureCookie bool

	Storage StorageConfig
}

type StorageConfig struct {
	Driver          string
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

func defaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("RUN_MODE", "debug")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_MB", 10)
	v.SetDefault("LOG_DIR", "./logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "Admin123!")
	v.SetDefault("STORAGE_DRIVER", "local")
	v.SetDefault("S3_REGION", "auto")
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	defaults(v)
	return &Config{
		DBDriver:      strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:         v.GetString("DB_DSN"),
		ServerPort:    v.GetString("SERVER_PORT"),
		SessionSecret: v.GetString("SESSION_SECRET"),
		RunMode:       v.GetString("RUN_MODE"),
		UploadDir:     v.GetString("UPLOAD_DIR"),
		MaxUploadMB:   v.GetInt("MAX_UPLOAD_MB"),
		LogDir:        v.GetString("LOG_DIR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		SentryDSN:     v.GetString("SENTRY_DSN"),
		LoginPerMin:   v.GetInt("LOGIN_RATE_PER_MINUTE"),
		AdminUser:     v.GetString("ADMIN_USERNAME"),
		AdminPass:     v.GetString("ADMIN_PASSWORD"),
		SecureCookie:  v.GetBool("SECURE_COOKIE"),
		Storage: StorageConfig{
			Driver:          strings.ToLower(v.GetString("STORAGE_DRIVER")),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Region:          v.GetString("S3_REGION"),
			Bucket:          v.GetString("S3_BUCKET"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			PublicURL:       v.GetString("S3_PUBLIC_URL"),
		},
	}
}

func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is not set")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is not set")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// MaxUploadBytes is the per-file upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	return cfg
}
