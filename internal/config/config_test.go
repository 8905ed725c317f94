package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	v.Set("DB_DSN", "file:test.db")
	v.Set("SESSION_SECRET", "secret")

	cfg := FromViper(v)
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected default driver postgres, got %q", cfg.DBDriver)
	}
	if cfg.Storage.Driver != "local" {
		t.Fatalf("expected local storage, got %q", cfg.Storage.Driver)
	}
	if cfg.MaxUploadBytes() != 10*1024*1024 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	v := viper.New()
	v.Set("DB_DSN", "file:test.db")

	if err := FromViper(v).Validate(); err == nil {
		t.Fatalf("expected error without SESSION_SECRET")
	}
}

func TestValidateS3NeedsBucket(t *testing.T) {
	v := viper.New()
	v.Set("DB_DSN", "file:test.db")
	v.Set("SESSION_SECRET", "secret")
	v.Set("STORAGE_DRIVER", "S3")

	if err := FromViper(v).Validate(); err == nil {
		t.Fatalf("expected error without S3_BUCKET")
	}
}
