package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AvailabilityTTL != 10*time.Minute {
		t.Errorf("expected default availability TTL 10m, got %s", cfg.AvailabilityTTL)
	}
	if cfg.AvailabilityDailyCap != 3 {
		t.Errorf("expected default daily cap 3, got %d", cfg.AvailabilityDailyCap)
	}
	if cfg.FailureWindow != time.Hour {
		t.Errorf("expected default failure window 1h, got %s", cfg.FailureWindow)
	}
	if cfg.FailureAlertThreshold != 3 {
		t.Errorf("expected default alert threshold 3, got %d", cfg.FailureAlertThreshold)
	}
	if cfg.EmailProvider != "sendgrid" {
		t.Errorf("expected default email provider sendgrid, got %s", cfg.EmailProvider)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("AVAILABILITY_TTL", "30s")
	t.Setenv("AVAILABILITY_DAILY_CAP", "5")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://theramatch.com, https://admin.theramatch.com")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if cfg.AvailabilityTTL != 30*time.Second {
		t.Errorf("expected TTL 30s, got %s", cfg.AvailabilityTTL)
	}
	if cfg.AvailabilityDailyCap != 5 {
		t.Errorf("expected cap 5, got %d", cfg.AvailabilityDailyCap)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("AVAILABILITY_DAILY_CAP", "not-a-number")
	t.Setenv("AVAILABILITY_TTL", "not-a-duration")

	cfg := Load()

	if cfg.AvailabilityDailyCap != 3 {
		t.Errorf("expected fallback cap 3, got %d", cfg.AvailabilityDailyCap)
	}
	if cfg.AvailabilityTTL != 10*time.Minute {
		t.Errorf("expected fallback TTL 10m, got %s", cfg.AvailabilityTTL)
	}
}
