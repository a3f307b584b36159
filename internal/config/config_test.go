package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("REMINDER_HOURS_BEFORE", "")
	t.Setenv("MODEL_TIMEOUT_MS", "")
	t.Setenv("MAX_PIPELINE_RETRIES", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DUPLICATE_INTAKE_POLICY", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ReminderHoursBefore != 48 {
		t.Fatalf("expected default reminder window 48, got %d", cfg.ReminderHoursBefore)
	}
	if cfg.ModelTimeout != 30*time.Second {
		t.Fatalf("expected default model timeout 30s, got %s", cfg.ModelTimeout)
	}
	if cfg.MaxPipelineRetries != 3 {
		t.Fatalf("expected default retries 3, got %d", cfg.MaxPipelineRetries)
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("expected memory store by default, got %s", cfg.StoreBackend)
	}
	if cfg.DuplicateIntakePolicy != DuplicatePolicyIdempotent {
		t.Fatalf("expected idempotent duplicate policy, got %s", cfg.DuplicateIntakePolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REMINDER_HOURS_BEFORE", "24")
	t.Setenv("MODEL_TIMEOUT_MS", "5000")
	t.Setenv("WEBHOOK_BUDGET", "45s")
	t.Setenv("STAFF_EMAILS", "a@clinic.test, b@clinic.test ,")
	t.Setenv("CLINIC_NAME", "Riverside Family Clinic")
	t.Setenv("CLINIC_TIMEZONE", "America/Chicago")
	t.Setenv("LLM_PROVIDER", " Bedrock ")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.ReminderHoursBefore != 24 {
		t.Fatalf("expected reminder override, got %d", cfg.ReminderHoursBefore)
	}
	if cfg.ModelTimeout != 5*time.Second {
		t.Fatalf("expected model timeout override, got %s", cfg.ModelTimeout)
	}
	if cfg.WebhookBudget != 45*time.Second {
		t.Fatalf("expected webhook budget override, got %s", cfg.WebhookBudget)
	}
	if len(cfg.StaffEmails) != 2 || cfg.StaffEmails[1] != "b@clinic.test" {
		t.Fatalf("expected two staff emails, got %v", cfg.StaffEmails)
	}
	if cfg.Clinic.Name != "Riverside Family Clinic" {
		t.Fatalf("expected clinic name override, got %s", cfg.Clinic.Name)
	}
	if cfg.Model.Provider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.Model.Provider)
	}
	if cfg.Location().String() != "America/Chicago" {
		t.Fatalf("expected clinic location, got %s", cfg.Location())
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		ReminderHoursBefore:   0,
		MaxPipelineRetries:    3,
		ModelTimeout:          time.Second,
		DuplicateIntakePolicy: "sometimes",
		Clinic:                ClinicIdentity{Timezone: "UTC"},
		StoreBackend:          "sheets",
		EmailProvider:         "sendgrid",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"REMINDER_HOURS_BEFORE", "DUPLICATE_INTAKE_POLICY", "GOOGLE_SHEET_ID", "SENDGRID_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
