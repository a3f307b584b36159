package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Duplicate intake policies.
const (
	DuplicatePolicyIdempotent = "idempotent"
	DuplicatePolicyReject     = "reject"
)

// ClinicIdentity is the clinic information rendered into every message.
type ClinicIdentity struct {
	Name     string
	Email    string
	Phone    string
	Address  string
	Website  string
	Timezone string
}

// ModelSelection picks the language-model backend.
type ModelSelection struct {
	Provider         string // local, bedrock, gemini
	FallbackProvider string
	UseLocal         bool
	LocalEndpoint    string
	ModelName        string
	APIKey           string
	BedrockModelID   string
	GeminiAPIKey     string
}

// Config holds application configuration
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	Clinic ClinicIdentity
	Model  ModelSelection

	ReminderHoursBefore   int
	ReminderSchedule      string
	FollowUpSchedule      string
	WeeklyReportSchedule  string
	SchedulerEnabled      bool
	ModelTimeout          time.Duration
	IOTimeout             time.Duration
	WebhookBudget         time.Duration
	MaxPipelineRetries    int
	RetryBaseDelay        time.Duration
	DuplicateIntakePolicy string

	StaffEmails []string
	AdminEmail  string

	// Store backend: memory, sheets, postgres
	StoreBackend          string
	GoogleCredentialsFile string
	GoogleSheetID         string
	GoogleCalendarID      string
	DatabaseURL           string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Email transport: sendgrid, ses, stub
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SlackWebhookURL   string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ReportArchiveBucket string

	AdminJWTSecret     string
	WebhookSecret      string
	CalendlyAPIToken   string
	CORSAllowedOrigins []string

	// Per-client webhook rate limit; zero disables it.
	WebhookRatePerMinute int
	WebhookBurst         int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Clinic: ClinicIdentity{
			Name:     getEnv("CLINIC_NAME", "Clinic"),
			Email:    getEnv("CLINIC_EMAIL", ""),
			Phone:    getEnv("CLINIC_PHONE", ""),
			Address:  getEnv("CLINIC_ADDRESS", ""),
			Website:  getEnv("CLINIC_WEBSITE", ""),
			Timezone: getEnv("CLINIC_TIMEZONE", "America/New_York"),
		},
		Model: ModelSelection{
			Provider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "local"))),
			FallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
			UseLocal:         getEnvAsBool("LLM_USE_LOCAL", false),
			LocalEndpoint:    getEnv("LLM_LOCAL_ENDPOINT", "http://localhost:11434"),
			ModelName:        getEnv("LLM_MODEL", "llama3.1"),
			APIKey:           getEnv("LLM_API_KEY", ""),
			BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		},

		ReminderHoursBefore:   getEnvAsInt("REMINDER_HOURS_BEFORE", 48),
		ReminderSchedule:      getEnv("REMINDER_SCHEDULE", "@hourly"),
		FollowUpSchedule:      getEnv("FOLLOW_UP_SCHEDULE", "@hourly"),
		WeeklyReportSchedule:  getEnv("WEEKLY_REPORT_SCHEDULE", "0 8 * * MON"),
		SchedulerEnabled:      getEnvAsBool("SCHEDULER_ENABLED", true),
		ModelTimeout:          time.Duration(getEnvAsInt("MODEL_TIMEOUT_MS", 30000)) * time.Millisecond,
		IOTimeout:             getEnvAsDuration("IO_TIMEOUT", 15*time.Second),
		WebhookBudget:         getEnvAsDuration("WEBHOOK_BUDGET", 60*time.Second),
		MaxPipelineRetries:    getEnvAsInt("MAX_PIPELINE_RETRIES", 3),
		RetryBaseDelay:        getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
		DuplicateIntakePolicy: strings.ToLower(getEnv("DUPLICATE_INTAKE_POLICY", DuplicatePolicyIdempotent)),

		StaffEmails: getEnvAsList("STAFF_EMAILS"),
		AdminEmail:  getEnv("ADMIN_EMAIL", ""),

		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleSheetID:         getEnv("GOOGLE_SHEET_ID", ""),
		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EmailProvider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SlackWebhookURL:   getEnv("SLACK_WEBHOOK_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReportArchiveBucket: getEnv("REPORT_ARCHIVE_BUCKET", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		CalendlyAPIToken:   getEnv("CALENDLY_API_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		WebhookRatePerMinute: getEnvAsInt("WEBHOOK_RATE_PER_MINUTE", 120),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 20),
	}
}

// Validate checks configuration for values that would break startup.
func (c *Config) Validate() error {
	var errs []error

	if c.ReminderHoursBefore <= 0 {
		errs = append(errs, fmt.Errorf("invalid REMINDER_HOURS_BEFORE %d (must be > 0)", c.ReminderHoursBefore))
	}
	if c.MaxPipelineRetries <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PIPELINE_RETRIES %d (must be > 0)", c.MaxPipelineRetries))
	}
	if c.ModelTimeout <= 0 {
		errs = append(errs, errors.New("MODEL_TIMEOUT_MS must be > 0"))
	}
	if c.DuplicateIntakePolicy != DuplicatePolicyIdempotent && c.DuplicateIntakePolicy != DuplicatePolicyReject {
		errs = append(errs, fmt.Errorf("invalid DUPLICATE_INTAKE_POLICY %q (idempotent|reject)", c.DuplicateIntakePolicy))
	}
	if _, err := time.LoadLocation(c.Clinic.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", c.Clinic.Timezone, err))
	}

	switch c.StoreBackend {
	case "memory":
	case "sheets":
		if c.GoogleSheetID == "" {
			errs = append(errs, errors.New("GOOGLE_SHEET_ID is required for STORE_BACKEND=sheets"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q (memory|sheets|postgres)", c.StoreBackend))
	}

	switch c.EmailProvider {
	case "stub", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for EMAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid EMAIL_PROVIDER %q (sendgrid|ses|stub)", c.EmailProvider))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Location returns the clinic timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Clinic.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
