package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/academic360/notification-worker/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL and DEVELOPER_EMAIL are required.
type Config struct {
	Mode           domain.RoutingMode
	DeveloperEmail string
	LogLevel       string

	// Ops HTTP server (health, metrics, failure report)
	HTTPPort        string
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int
	DBMinConns    int
	RunMigrations bool
	MigrationsDir string

	// Poll loop
	PollInterval      time.Duration
	BatchSize         int
	RateDelay         time.Duration
	MaxRetries        int
	SendTimeout       time.Duration
	StagingStaffLimit int

	// Mail transport: "smtp" or "http"
	MailTransport   string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	MailFromAddress string
	MailFromName    string
	MailAPIURL      string
	MailAPIToken    string

	// Rendering
	TemplateDir     string
	DefaultSubjects map[string]string

	// Delivery events; empty URI disables publishing
	AMQPURI      string
	AMQPExchange string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	devEmail := os.Getenv("DEVELOPER_EMAIL")
	if devEmail == "" {
		return nil, fmt.Errorf("DEVELOPER_EMAIL is required")
	}

	mode, err := domain.ParseRoutingMode(getEnv("APP_ENV", string(domain.ModeDevelopment)))
	if err != nil {
		return nil, fmt.Errorf("APP_ENV: %w", err)
	}

	subjects, err := parseSubjects(os.Getenv("EMAIL_DEFAULT_SUBJECTS"))
	if err != nil {
		return nil, fmt.Errorf("EMAIL_DEFAULT_SUBJECTS: %w", err)
	}

	cfg := &Config{
		Mode:           mode,
		DeveloperEmail: devEmail,
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   dbURL,
		DBMaxConns:    getInt("DB_MAX_CONNS", 10),
		DBMinConns:    getInt("DB_MIN_CONNS", 2),
		RunMigrations: getBool("RUN_MIGRATIONS", false),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		PollInterval:      getMillis("EMAIL_POLL_MS", 3000),
		BatchSize:         getInt("EMAIL_BATCH_SIZE", 50),
		RateDelay:         getMillis("EMAIL_RATE_DELAY_MS", 250),
		MaxRetries:        getInt("EMAIL_MAX_RETRIES", 5),
		SendTimeout:       getDuration("SEND_TIMEOUT", 30*time.Second),
		StagingStaffLimit: getInt("STAGING_STAFF_LIMIT", 500),

		MailTransport:   strings.ToLower(getEnv("MAIL_TRANSPORT", "smtp")),
		SMTPHost:        getEnv("SMTP_HOST", "localhost"),
		SMTPPort:        getInt("SMTP_PORT", 587),
		SMTPUser:        os.Getenv("SMTP_USER"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		MailFromAddress: getEnv("MAIL_FROM_ADDRESS", "noreply@academic360.app"),
		MailFromName:    getEnv("MAIL_FROM_NAME", "The Bhawanipur Education Society College - Important Notification"),
		MailAPIURL:      getEnv("MAIL_API_URL", "https://api.zeptomail.in/v1.1/email"),
		MailAPIToken:    os.Getenv("MAIL_API_TOKEN"),

		TemplateDir:     getEnv("TEMPLATE_DIR", "templates"),
		DefaultSubjects: subjects,

		AMQPURI:      os.Getenv("AMQP_URI"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "notifications"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the poll loop cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("EMAIL_BATCH_SIZE must be positive")
	case c.MaxRetries <= 0:
		return errors.New("EMAIL_MAX_RETRIES must be positive")
	case c.PollInterval <= 0:
		return errors.New("EMAIL_POLL_MS must be positive")
	case c.RateDelay < 0:
		return errors.New("EMAIL_RATE_DELAY_MS must not be negative")
	case c.MailTransport != "smtp" && c.MailTransport != "http":
		return fmt.Errorf("MAIL_TRANSPORT %q: must be smtp or http", c.MailTransport)
	}
	return nil
}

// ContentDefaults returns the defaults applied while parsing notification content.
func (c *Config) ContentDefaults() domain.ContentDefaults {
	return domain.ContentDefaults{FromName: c.MailFromName, Subjects: c.DefaultSubjects}
}

// parseSubjects reads "otp=Your OTP Code;welcome=Welcome aboard".
func parseSubjects(v string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(v, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, subject, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid entry %q", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(subject)
	}
	return out, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getMillis reads an integer millisecond count, the unit the queue producers use.
func getMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getInt(key, defaultMs)) * time.Millisecond
}
