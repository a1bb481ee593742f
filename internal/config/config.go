package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Notification transports.
const (
	TransportLog      = "log"
	TransportSMS      = "sms"
	TransportWhatsApp = "whatsapp"
)

// Config holds the application configuration
type Config struct {
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	HTTPAddr     string `mapstructure:"http_addr"`
	DatabasePath string `mapstructure:"database_path"`
	SiteDomain   string `mapstructure:"site_domain"`

	DefaultRegion   string `mapstructure:"default_region"`
	NotifyTransport string `mapstructure:"notify_transport"`

	AWSAccessKeyID      string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey  string `mapstructure:"aws_secret_access_key"`
	AWSRegion           string `mapstructure:"aws_region"`
	SMSPoolID           string `mapstructure:"aws_sms_pool_id"`
	SMSOriginationPhone string `mapstructure:"aws_sms_origination_number"`
	S3Bucket            string `mapstructure:"aws_storage_bucket_name"`
	S3Region            string `mapstructure:"aws_s3_region_name"`

	MediaRoot string `mapstructure:"media_root"`
	MediaURL  string `mapstructure:"media_url"`

	WhatsAppDataDir string `mapstructure:"whatsapp_data_dir"`

	WorkerConcurrency int    `mapstructure:"worker_concurrency"`
	ReminderSchedule  string `mapstructure:"reminder_schedule"`

	AllowedEventCreatorIDs []string `mapstructure:"allowed_event_creator_ids"`
}

// LoadConfig loads configuration from environment variables or defaults
func LoadConfig() *Config {
	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Debug:               getEnvBool("DEBUG", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabasePath:        getEnv("DATABASE_PATH", "data/events.db"),
		SiteDomain:          getEnv("SITE_DOMAIN", "localhost:8080"),
		DefaultRegion:       getEnv("DEFAULT_REGION", "US"),
		NotifyTransport:     getEnv("NOTIFY_TRANSPORT", ""),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		SMSPoolID:           getEnv("AWS_SMS_POOL_ID", ""),
		SMSOriginationPhone: getEnv("AWS_SMS_ORIGINATION_NUMBER", ""),
		S3Bucket:            getEnv("AWS_STORAGE_BUCKET_NAME", ""),
		S3Region:            getEnv("AWS_S3_REGION_NAME", "us-east-1"),
		MediaRoot:           getEnv("MEDIA_ROOT", "media"),
		MediaURL:            getEnv("MEDIA_URL", "/media/"),
		WhatsAppDataDir:     getEnv("WHATSAPP_DATA_DIR", "data"),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		ReminderSchedule:    getEnv("REMINDER_SCHEDULE", "*/30 * * * *"),
	}
	cfg.AllowedEventCreatorIDs = splitList(getEnv("ALLOWED_EVENT_CREATOR_IDS", ""))
	return cfg
}

// Load reads the environment and, when path is set, overlays values
// from a YAML file. The result is validated.
func Load(path string) (*Config, error) {
	cfg := LoadConfig()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if cfg.NotifyTransport == "" {
		cfg.NotifyTransport = TransportLog
		if cfg.HasAWSCredentials() {
			cfg.NotifyTransport = TransportSMS
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.NotifyTransport {
	case TransportLog, TransportWhatsApp:
	case TransportSMS:
		if !c.HasAWSCredentials() {
			return fmt.Errorf("notify transport %q requires AWS credentials", c.NotifyTransport)
		}
	default:
		return fmt.Errorf("unknown notify transport %q", c.NotifyTransport)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.WorkerConcurrency)
	}
	if _, err := cron.ParseStandard(c.ReminderSchedule); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", c.ReminderSchedule, err)
	}
	if c.IsProduction() && c.S3Bucket == "" {
		return fmt.Errorf("production environment requires AWS_STORAGE_BUCKET_NAME")
	}
	return nil
}

// HasAWSCredentials reports whether gateway credentials are configured.
func (c *Config) HasAWSCredentials() bool {
	return c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != ""
}

// IsProduction selects remote object storage for derivatives.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SMSOriginationIdentity prefers the dedicated number over the pool.
func (c *Config) SMSOriginationIdentity() string {
	if c.SMSOriginationPhone != "" {
		return c.SMSOriginationPhone
	}
	return c.SMSPoolID
}

// CanCreateEvents applies the creator allow-list. An empty list
// allows everyone.
func (c *Config) CanCreateEvents(userID string) bool {
	if len(c.AllowedEventCreatorIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedEventCreatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
