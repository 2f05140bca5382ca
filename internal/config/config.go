package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Port                 string
	Origin               string
	Environment          string
	LogLevel             string
	JWTSecret            string
	JWTExpirationMinutes int
	Timezone             string
	UploadDir            string
	DefaultPaymentAmount float64
	SweepInterval        time.Duration
	Database             DatabaseConfig
	Mailer               MailerConfig
	EmotionAnalysis      EmotionAnalysisConfig
	VoiceQueue           VoiceQueueConfig
	AWS                  AWSConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Path     string
	DSN      string
}

// MailerConfig holds email service configuration
type MailerConfig struct {
	SendGridAPIKey string
	DefaultFrom    string
	FromName       string
}

// EmotionAnalysisConfig points at the external voice emotion service.
type EmotionAnalysisConfig struct {
	URL     string
	Timeout time.Duration
}

// VoiceQueueConfig controls the background voice analysis workers.
// An empty SQSQueueURL selects the in-process queue.
type VoiceQueueConfig struct {
	Workers     int
	Buffer      int
	SQSQueueURL string
}

// AWSConfig is only used when the voice queue is backed by SQS.
type AWSConfig struct {
	Region           string
	EndpointOverride string
	AccessKeyID      string
	SecretAccessKey  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ORIGIN", "http://localhost:3000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "default_jwt_secret")
	v.SetDefault("JWT_EXPIRATION_MINUTES", 60)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("PAYMENT_DEFAULT_AMOUNT", 2500)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 5)
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_USERNAME", "root")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "therapy")
	v.SetDefault("DB_PATH", "therapy.db")
	v.SetDefault("MAILER_FROM_NAME", "Therapy Scheduling")
	v.SetDefault("EMOTION_API_TIMEOUT_SECONDS", 30)
	v.SetDefault("VOICE_WORKERS", 2)
	v.SetDefault("VOICE_QUEUE_BUFFER", 64)
	v.SetDefault("AWS_REGION", "us-east-1")

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetString("DB_PORT"),
		Username: v.GetString("DB_USERNAME"),
		Password: v.GetString("DB_PASSWORD"),
		Name:     v.GetString("DB_NAME"),
		Path:     v.GetString("DB_PATH"),
	}

	// Build DSN (Data Source Name) for the selected driver
	switch dbConfig.Driver {
	case "sqlite":
		dbConfig.DSN = dbConfig.Path
	default:
		dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	}

	cfg := &Config{
		Port:                 v.GetString("PORT"),
		Origin:               v.GetString("ORIGIN"),
		Environment:          v.GetString("ENV"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		JWTExpirationMinutes: v.GetInt("JWT_EXPIRATION_MINUTES"),
		Timezone:             v.GetString("TIMEZONE"),
		UploadDir:            v.GetString("UPLOAD_DIR"),
		DefaultPaymentAmount: v.GetFloat64("PAYMENT_DEFAULT_AMOUNT"),
		SweepInterval:        time.Duration(v.GetInt("SWEEP_INTERVAL_MINUTES")) * time.Minute,
		Database:             dbConfig,
		Mailer: MailerConfig{
			SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
			DefaultFrom:    v.GetString("MAILER_DEFAULT_FROM"),
			FromName:       v.GetString("MAILER_FROM_NAME"),
		},
		EmotionAnalysis: EmotionAnalysisConfig{
			URL:     v.GetString("EMOTION_API_URL"),
			Timeout: time.Duration(v.GetInt("EMOTION_API_TIMEOUT_SECONDS")) * time.Second,
		},
		VoiceQueue: VoiceQueueConfig{
			Workers:     v.GetInt("VOICE_WORKERS"),
			Buffer:      v.GetInt("VOICE_QUEUE_BUFFER"),
			SQSQueueURL: v.GetString("VOICE_QUEUE_URL"),
		},
		AWS: AWSConfig{
			Region:           v.GetString("AWS_REGION"),
			EndpointOverride: v.GetString("AWS_ENDPOINT_OVERRIDE"),
			AccessKeyID:      v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:  v.GetString("AWS_SECRET_ACCESS_KEY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Environment == "development"
}

// Location resolves the configured timezone used to interpret appointment slots.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be \"mysql\" or \"sqlite\", got %q", c.Database.Driver)
	}
	if !c.IsDev() && (c.JWTSecret == "" || c.JWTSecret == "default_jwt_secret") {
		return fmt.Errorf("JWT_SECRET must be set outside development")
	}
	if c.JWTExpirationMinutes <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_MINUTES must be positive")
	}
	if c.VoiceQueue.Workers <= 0 {
		return fmt.Errorf("VOICE_WORKERS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
