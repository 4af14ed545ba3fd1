package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/media"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CONTENTDESK_"

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	// JWKSURL of the identity provider. When empty, HMACSecret verifies tokens.
	JWKSURL     string `yaml:"jwksUrl"`
	Issuer      string `yaml:"issuer"`
	HMACSecret  string `yaml:"hmacSecret"`
	DefaultRole string `yaml:"defaultRole"`
}

type RealtimeConfig struct {
	// RedisAddr enables cross-instance fan-out; without it events stay in process.
	RedisAddr         string        `yaml:"redisAddr"`
	RedisPassword     string        `yaml:"redisPassword"`
	RedisDB           int           `yaml:"redisDb"`
	TokenSecret       string        `yaml:"tokenSecret"`
	TokenTTL          time.Duration `yaml:"tokenTtl"`
	BufferSize        int           `yaml:"bufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

type ChangeTrackerConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweepSchedule"`
}

type RunPodConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	APIKey        string        `yaml:"apiKey"`
	WebhookSecret string        `yaml:"webhookSecret"`
	Timeout       time.Duration `yaml:"timeout"`
	// Endpoints maps a generation type (image, video, voice) to an endpoint id.
	Endpoints         map[string]string `yaml:"endpoints"`
	StaleAfter        time.Duration     `yaml:"staleAfter"`
	ReconcileSchedule string            `yaml:"reconcileSchedule"`
}

type StorageConfig struct {
	// Type is "s3" or "memory".
	Type            string        `yaml:"type"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"accessKeyId"`
	SecretAccessKey string        `yaml:"secretAccessKey"`
	UsePathStyle    bool          `yaml:"usePathStyle"`
	PresignTTL      time.Duration `yaml:"presignTtl"`
}

type BillingConfig struct {
	WebhookSecret string            `yaml:"webhookSecret"`
	PlanByPrice   map[string]string `yaml:"planByPrice"`
}

type SchedulerConfig struct {
	Schedule         string `yaml:"schedule"`
	Concurrency      int    `yaml:"concurrency"`
	GraphURL         string `yaml:"graphUrl"`
	GraphAccessToken string `yaml:"graphAccessToken"`
}

type ServiceConfig struct {
	Port          int                  `yaml:"port"`
	PublicURL     string               `yaml:"publicUrl"`
	Log           LogConfig            `yaml:"log"`
	Database      Database             `yaml:"database"`
	Auth          AuthConfig           `yaml:"auth"`
	Realtime      RealtimeConfig       `yaml:"realtime"`
	ChangeTracker ChangeTrackerConfig  `yaml:"changeTracker"`
	RunPod        RunPodConfig         `yaml:"runpod"`
	Storage       StorageConfig        `yaml:"storage"`
	Billing       BillingConfig        `yaml:"billing"`
	Scheduler     SchedulerConfig      `yaml:"scheduler"`
	Media         media.PipelineConfig `yaml:"media"`
}

// LoadConfig loads configuration from the specified YAML file, applies
// CONTENTDESK_* environment overrides and validates the result.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	return ParseConfig(data, os.LookupEnv)
}

// ParseConfig parses yaml data; lookupEnv supplies the environment overrides.
func ParseConfig(data []byte, lookupEnv func(string) (string, bool)) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnvOverrides(&config, lookupEnv); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnvOverrides(config *ServiceConfig, lookupEnv func(string) (string, bool)) error {
	secrets := map[string]*string{
		"DATABASE_CONNECTION_STRING": &config.Database.ConnectionString,
		"AUTH_HMAC_SECRET":           &config.Auth.HMACSecret,
		"REALTIME_TOKEN_SECRET":      &config.Realtime.TokenSecret,
		"REDIS_ADDR":                 &config.Realtime.RedisAddr,
		"REDIS_PASSWORD":             &config.Realtime.RedisPassword,
		"RUNPOD_API_KEY":             &config.RunPod.APIKey,
		"RUNPOD_WEBHOOK_SECRET":      &config.RunPod.WebhookSecret,
		"STORAGE_ACCESS_KEY_ID":      &config.Storage.AccessKeyID,
		"STORAGE_SECRET_ACCESS_KEY":  &config.Storage.SecretAccessKey,
		"STRIPE_WEBHOOK_SECRET":      &config.Billing.WebhookSecret,
		"GRAPH_ACCESS_TOKEN":         &config.Scheduler.GraphAccessToken,
		"PUBLIC_URL":                 &config.PublicURL,
	}
	for name, target := range secrets {
		if v, ok := lookupEnv(envPrefix + name); ok {
			*target = v
		}
	}
	if v, ok := lookupEnv(envPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT %q: %w", envPrefix, v, err)
		}
		config.Port = port
	}
	return nil
}

func (config *ServiceConfig) applyDefaults() {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
	if config.Auth.DefaultRole == "" {
		config.Auth.DefaultRole = string(rbac.RoleUser)
	}
	if config.Realtime.HeartbeatInterval <= 0 {
		config.Realtime.HeartbeatInterval = 25 * time.Second
	}
	if config.ChangeTracker.SweepSchedule == "" {
		config.ChangeTracker.SweepSchedule = "@every 5m"
	}
	if config.RunPod.StaleAfter <= 0 {
		config.RunPod.StaleAfter = 30 * time.Minute
	}
	if config.RunPod.ReconcileSchedule == "" {
		config.RunPod.ReconcileSchedule = "@every 5m"
	}
	if config.Storage.Type == "" {
		config.Storage.Type = "memory"
	}
	if config.Scheduler.Schedule == "" {
		config.Scheduler.Schedule = "@every 1m"
	}
}

// Validate reports the first invalid setting.
func (config *ServiceConfig) Validate() error {
	if err := validateDatabase(config.Database); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	if err := validateLog(config.Log); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}
	if err := validateAuth(config.Auth); err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	if len(config.Realtime.TokenSecret) < 16 {
		return fmt.Errorf("invalid realtime configuration: tokenSecret must be at least 16 bytes")
	}
	if err := validateStorage(config.Storage); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}
	if config.PublicURL == "" && len(config.RunPod.Endpoints) > 0 {
		return fmt.Errorf("invalid runpod configuration: publicUrl is required for job webhooks")
	}
	if len(config.RunPod.Endpoints) > 0 && len(config.RunPod.WebhookSecret) < 16 {
		return fmt.Errorf("invalid runpod configuration: webhookSecret must be at least 16 bytes")
	}
	for jobType := range config.RunPod.Endpoints {
		if !validJobType(jobType) {
			return fmt.Errorf("invalid runpod configuration: unknown generation type %q", jobType)
		}
	}
	if err := media.ValidateCommands(config.Media.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

func validateDatabase(db Database) error {
	switch db.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported type %q", db.Type)
	}
	if db.ConnectionString == "" {
		return fmt.Errorf("connectionString is required")
	}
	return nil
}

func validateLog(log LogConfig) error {
	switch strings.ToLower(log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", log.Level)
	}
	switch log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", log.Format)
	}
	return nil
}

func validateAuth(auth AuthConfig) error {
	if auth.JWKSURL == "" && len(auth.HMACSecret) < 16 {
		return fmt.Errorf("either jwksUrl or an hmacSecret of at least 16 bytes is required")
	}
	if _, err := rbac.ParseRole(auth.DefaultRole); err != nil {
		return err
	}
	return nil
}

func validateStorage(storage StorageConfig) error {
	switch storage.Type {
	case "memory":
	case "s3":
		if storage.Bucket == "" {
			return fmt.Errorf("bucket is required for s3")
		}
	default:
		return fmt.Errorf("unsupported type %q", storage.Type)
	}
	return nil
}
