package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for a service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" envconfig:"DB_HOST" default:"localhost"`
	Port            int           `mapstructure:"port" envconfig:"DB_PORT" default:"5432"`
	User            string        `mapstructure:"user" envconfig:"DB_USER" default:"flowvault"`
	Password        string        `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Database        string        `mapstructure:"database" envconfig:"DB_NAME" default:"flowvault"`
	Schema          string        `mapstructure:"schema" envconfig:"DB_SCHEMA" default:"flowvault"`
	SSLMode         string        `mapstructure:"ssl_mode" envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled" envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers     []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	TopicPrefix string   `mapstructure:"topic_prefix" envconfig:"KAFKA_TOPIC_PREFIX" default:"flowvault"`
}

// RemoteConfig holds configuration for the upstream automation platform API
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url" envconfig:"REMOTE_BASE_URL" default:"http://localhost:5678"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"REMOTE_REQUEST_TIMEOUT" default:"30s"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" envconfig:"REMOTE_RATE_PER_SECOND" default:"5"`
	RateBurst      int           `mapstructure:"rate_burst" envconfig:"REMOTE_RATE_BURST" default:"10"`
}

// SyncConfig holds configuration for the periodic reconciliation cycle
type SyncConfig struct {
	CronSpec        string        `mapstructure:"cron_spec" envconfig:"SYNC_CRON_SPEC" default:"0 0 * * * *"`
	Workers         int           `mapstructure:"workers" envconfig:"SYNC_WORKERS" default:"8"`
	WorkflowTimeout time.Duration `mapstructure:"workflow_timeout" envconfig:"SYNC_WORKFLOW_TIMEOUT" default:"60s"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" envconfig:"SYNC_LOCK_TTL" default:"50m"`
}

// QuotaConfig holds quota enforcement configuration
type QuotaConfig struct {
	EnforceWorkflowLimit bool `mapstructure:"enforce_workflow_limit" envconfig:"QUOTA_ENFORCE_WORKFLOW_LIMIT" default:"false"`
	DefaultWorkflowLimit int  `mapstructure:"default_workflow_limit" envconfig:"QUOTA_DEFAULT_WORKFLOW_LIMIT" default:"-1"`
	DefaultSnapshotLimit int  `mapstructure:"default_snapshot_limit" envconfig:"QUOTA_DEFAULT_SNAPSHOT_LIMIT" default:"-1"`
}

// ArchiveConfig holds S3 snapshot archival configuration
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled" envconfig:"ARCHIVE_ENABLED" default:"false"`
	Bucket          string `mapstructure:"bucket" envconfig:"ARCHIVE_BUCKET"`
	Region          string `mapstructure:"region" envconfig:"ARCHIVE_REGION" default:"us-east-1"`
	Endpoint        string `mapstructure:"endpoint" envconfig:"ARCHIVE_ENDPOINT"`
	AccessKeyID     string `mapstructure:"access_key_id" envconfig:"ARCHIVE_ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"secret_access_key" envconfig:"ARCHIVE_SECRET_ACCESS_KEY"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" envconfig:"JWT_SECRET" default:"super-secret-key"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry" envconfig:"JWT_EXPIRY" default:"1h"`
}

// CryptoConfig holds credential encryption configuration
type CryptoConfig struct {
	Passphrase string `mapstructure:"passphrase" envconfig:"CRYPTO_PASSPHRASE"`
	Salt       string `mapstructure:"salt" envconfig:"CRYPTO_SALT"`
	Iterations int    `mapstructure:"iterations" envconfig:"CRYPTO_ITERATIONS" default:"100000"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName
	cfg.Telemetry.ServiceName = serviceName

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("./configs/services/" + serviceName)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Override with environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
