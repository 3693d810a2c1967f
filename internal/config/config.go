// Package config loads and validates the audit service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUDIT_ prefix (e.g., AUDIT_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml in local development and with pure environment variables in
// containerized deployments.
//
// Risk and anomaly thresholds can be changed at runtime: Watch re-reads the file
// on every write and hands the re-validated Config to a callback.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the optional Redis connection used for the dashboard cache
// and distributed rate limiting.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// DashboardCacheTTL is how long dashboard statistics are served from cache
	DashboardCacheTTL time.Duration `mapstructure:"dashboard_cache_ttl"`
}

// StorageConfig holds the archive storage backend configuration. Entries are written
// here before a retention purge removes them from the database.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	// Authentication method: "default" or "service_account"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Endpoint is an optional custom endpoint (for emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds authentication configuration. The JWT secret is read from
// AUDIT_JWT_SECRET by the auth package.
type AuthConfig struct {
	// APIKeys are the service credentials business services use to submit events
	APIKeys []APIKeyConfig `mapstructure:"api_keys"`
	// OIDC, when an issuer is set, replaces the shared-secret JWT check with
	// verification against the identity provider's published signing keys
	OIDC OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig points at the identity provider that issues bearer tokens to people
// and dashboards
type OIDCConfig struct {
	IssuerURL   string `mapstructure:"issuer_url"`
	Audience    string `mapstructure:"audience"`
	NameClaim   string `mapstructure:"name_claim"`
	ScopesClaim string `mapstructure:"scopes_claim"`
}

// Enabled reports whether tokens are verified through OIDC discovery
func (o OIDCConfig) Enabled() bool {
	return o.IssuerURL != ""
}

// APIKeyConfig describes one service API key by its bcrypt hash
type APIKeyConfig struct {
	Name   string   `mapstructure:"name"`
	Hash   string   `mapstructure:"hash"`
	Scopes []string `mapstructure:"scopes"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// Backend is "memory" (per instance) or "redis" (shared across instances)
	Backend string `mapstructure:"backend"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds the audit core configuration
type AuditConfig struct {
	Recording RecordingConfig      `mapstructure:"recording"`
	Risk      RiskConfig           `mapstructure:"risk"`
	Anomaly   AnomalyConfig        `mapstructure:"anomaly"`
	Analytics AnalyticsConfig      `mapstructure:"analytics"`
	Retention RetentionConfig      `mapstructure:"retention"`
	Shippers  []AuditShipperConfig `mapstructure:"shippers"`
}

// RecordingConfig controls how entries are written
type RecordingConfig struct {
	// Timeout bounds a single record call (entry + change records)
	Timeout time.Duration `mapstructure:"timeout"`
	// AuditReads records a VIEW entry whenever the audit trail itself is read over HTTP
	AuditReads bool `mapstructure:"audit_reads"`
}

// RiskConfig parameterises the risk classifier rules
type RiskConfig struct {
	// SensitiveFields escalate an UPDATE to HIGH when any of them changed
	SensitiveFields []string `mapstructure:"sensitive_fields"`
	// ElevatedResourceTypes make any UPDATE at least MEDIUM
	ElevatedResourceTypes []string `mapstructure:"elevated_resource_types"`
	// BulkChangeThreshold makes an UPDATE MEDIUM when more fields than this changed
	BulkChangeThreshold int `mapstructure:"bulk_change_threshold"`
}

// AnomalyConfig holds the anomaly heuristic thresholds
type AnomalyConfig struct {
	FailedAttemptsHigh     int     `mapstructure:"failed_attempts_high"`
	FailedAttemptsCritical int     `mapstructure:"failed_attempts_critical"`
	UnusualActivityMedium  float64 `mapstructure:"unusual_activity_medium"`
	UnusualActivityHigh    float64 `mapstructure:"unusual_activity_high"`
	DeleteBurst            int     `mapstructure:"delete_burst"`
	CriticalVolume         int     `mapstructure:"critical_volume"`
}

// AnalyticsConfig bounds the range scans used by analytics and anomaly detection
type AnalyticsConfig struct {
	// MaxScanRows is the largest number of entries a single range scan may materialize
	MaxScanRows int `mapstructure:"max_scan_rows"`
	// DefaultWindow is used when a request omits the start of the range
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// RetentionConfig controls the periodic archive-and-purge job
type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	// Archive writes purged entries to the storage backend before deleting them
	Archive bool `mapstructure:"archive"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.dashboard_cache_ttl",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.gcs.bucket",

		// Auth
		"auth.oidc.issuer_url",
		"auth.oidc.audience",
		"auth.oidc.name_claim",
		"auth.oidc.scopes_claim",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.backend",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.recording.timeout",
		"audit.recording.audit_reads",
		"audit.risk.sensitive_fields",
		"audit.risk.elevated_resource_types",
		"audit.risk.bulk_change_threshold",
		"audit.anomaly.failed_attempts_high",
		"audit.anomaly.failed_attempts_critical",
		"audit.anomaly.unusual_activity_medium",
		"audit.anomaly.unusual_activity_high",
		"audit.anomaly.delete_burst",
		"audit.anomaly.critical_volume",
		"audit.analytics.max_scan_rows",
		"audit.analytics.default_window",
		"audit.retention.enabled",
		"audit.retention.max_age",
		"audit.retention.check_interval",
		"audit.retention.archive",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and then re-decodes it every time the config file
// changes, passing each valid result to onChange. Edits that fail validation are
// logged and ignored so a typo cannot zero out the thresholds of a running server.
// Watch is a no-op after the initial load when no config file is in use.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		updated, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(updated)
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-service")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.GCS.CredentialsJSON = expandEnv(cfg.Storage.GCS.CredentialsJSON)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dashboard_cache_ttl", "30s")

	// OIDC defaults (disabled until an issuer is set)
	v.SetDefault("auth.oidc.name_claim", "name")
	v.SetDefault("auth.oidc.scopes_claim", "scope")

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 600)
	v.SetDefault("security.rate_limiting.burst", 100)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "audit-service")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.recording.timeout", "5s")
	v.SetDefault("audit.recording.audit_reads", true)
	v.SetDefault("audit.risk.sensitive_fields", []string{"password", "email", "role", "permissions", "status"})
	v.SetDefault("audit.risk.elevated_resource_types", []string{"USER", "ROLE"})
	v.SetDefault("audit.risk.bulk_change_threshold", 5)
	v.SetDefault("audit.anomaly.failed_attempts_high", 5)
	v.SetDefault("audit.anomaly.failed_attempts_critical", 10)
	v.SetDefault("audit.anomaly.unusual_activity_medium", 3.0)
	v.SetDefault("audit.anomaly.unusual_activity_high", 5.0)
	v.SetDefault("audit.anomaly.delete_burst", 10)
	v.SetDefault("audit.anomaly.critical_volume", 5)
	v.SetDefault("audit.analytics.max_scan_rows", 100000)
	v.SetDefault("audit.analytics.default_window", "168h")
	v.SetDefault("audit.retention.enabled", false)
	v.SetDefault("audit.retention.max_age", "8760h")
	v.SetDefault("audit.retention.check_interval", "24h")
	v.SetDefault("audit.retention.archive", true)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// DefaultRiskConfig returns the classifier rules used when nothing is configured
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SensitiveFields:       []string{"password", "email", "role", "permissions", "status"},
		ElevatedResourceTypes: []string{"USER", "ROLE"},
		BulkChangeThreshold:   5,
	}
}

// DefaultAnomalyConfig returns the heuristic thresholds used when nothing is configured
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		FailedAttemptsHigh:     5,
		FailedAttemptsCritical: 10,
		UnusualActivityMedium:  3,
		UnusualActivityHigh:    5,
		DeleteBurst:            10,
		CriticalVolume:         5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	for i, key := range c.Auth.APIKeys {
		if key.Name == "" || key.Hash == "" {
			return fmt.Errorf("auth.api_keys[%d] requires name and hash", i)
		}
	}
	if c.Auth.OIDC.Enabled() {
		if !strings.HasPrefix(c.Auth.OIDC.IssuerURL, "https://") && !strings.HasPrefix(c.Auth.OIDC.IssuerURL, "http://") {
			return fmt.Errorf("auth.oidc.issuer_url must be an http(s) URL")
		}
		if c.Auth.OIDC.Audience == "" {
			return fmt.Errorf("auth.oidc.audience is required when auth.oidc.issuer_url is set")
		}
	}

	switch c.Security.RateLimiting.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("security.rate_limiting.backend redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return c.Audit.validate()
}

func (s *StorageConfig) validate() error {
	switch s.DefaultBackend {
	case "azure":
		if s.Azure.AccountName == "" || s.Azure.AccountKey == "" || s.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.account_name, account_key and container_name are required when using Azure backend")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if s.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", s.DefaultBackend)
	}
	return nil
}

func (a *AuditConfig) validate() error {
	if a.Recording.Timeout <= 0 {
		return fmt.Errorf("audit.recording.timeout must be positive")
	}
	if a.Risk.BulkChangeThreshold < 0 {
		return fmt.Errorf("audit.risk.bulk_change_threshold must not be negative")
	}

	an := a.Anomaly
	if an.FailedAttemptsHigh <= 0 || an.FailedAttemptsCritical < an.FailedAttemptsHigh {
		return fmt.Errorf("audit.anomaly.failed_attempts_critical (%d) must be >= failed_attempts_high (%d) > 0",
			an.FailedAttemptsCritical, an.FailedAttemptsHigh)
	}
	if an.UnusualActivityMedium <= 0 || an.UnusualActivityHigh < an.UnusualActivityMedium {
		return fmt.Errorf("audit.anomaly.unusual_activity_high (%g) must be >= unusual_activity_medium (%g) > 0",
			an.UnusualActivityHigh, an.UnusualActivityMedium)
	}
	if an.DeleteBurst <= 0 {
		return fmt.Errorf("audit.anomaly.delete_burst must be positive")
	}
	if an.CriticalVolume < 0 {
		return fmt.Errorf("audit.anomaly.critical_volume must not be negative")
	}

	if a.Analytics.MaxScanRows < 0 {
		return fmt.Errorf("audit.analytics.max_scan_rows must not be negative")
	}
	if a.Analytics.DefaultWindow <= 0 {
		return fmt.Errorf("audit.analytics.default_window must be positive")
	}

	if a.Retention.Enabled {
		if a.Retention.MaxAge <= 0 {
			return fmt.Errorf("audit.retention.max_age must be positive when retention is enabled")
		}
		if a.Retention.CheckInterval <= 0 {
			return fmt.Errorf("audit.retention.check_interval must be positive when retention is enabled")
		}
	}

	for i, s := range a.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q (must be webhook or file)", i, s.Type)
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
