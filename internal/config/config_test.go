package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "audit",
				Password: "secret",
				Name:     "audit",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=audit password=secret dbname=audit sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "db.example.com",
				Port:    5433,
				User:    "admin",
				Name:    "trail",
				SSLMode: "disable",
			},
			want: "host=db.example.com port=5433 user=admin password= dbname=trail sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "audit",
			User: "audit",
		},
		Storage: StorageConfig{
			DefaultBackend: "local",
			Local:          LocalStorageConfig{BasePath: "./archive"},
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{Backend: "memory"},
		},
		Logging: LoggingConfig{Level: "info"},
		Audit: AuditConfig{
			Recording: RecordingConfig{Timeout: 5 * time.Second},
			Risk:      DefaultRiskConfig(),
			Anomaly:   DefaultAnomalyConfig(),
			Analytics: AnalyticsConfig{MaxScanRows: 1000, DefaultWindow: 24 * time.Hour},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid minimal config", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"missing db user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
		{"unknown storage backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }, "invalid storage backend"},
		{"s3 without bucket", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Region = "us-east-1"
		}, "storage.s3.bucket"},
		{"s3 without region", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Bucket = "b"
		}, "storage.s3.region"},
		{"gcs without bucket", func(c *Config) { c.Storage.DefaultBackend = "gcs" }, "storage.gcs.bucket"},
		{"azure incomplete", func(c *Config) {
			c.Storage.DefaultBackend = "azure"
			c.Storage.Azure.AccountName = "acct"
		}, "storage.azure"},
		{"local without path", func(c *Config) { c.Storage.Local.BasePath = "" }, "storage.local.base_path"},
		{"api key without hash", func(c *Config) {
			c.Auth.APIKeys = []APIKeyConfig{{Name: "billing"}}
		}, "auth.api_keys[0]"},
		{"oidc issuer without audience", func(c *Config) {
			c.Auth.OIDC.IssuerURL = "https://idp.example.com"
		}, "auth.oidc.audience"},
		{"oidc issuer not a url", func(c *Config) {
			c.Auth.OIDC = OIDCConfig{IssuerURL: "idp.example.com", Audience: "audit"}
		}, "auth.oidc.issuer_url"},
		{"oidc complete", func(c *Config) {
			c.Auth.OIDC = OIDCConfig{IssuerURL: "https://idp.example.com", Audience: "audit"}
		}, ""},
		{"redis rate limit without redis", func(c *Config) {
			c.Security.RateLimiting.Backend = "redis"
		}, "requires redis.enabled"},
		{"unknown rate limit backend", func(c *Config) {
			c.Security.RateLimiting.Backend = "memcached"
		}, "invalid rate limiting backend"},
		{"tls without cert", func(c *Config) {
			c.Security.TLS.Enabled = true
			c.Security.TLS.KeyFile = "k"
		}, "cert_file"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
		{"zero recording timeout", func(c *Config) { c.Audit.Recording.Timeout = 0 }, "audit.recording.timeout"},
		{"critical below high", func(c *Config) {
			c.Audit.Anomaly.FailedAttemptsCritical = 3
		}, "failed_attempts_critical"},
		{"unusual high below medium", func(c *Config) {
			c.Audit.Anomaly.UnusualActivityHigh = 2
		}, "unusual_activity_high"},
		{"zero delete burst", func(c *Config) { c.Audit.Anomaly.DeleteBurst = 0 }, "delete_burst"},
		{"retention without max age", func(c *Config) {
			c.Audit.Retention = RetentionConfig{Enabled: true, CheckInterval: time.Hour}
		}, "max_age"},
		{"webhook shipper without url", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "webhook"}}
		}, "webhook.url"},
		{"disabled shipper ignored", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: false, Type: "syslog"}}
		}, ""},
		{"unknown shipper type", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "syslog"}}
		}, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_SECRET", "super-secret")
	if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
		t.Errorf("expandEnv() = %q, want super-secret", got)
	}
	if got := expandEnv("no-vars-here"); got != "no-vars-here" {
		t.Errorf("expandEnv() = %q, want passthrough", got)
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for explicit missing file")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Load() unexpected error kind: %v", err)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
logging:
  level: "debug"
audit:
  anomaly:
    failed_attempts_high: 3
    failed_attempts_critical: 6
  risk:
    sensitive_fields: ["password", "mfa_secret"]
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Database.Host != "dbhost" {
		t.Errorf("Database.Host = %q, want dbhost", cfg.Database.Host)
	}
	if cfg.Audit.Anomaly.FailedAttemptsHigh != 3 || cfg.Audit.Anomaly.FailedAttemptsCritical != 6 {
		t.Errorf("Anomaly = %+v", cfg.Audit.Anomaly)
	}
	if len(cfg.Audit.Risk.SensitiveFields) != 2 || cfg.Audit.Risk.SensitiveFields[1] != "mfa_secret" {
		t.Errorf("SensitiveFields = %v", cfg.Audit.Risk.SensitiveFields)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
database:
  host: "dbhost"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Audit.Anomaly != DefaultAnomalyConfig() {
		t.Errorf("default anomaly config = %+v", cfg.Audit.Anomaly)
	}
	if cfg.Audit.Risk.BulkChangeThreshold != 5 {
		t.Errorf("default bulk threshold = %d, want 5", cfg.Audit.Risk.BulkChangeThreshold)
	}
	if cfg.Audit.Retention.MaxAge != 365*24*time.Hour {
		t.Errorf("default retention = %v, want 8760h", cfg.Audit.Retention.MaxAge)
	}
	if cfg.Audit.Analytics.DefaultWindow != 7*24*time.Hour {
		t.Errorf("default window = %v, want 168h", cfg.Audit.Analytics.DefaultWindow)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_DATABASE_NAME", "from_env")
	t.Setenv("AUDIT_AUDIT_ANOMALY_DELETE_BURST", "25")
	const content = `
database:
  name: "from_file"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Name != "from_env" {
		t.Errorf("Database.Name = %q, want from_env", cfg.Database.Name)
	}
	if cfg.Audit.Anomaly.DeleteBurst != 25 {
		t.Errorf("DeleteBurst = %d, want 25", cfg.Audit.Anomaly.DeleteBurst)
	}
}

func TestLoad_OIDCFromEnv(t *testing.T) {
	t.Setenv("AUDIT_AUTH_OIDC_ISSUER_URL", "https://idp.example.com")
	t.Setenv("AUDIT_AUTH_OIDC_AUDIENCE", "audit-dashboard")
	cfg, err := Load(writeTempConfig(t, "database:\n  name: audit\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Auth.OIDC.Enabled() {
		t.Fatal("OIDC.Enabled() = false, want true")
	}
	if cfg.Auth.OIDC.Audience != "audit-dashboard" {
		t.Errorf("Audience = %q, want audit-dashboard", cfg.Auth.OIDC.Audience)
	}
	if cfg.Auth.OIDC.ScopesClaim != "scope" || cfg.Auth.OIDC.NameClaim != "name" {
		t.Errorf("claim defaults = %q/%q, want scope/name", cfg.Auth.OIDC.ScopesClaim, cfg.Auth.OIDC.NameClaim)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	const content = `
database:
  password: "${TEST_DB_PASS}"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_InvalidThresholds(t *testing.T) {
	const content = `
audit:
  anomaly:
    failed_attempts_high: 10
    failed_attempts_critical: 5
`
	_, err := Load(writeTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %v, want invalid configuration", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "server: [unclosed")); err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}

// ---------------------------------------------------------------------------
// Watch
// ---------------------------------------------------------------------------

func TestWatch_ReloadsThresholds(t *testing.T) {
	path := writeTempConfig(t, "audit:\n  anomaly:\n    delete_burst: 10\n")

	changed := make(chan *Config, 4)
	cfg, err := Watch(path, func(c *Config) { changed <- c })
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	if cfg.Audit.Anomaly.DeleteBurst != 10 {
		t.Fatalf("initial DeleteBurst = %d, want 10", cfg.Audit.Anomaly.DeleteBurst)
	}

	if err := os.WriteFile(path, []byte("audit:\n  anomaly:\n    delete_burst: 42\n"), 0600); err != nil {
		t.Fatal("WriteFile:", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Audit.Anomaly.DeleteBurst == 42 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
