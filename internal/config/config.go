// Package config loads control-plane configuration from an optional YAML
// file plus environment-variable overrides, following the pattern of
// defaults-via-New / overrides-via-Load used throughout the teacher stack:
// joeshaw/envdecode decodes env-tagged struct fields, joho/godotenv loads a
// local .env for development, and gopkg.in/yaml.v3 parses the file layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds a listen address. The control plane process starts no
// HTTP listener and exposes no HTTP API; these fields are loaded but unread.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Postgres-compatible persistence layer.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// ConnectionString builds a libpq connection string from host parameters;
// DSN, when set, takes precedence over this.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// RuntimeConfig selects the default container runtime; the VM provisioner
// driver is VMHypervisorConfig.Driver.
type RuntimeConfig struct {
	ContainerRuntime string `json:"container_runtime" yaml:"container_runtime" env:"CONTAINER_RUNTIME"`
}

// VMHypervisorConfig targets the HTTP hypervisor adapter.
type VMHypervisorConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"VM_HYPERVISOR_ENDPOINT"`
	Token    string `json:"token" yaml:"token" env:"VM_HYPERVISOR_TOKEN"`
	Driver   string `json:"driver" yaml:"driver" env:"VM_PROVISIONER_DRIVER"`
}

// VMAttestationConfig configures the Attestation Verifier's trust anchors
// and freshness window.
type VMAttestationConfig struct {
	Measurements   []string `json:"measurements" yaml:"measurements" env:"VM_ATTESTATION_MEASUREMENTS"`
	TrustRoots     []string `json:"trust_roots" yaml:"trust_roots" env:"VM_ATTESTATION_TRUST_ROOTS"`
	MaxAgeSeconds  int      `json:"max_age_seconds" yaml:"max_age_seconds" env:"VM_ATTESTATION_MAX_AGE_SECONDS"`
}

// BillingSchedulerConfig configures the renewal scheduler (§4.H).
type BillingSchedulerConfig struct {
	ScanIntervalSeconds int    `json:"scan_interval_seconds" yaml:"scan_interval_seconds" env:"BILLING_RENEWAL_SCAN_INTERVAL_SECS"`
	PastDueGraceDays    int    `json:"past_due_grace_days" yaml:"past_due_grace_days" env:"BILLING_RENEWAL_PAST_DUE_GRACE_DAYS"`
	FallbackPlanCode    string `json:"fallback_plan_code" yaml:"fallback_plan_code" env:"BILLING_RENEWAL_FALLBACK_PLAN_CODE"`
}

// LibvirtConfig configures the libvirt domain driver.
type LibvirtConfig struct {
	ConnectionURI     string `json:"connection_uri" yaml:"connection_uri" env:"LIBVIRT_CONNECTION_URI"`
	Username          string `json:"username" yaml:"username" env:"LIBVIRT_USERNAME"`
	Password          string `json:"password" yaml:"password" env:"LIBVIRT_PASSWORD"`
	PasswordFile      string `json:"password_file" yaml:"password_file" env:"LIBVIRT_PASSWORD_FILE"`
	DefaultMemoryMiB  int    `json:"default_memory_mib" yaml:"default_memory_mib" env:"LIBVIRT_DEFAULT_MEMORY_MIB"`
	DefaultVCPUCount  int    `json:"default_vcpu_count" yaml:"default_vcpu_count" env:"LIBVIRT_DEFAULT_VCPU_COUNT"`
	NetworkTemplate   string `json:"network_template" yaml:"network_template" env:"LIBVIRT_NETWORK_TEMPLATE"`
	VolumeTemplate    string `json:"volume_template" yaml:"volume_template" env:"LIBVIRT_VOLUME_TEMPLATE"`
	GPUPolicy         string `json:"gpu_policy" yaml:"gpu_policy" env:"LIBVIRT_GPU_POLICY"`
	ConsoleSource     string `json:"console_source" yaml:"console_source" env:"LIBVIRT_CONSOLE_SOURCE"`
}

// DispatcherConfig controls the Job Dispatcher's worker pool.
type DispatcherConfig struct {
	Workers int `json:"workers" yaml:"workers" env:"DISPATCHER_WORKERS"`
}

// SecurityConfig holds the master key used to envelope-encrypt BYOK
// provider keys at rest.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// Config is the top-level configuration structure for the control plane.
type Config struct {
	Server      ServerConfig           `json:"server" yaml:"server"`
	Database    DatabaseConfig         `json:"database" yaml:"database"`
	Logging     LoggingConfig          `json:"logging" yaml:"logging"`
	Runtime     RuntimeConfig          `json:"runtime" yaml:"runtime"`
	Hypervisor  VMHypervisorConfig     `json:"hypervisor" yaml:"hypervisor"`
	Attestation VMAttestationConfig    `json:"attestation" yaml:"attestation"`
	Billing     BillingSchedulerConfig `json:"billing" yaml:"billing"`
	Libvirt     LibvirtConfig          `json:"libvirt" yaml:"libvirt"`
	Dispatcher  DispatcherConfig       `json:"dispatcher" yaml:"dispatcher"`
	Security    SecurityConfig         `json:"security" yaml:"security"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Runtime: RuntimeConfig{ContainerRuntime: "docker"},
		Hypervisor: VMHypervisorConfig{
			Driver: "http",
		},
		Attestation: VMAttestationConfig{MaxAgeSeconds: 300},
		Billing: BillingSchedulerConfig{
			ScanIntervalSeconds: 3600,
			PastDueGraceDays:    0,
		},
		Libvirt: LibvirtConfig{
			DefaultMemoryMiB: 2048,
			DefaultVCPUCount: 2,
		},
		Dispatcher: DispatcherConfig{Workers: 4},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// config file, then environment-variable overrides, in that order of
// increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	// Measurement and trust-root lists are comma-separated; envdecode splits
	// slices on ';' only, so split each entry on ',' as well.
	for _, list := range []*[]string{&cfg.Attestation.Measurements, &cfg.Attestation.TrustRoots} {
		var split []string
		for _, item := range *list {
			for _, part := range strings.Split(item, ",") {
				if p := strings.TrimSpace(part); p != "" {
					split = append(split, p)
				}
			}
		}
		*list = split
	}

	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// LoadFile reads configuration from a YAML file, without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN,
// matching the convention most Postgres hosting providers use.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
