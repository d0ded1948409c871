// Package config loads process configuration from a TOML file with
// environment overrides. The role is the one value every deployment sets
// per container, so MIGRATOR_ROLE always wins over the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	migrator "github.com/daybook/migrate-orchestrator"
)

// Duration wraps time.Duration so TOML values like "30s" parse directly.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full process configuration.
type Config struct {
	// Role selects among app, celery-worker, celery-beat, and admin-cli.
	Role string `toml:"role"`

	// ReplicaID overrides the generated replica identity (optional).
	ReplicaID string `toml:"replica_id"`

	Store     StoreConfig     `toml:"store"`
	Lease     LeaseConfig     `toml:"lease"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Steps     StepsConfig     `toml:"steps"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Readiness ReadinessConfig `toml:"readiness"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StoreConfig selects the shared coordination store.
type StoreConfig struct {
	// Driver is postgres, mysql, or sqlite3.
	Driver string `toml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `toml:"dsn"`

	// LedgerTable and LeaseTable override the default table names.
	LedgerTable string `toml:"ledger_table"`
	LeaseTable  string `toml:"lease_table"`
}

// LeaseConfig tunes the lock manager.
type LeaseConfig struct {
	Duration       Duration `toml:"duration"`
	AcquireTimeout Duration `toml:"acquire_timeout"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// LedgerConfig tunes the waiting replicas' polling loop.
type LedgerConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	MaxWait      Duration `toml:"max_wait"`
}

// StepsConfig locates the step definitions.
type StepsConfig struct {
	// StructuralManifest is the YAML manifest of structural steps.
	StructuralManifest string `toml:"structural_manifest"`

	// SchemaDir is the directory of NNNN_name.sql schema steps.
	SchemaDir string `toml:"schema_dir"`
}

// MetricsConfig controls the /metrics and /healthz server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ReadinessConfig carries the per-role probe targets.
type ReadinessConfig struct {
	LivenessURL string `toml:"liveness_url"`
	BrokerURL   string `toml:"broker_url"`
	PIDFilePath string `toml:"pidfile"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string `toml:"level"`
}

// Load reads the TOML file at path and applies environment overrides.
// An empty path loads from the environment alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Role == "" {
		return Config{}, fmt.Errorf("no role configured (set role in config or MIGRATOR_ROLE)")
	}
	if !migrator.Role(cfg.Role).Valid() {
		return Config{}, fmt.Errorf("unknown role %q", cfg.Role)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MIGRATOR_ROLE"); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv("MIGRATOR_REPLICA_ID"); v != "" {
		cfg.ReplicaID = v
	}
	if v := os.Getenv("MIGRATOR_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MIGRATOR_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MIGRATOR_BROKER_URL"); v != "" {
		cfg.Readiness.BrokerURL = v
	}
	if v := os.Getenv("MIGRATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// MigratorRole returns the typed role.
func (c Config) MigratorRole() migrator.Role {
	return migrator.Role(c.Role)
}
