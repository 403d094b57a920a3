// Package config loads service settings from the environment and an optional
// doctransform.yaml file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DOCTRANSFORM_CONVERSION_BACKEND.
const EnvPrefix = "DOCTRANSFORM"

// Conversion backends.
const (
	BackendNone         = "none"
	BackendCloudConvert = "cloudconvert"
	BackendWorkflows    = "workflows"
)

type Config struct {
	StagingDir       string `mapstructure:"staging_dir"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	UploadLimitBytes int64  `mapstructure:"upload_limit_bytes"`

	Conversion   ConversionConfig   `mapstructure:"conversion"`
	CloudConvert CloudConvertConfig `mapstructure:"cloudconvert"`
	GCP          GCPConfig          `mapstructure:"gcp"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
}

type ConversionConfig struct {
	Backend      string        `mapstructure:"backend"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FetchResult  bool          `mapstructure:"fetch_result"`
}

type CloudConvertConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	SyncURL string `mapstructure:"sync_url"`
}

type GCPConfig struct {
	ProjectID        string `mapstructure:"project_id"`
	WorkflowLocation string `mapstructure:"workflow_location"`
	WorkflowID       string `mapstructure:"workflow_id"`
	StagingBucket    string `mapstructure:"staging_bucket"`
	OutputBucket     string `mapstructure:"output_bucket"`
	Collection       string `mapstructure:"collection"`
	LedgerEnabled    bool   `mapstructure:"ledger_enabled"`
}

type ArtifactsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

var defaults = map[string]any{
	"staging_dir":              "",
	"max_concurrency":          4,
	"upload_limit_bytes":       int64(100 << 20),
	"conversion.backend":       BackendNone,
	"conversion.timeout":       5 * time.Minute,
	"conversion.poll_interval": 2 * time.Second,
	"conversion.fetch_result":  false,
	"cloudconvert.api_key":     "",
	"cloudconvert.base_url":    "https://api.cloudconvert.com",
	"cloudconvert.sync_url":    "https://sync.api.cloudconvert.com",
	"gcp.project_id":           "",
	"gcp.workflow_location":    "us-central1",
	"gcp.workflow_id":          "",
	"gcp.staging_bucket":       "",
	"gcp.output_bucket":        "",
	"gcp.collection":           "conversion_jobs",
	"gcp.ledger_enabled":       false,
	"artifacts.ttl":            24 * time.Hour,
}

// New returns a viper instance with every key defaulted and bound to its
// environment variable. Nested keys map "." to "_".
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigName("doctransform")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a backend needs before any client is built.
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.UploadLimitBytes <= 0 {
		return fmt.Errorf("upload_limit_bytes must be positive, got %d", c.UploadLimitBytes)
	}
	if c.Conversion.Timeout <= 0 {
		return fmt.Errorf("conversion.timeout must be positive")
	}
	switch c.Conversion.Backend {
	case BackendNone, "":
	case BackendCloudConvert:
		if c.CloudConvert.APIKey == "" {
			return fmt.Errorf("cloudconvert.api_key is required for the cloudconvert backend")
		}
	case BackendWorkflows:
		if c.GCP.ProjectID == "" || c.GCP.WorkflowID == "" || c.GCP.StagingBucket == "" {
			return fmt.Errorf("gcp.project_id, gcp.workflow_id and gcp.staging_bucket are required for the workflows backend")
		}
	default:
		return fmt.Errorf("unknown conversion.backend %q", c.Conversion.Backend)
	}
	if c.GCP.LedgerEnabled && c.GCP.ProjectID == "" {
		return fmt.Errorf("gcp.project_id is required when gcp.ledger_enabled is set")
	}
	return nil
}
