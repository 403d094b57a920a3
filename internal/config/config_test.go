package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, int64(100<<20), cfg.UploadLimitBytes)
	assert.Equal(t, BackendNone, cfg.Conversion.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Conversion.Timeout)
	assert.Equal(t, "https://sync.api.cloudconvert.com", cfg.CloudConvert.SyncURL)
	assert.Equal(t, 24*time.Hour, cfg.Artifacts.TTL)
	assert.False(t, cfg.GCP.LedgerEnabled)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DOCTRANSFORM_MAX_CONCURRENCY", "8")
	t.Setenv("DOCTRANSFORM_CONVERSION_BACKEND", "cloudconvert")
	t.Setenv("DOCTRANSFORM_CONVERSION_TIMEOUT", "90s")
	t.Setenv("DOCTRANSFORM_CONVERSION_FETCH_RESULT", "true")
	t.Setenv("DOCTRANSFORM_CLOUDCONVERT_API_KEY", "key")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, BackendCloudConvert, cfg.Conversion.Backend)
	assert.Equal(t, 90*time.Second, cfg.Conversion.Timeout)
	assert.True(t, cfg.Conversion.FetchResult)
	assert.Equal(t, "key", cfg.CloudConvert.APIKey)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctransform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
conversion:
  backend: workflows
gcp:
  project_id: proj
  workflow_id: office-convert
  staging_bucket: staging
`), 0o600))

	v := New()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, BackendWorkflows, cfg.Conversion.Backend)
	assert.Equal(t, "proj", cfg.GCP.ProjectID)
	assert.Equal(t, "us-central1", cfg.GCP.WorkflowLocation)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{MaxConcurrency: 1, UploadLimitBytes: 1, Conversion: ConversionConfig{Timeout: time.Second}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero concurrency", mutate: func(c *Config) { c.MaxConcurrency = 0 }},
		{name: "zero upload limit", mutate: func(c *Config) { c.UploadLimitBytes = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Conversion.Timeout = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Conversion.Backend = "libreoffice" }},
		{name: "cloudconvert without key", mutate: func(c *Config) { c.Conversion.Backend = BackendCloudConvert }},
		{name: "workflows without bucket", mutate: func(c *Config) {
			c.Conversion.Backend = BackendWorkflows
			c.GCP.ProjectID, c.GCP.WorkflowID = "p", "w"
		}},
		{name: "ledger without project", mutate: func(c *Config) { c.GCP.LedgerEnabled = true }},
	}
	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
