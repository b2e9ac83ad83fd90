package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_PassValidation(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, Validate(&cfg))
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version")
}

func TestValidate_CollectsMultipleViolations(t *testing.T) {
	cfg := Defaults()
	cfg.Poller.PageSize = 0
	cfg.Behavioral.EWMAAlpha = 2.0
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
	assert.Contains(t, err.Error(), "ewma_alpha")
}

func TestValidate_MVNNMustBeAtLeastWarmN(t *testing.T) {
	cfg := Defaults()
	cfg.Behavioral.WarmN = 50
	cfg.Behavioral.MVNN = 10
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mvn_n")
}

func TestValidate_EnrichmentRequiresSummarizerNameWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Enrichment.Enabled = true
	cfg.Enrichment.Summarizer = ""
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarizer")
}

func TestLoad_ParsesYAMLOverridesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
schema_version: "1"
node_id: test-node
poller:
  upstream_base_url: https://example.test/events
behavioral:
  warm_n: 25
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-node", cfg.NodeID)
	assert.Equal(t, "https://example.test/events", cfg.Poller.UpstreamBaseURL)
	assert.Equal(t, 25, cfg.Behavioral.WarmN)
	// Unset fields keep their defaults.
	assert.Equal(t, 30, cfg.Behavioral.MVNN)
}

func TestLoad_InvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: \"99\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestNonDestructiveReload_TrueWhenOnlyThresholdsChange(t *testing.T) {
	old := Defaults()
	newCfg := Defaults()
	newCfg.Fuser.ReportFloor = 0.5
	assert.True(t, NonDestructiveReload(&old, &newCfg))
}

func TestNonDestructiveReload_FalseWhenDBPathChanges(t *testing.T) {
	old := Defaults()
	newCfg := Defaults()
	newCfg.Storage.DBPath = "/tmp/other.db"
	assert.False(t, NonDestructiveReload(&old, &newCfg))
}

func TestNonDestructiveReload_FalseWhenMetricsAddrChanges(t *testing.T) {
	old := Defaults()
	newCfg := Defaults()
	newCfg.Observability.MetricsAddr = "0.0.0.0:9999"
	assert.False(t, NonDestructiveReload(&old, &newCfg))
}
