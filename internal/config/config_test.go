package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/model"
)

func TestResolveDBPath_AbsolutePathUsedAsIs(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "custom.db")
	got, err := ResolveDBPath(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)
}

func TestResolveDBPath_RejectsRelativeForms(t *testing.T) {
	for _, bad := range []string{"~/foo", "./foo", "../foo", "a/b"} {
		_, err := ResolveDBPath(bad)
		require.Error(t, err, "expected error for %q", bad)
		assert.IsType(t, &model.ConfigurationError{}, err)
	}
}

func TestResolveDBPath_BareNameResolvesUnderDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("REMIND_DATA_DIR", dataDir)
	got, err := ResolveDBPath("myproject")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "myproject.db"), got)
}

func TestResolveDBPath_EmptyNameDefaultsToDefault(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("REMIND_DATA_DIR", dataDir)
	got, err := ResolveDBPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "default.db"), got)
}

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.ConsolidationThreshold)
	assert.True(t, cfg.AutoConsolidate)
	assert.Equal(t, 5, cfg.DefaultRecallK)
	assert.Equal(t, 2, cfg.SpreadHops)
	assert.Equal(t, 0.5, cfg.SpreadDecay)
	assert.Equal(t, 0.1, cfg.ActivationThreshold)
	assert.Equal(t, 0.3, cfg.MinConfidence)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 2000, cfg.MaxContentLength)
}

func TestConfig_RelationWeight_FallsBackToPackageDefault(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.RelationWeights, model.RelImplies)
	assert.Equal(t, model.RelationWeight(model.RelImplies), cfg.RelationWeight(model.RelImplies))
}
