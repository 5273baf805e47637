// Package config resolves the on-disk data directory and database path
// and holds the tunable thresholds/weights enumerated in the
// specification's external-interfaces section. Loading configuration from
// environment or config files is out of scope; only path resolution and
// in-process defaults live here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/remind-mem/remind/internal/model"
)

// GetDataDir returns the platform-specific data directory, honoring the
// same override/legacy environment variables the teacher accepted.
func GetDataDir() (string, error) {
	if override := os.Getenv("REMIND_DATA_DIR"); override != "" {
		return override, nil
	}
	if override := os.Getenv("MNEMONIC_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "remind"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "remind"), nil
	}

	return filepath.Join(home, ".remind"), nil
}

// ResolveDBPath resolves a memory namespace name (or absolute path) to a
// database file path under the per-user data directory (spec §6: default
// "<home>/.remind/<name>.db"; relative names and a leading "~" or "." are
// errors; an absolute path is used as-is).
func ResolveDBPath(nameOrPath string) (string, error) {
	if nameOrPath == "" {
		nameOrPath = "default"
	}
	if filepath.IsAbs(nameOrPath) {
		return nameOrPath, nil
	}
	if strings.HasPrefix(nameOrPath, "~") || strings.HasPrefix(nameOrPath, ".") || strings.ContainsRune(nameOrPath, os.PathSeparator) {
		return "", &model.ConfigurationError{Reason: fmt.Sprintf("invalid memory name %q: relative paths and leading '~'/'.' are not accepted", nameOrPath)}
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, nameOrPath+".db"), nil
}

// Config holds the tunables enumerated in spec §6, all with the
// documented defaults.
type Config struct {
	ConsolidationThreshold int
	AutoConsolidate        bool
	DefaultRecallK         int
	SpreadHops             int
	SpreadDecay            float64
	ActivationThreshold    float64
	RelationWeights        map[model.ConceptRelationType]float64
	MinConfidence          float64
	BatchSize              int
	MaxContentLength       int

	// ProviderRateLimit and ProviderBurst bound how often the façade calls
	// into the configured LLM/embedding providers (internal/ratelimit).
	ProviderRateLimit float64
	ProviderBurst     int
}

// DefaultConfig returns a Config populated with spec §6's defaults.
func DefaultConfig() *Config {
	weights := make(map[model.ConceptRelationType]float64, len(model.DefaultRelationWeight))
	for k, v := range model.DefaultRelationWeight {
		weights[k] = v
	}
	return &Config{
		ConsolidationThreshold: 10,
		AutoConsolidate:        true,
		DefaultRecallK:         5,
		SpreadHops:             2,
		SpreadDecay:            0.5,
		ActivationThreshold:    0.1,
		RelationWeights:        weights,
		MinConfidence:          0.3,
		BatchSize:              10,
		MaxContentLength:       2000,
		ProviderRateLimit:      3,
		ProviderBurst:          5,
	}
}

// RelationWeight returns the configured spread weight for t, falling back
// to the package default when the config's map does not override it.
func (c *Config) RelationWeight(t model.ConceptRelationType) float64 {
	if w, ok := c.RelationWeights[t]; ok {
		return w
	}
	return model.RelationWeight(t)
}
