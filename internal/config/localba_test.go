package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	cfg := EmptyLocalBAConfig()

	assert.True(t, cfg.GetUseLocalBA())
	assert.False(t, cfg.GetUseParametersOrdering())
	assert.Equal(t, 0, cfg.GetStrategy())
	assert.Equal(t, 1, cfg.GetDistanceLimit())
	assert.Equal(t, 50, cfg.GetMinSharedTracks())
	assert.Equal(t, 50, cfg.GetMaxIterations())
	assert.Equal(t, LinearSolverDenseNormalCholesky, cfg.GetLinearSolver())
	assert.Equal(t, runtime.NumCPU(), cfg.GetNumThreads())
	assert.Equal(t, time.Duration(0), cfg.GetMaxSolverTime())
}

func TestDefaultConfigMatchesGetters(t *testing.T) {
	def := DefaultLocalBAConfig()
	empty := EmptyLocalBAConfig()

	require.NoError(t, def.Validate())
	assert.Equal(t, empty.GetDistanceLimit(), def.GetDistanceLimit())
	assert.Equal(t, empty.GetStrategy(), def.GetStrategy())
	assert.Equal(t, empty.GetFunctionTolerance(), def.GetFunctionTolerance())
	assert.Equal(t, empty.GetParameterTolerance(), def.GetParameterTolerance())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.True(t, cfg.GetUseLocalBA())
	assert.True(t, cfg.GetUseParametersOrdering())
	assert.Equal(t, 1, cfg.GetDistanceLimit())
}

func TestLoadLocalBAConfig_JSON(t *testing.T) {
	path := writeConfig(t, "lba.json", `{
  "use_local_ba": false,
  "strategy": 1,
  "distance_limit": 3,
  "linear_solver": "dense_qr",
  "num_threads": 2,
  "max_solver_time": "30s"
}`)

	cfg, err := LoadLocalBAConfig(path)
	require.NoError(t, err)

	assert.False(t, cfg.GetUseLocalBA())
	assert.Equal(t, 1, cfg.GetStrategy())
	assert.Equal(t, 3, cfg.GetDistanceLimit())
	assert.Equal(t, LinearSolverDenseQR, cfg.GetLinearSolver())
	assert.Equal(t, 2, cfg.GetNumThreads())
	assert.Equal(t, 30*time.Second, cfg.GetMaxSolverTime())
	// omitted fields keep defaults
	assert.Equal(t, 50, cfg.GetMinSharedTracks())
}

func TestLoadLocalBAConfig_YAML(t *testing.T) {
	path := writeConfig(t, "lba.yaml", `
use_parameters_ordering: true
strategy: 2
distance_limit: 0
min_shared_tracks: 12
`)

	cfg, err := LoadLocalBAConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.GetUseParametersOrdering())
	assert.Equal(t, 2, cfg.GetStrategy())
	assert.Equal(t, 0, cfg.GetDistanceLimit())
	assert.Equal(t, 12, cfg.GetMinSharedTracks())
}

func TestLoadLocalBAConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"bad extension", "lba.txt", `{}`},
		{"bad json", "lba.json", `{"strategy":`},
		{"negative limit", "lba.json", `{"distance_limit": -1}`},
		{"unknown strategy", "lba.json", `{"strategy": 7}`},
		{"unknown solver", "lba.json", `{"linear_solver": "sparse_schur"}`},
		{"bad duration", "lba.yaml", `max_solver_time: soon`},
		{"zero shared tracks", "lba.yaml", `min_shared_tracks: 0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadLocalBAConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadLocalBAConfig_MissingFile(t *testing.T) {
	_, err := LoadLocalBAConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
