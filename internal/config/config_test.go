package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-maps/anchorbatch/internal/batch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
origin_x: 12
origin_y: 34
layers: 2
z: 8
map_width: 200
map_height: 200
prompt: "a coastal village"
model_variant: pro
max_parallel: 4
max_generate_retries: 3
parent_job_retries: 2
parent_worker_concurrency: 2
parent_debounce_ms: 500
parent_wave_batch_size: 4
parent_leaf_batch_size: 8
parent_cascade_depth: 3
scheduling_mode: rolling_fill
enable_review: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.OriginX)
	assert.Equal(t, 34, cfg.OriginY)
	assert.Equal(t, 2, cfg.Layers)
	assert.Equal(t, 8, cfg.Z)
	assert.Equal(t, "a coastal village", cfg.Prompt)
	assert.Equal(t, "pro", cfg.ModelVariant)
	assert.Equal(t, "rolling_fill", cfg.SchedulingMode)
	assert.True(t, cfg.EnableReview)
	require.NotNil(t, cfg.MaxGenerateRetries)
	assert.Equal(t, 3, *cfg.MaxGenerateRetries)
	require.NotNil(t, cfg.ParentJobRetries)
	assert.Equal(t, 2, *cfg.ParentJobRetries)
	require.NotNil(t, cfg.ParentCascadeDepth)
	assert.Equal(t, 3, *cfg.ParentCascadeDepth)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	path := writeConfig(t, "origin_x: [this is not valid: yaml")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestToInput_MapsFieldsAndLeavesCollaboratorsNil(t *testing.T) {
	retries := 2
	cfg := &BatchInputConfig{
		OriginX: 1, OriginY: 2, Layers: 1, Z: 5,
		MapWidth: 50, MapHeight: 50,
		Prompt: "a lighthouse", ModelVariant: "standard",
		MaxParallel: 3, MaxGenerateRetries: &retries,
		SchedulingMode: "wave_barrier",
	}

	input := cfg.ToInput()

	assert.Equal(t, 1, input.OriginX)
	assert.Equal(t, 2, input.OriginY)
	assert.Equal(t, batch.ModelVariant("standard"), input.ModelVariant)
	assert.Equal(t, batch.SchedulingMode("wave_barrier"), input.SchedulingMode)
	require.NotNil(t, input.MaxGenerateRetries)
	assert.Equal(t, 2, *input.MaxGenerateRetries)
	assert.Nil(t, input.ExecuteAnchor)
	assert.Nil(t, input.RefreshParentLevel)
	assert.Nil(t, input.OnState)
}
