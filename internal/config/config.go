// Package config loads batch run configuration from YAML for the CLI entrypoint.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tessera-maps/anchorbatch/internal/batch"
)

// BatchInputConfig is the on-disk shape of a batch run request. It mirrors
// batch.StartBatchRunInput field-for-field, using YAML-friendly snake_case
// names, and omits the function-typed collaborator fields, which the CLI
// wires up itself.
type BatchInputConfig struct {
	OriginX int `yaml:"origin_x"`
	OriginY int `yaml:"origin_y"`
	Layers  int `yaml:"layers"`
	Z       int `yaml:"z"`

	MapWidth  int `yaml:"map_width"`
	MapHeight int `yaml:"map_height"`

	Prompt       string `yaml:"prompt"`
	ModelVariant string `yaml:"model_variant"`

	MaxParallel int `yaml:"max_parallel"`
	// MaxGenerateRetries, ParentJobRetries, ParentDebounceMs, and
	// ParentCascadeDepth are pointers so that an explicit 0 in the YAML file
	// survives instead of being read back as "unset".
	MaxGenerateRetries      *int `yaml:"max_generate_retries"`
	ParentJobRetries        *int `yaml:"parent_job_retries"`
	ParentWorkerConcurrency int  `yaml:"parent_worker_concurrency"`
	ParentDebounceMs        *int `yaml:"parent_debounce_ms"`
	ParentWaveBatchSize     int  `yaml:"parent_wave_batch_size"`
	ParentLeafBatchSize     int  `yaml:"parent_leaf_batch_size"`
	ParentCascadeDepth      *int `yaml:"parent_cascade_depth"`

	SchedulingMode string `yaml:"scheduling_mode"`
	EnableReview   bool   `yaml:"enable_review"`

	// FixtureDir, when set, names a directory of pre-rendered tile fixtures
	// the CLI replays instead of calling a real generation backend. Leave
	// empty to use the CLI's in-memory fake collaborators.
	FixtureDir string `yaml:"fixture_dir"`
}

// Load reads and parses a BatchInputConfig from path.
func Load(path string) (*BatchInputConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg BatchInputConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ToInput converts the config into the StartBatchRunInput shape, leaving the
// collaborator function fields for the caller to fill in.
func (c *BatchInputConfig) ToInput() batch.StartBatchRunInput {
	return batch.StartBatchRunInput{
		OriginX: c.OriginX, OriginY: c.OriginY,
		Layers: c.Layers, Z: c.Z,
		MapWidth: c.MapWidth, MapHeight: c.MapHeight,
		Prompt:       c.Prompt,
		ModelVariant: batch.ModelVariant(c.ModelVariant),

		MaxParallel:             c.MaxParallel,
		ParentWorkerConcurrency: c.ParentWorkerConcurrency,
		// Copied through as-is: nil means the YAML omitted the key, non-nil
		// (including a pointer to 0) means the operator set it explicitly.
		MaxGenerateRetries:  c.MaxGenerateRetries,
		ParentJobRetries:    c.ParentJobRetries,
		ParentDebounceMs:    c.ParentDebounceMs,
		ParentWaveBatchSize: c.ParentWaveBatchSize,
		ParentLeafBatchSize: c.ParentLeafBatchSize,
		ParentCascadeDepth:  c.ParentCascadeDepth,

		SchedulingMode: batch.SchedulingMode(c.SchedulingMode),
		EnableReview:   c.EnableReview,
	}
}
