package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/sklearn/model_selection"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by every pipeline stage (YAML or JSON).
type Config struct {
	// RandomState seeds the split, the fold shuffle, SMOTE and both trainers
	RandomState int64 `yaml:"random_state" json:"random_state"`
	// TestSize is the held-out fraction of the split
	TestSize float64 `yaml:"test_size" json:"test_size"`
	// NFolds is the default fold count of cross-validation
	NFolds int `yaml:"n_folds" json:"n_folds"`
	// KNeighbors is the SMOTE neighbourhood size
	KNeighbors int `yaml:"k_neighbors" json:"k_neighbors"`
	// SeedStrategy is "shared" (every fold resamples with RandomState) or "per_fold"
	SeedStrategy string `yaml:"seed_strategy" json:"seed_strategy"`
	// NJobs bounds the goroutines fitting forest trees, -1 for every CPU
	NJobs int `yaml:"n_jobs" json:"n_jobs"`

	ModelDir    string `yaml:"model_dir" json:"model_dir"`
	ReportDir   string `yaml:"report_dir" json:"report_dir"`
	ChartFormat string `yaml:"chart_format" json:"chart_format"` // png, svg or pdf
	// TopN is the number of features in the importance chart
	TopN int `yaml:"top_n" json:"top_n"`
}

// DefaultConfig returns the settings of the reference workflow
func DefaultConfig() Config {
	return Config{
		RandomState:  42,
		TestSize:     0.2,
		NFolds:       5,
		KNeighbors:   5,
		SeedStrategy: model_selection.SeedShared.String(),
		NJobs:        -1,
		ModelDir:     "models",
		ReportDir:    "reports",
		ChartFormat:  "png",
		TopN:         10,
	}
}

// LoadConfig reads a YAML or JSON file (chosen by extension) on top of
// DefaultConfig, so omitted keys keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse json %s", path)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse yaml %s", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field
func (c Config) Validate() error {
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	}
	if c.NFolds < 2 {
		return errors.NewValidationError("n_folds", "must be at least 2", c.NFolds)
	}
	if c.KNeighbors < 1 {
		return errors.NewValidationError("k_neighbors", "must be at least 1", c.KNeighbors)
	}
	if _, err := model_selection.ParseSeedStrategy(c.SeedStrategy); err != nil {
		return err
	}
	if c.ModelDir == "" {
		return errors.NewValidationError("model_dir", "must not be empty", c.ModelDir)
	}
	if c.ReportDir == "" {
		return errors.NewValidationError("report_dir", "must not be empty", c.ReportDir)
	}
	switch c.ChartFormat {
	case "png", "svg", "pdf":
	default:
		return errors.NewValidationError("chart_format", "must be \"png\", \"svg\" or \"pdf\"", c.ChartFormat)
	}
	if c.TopN < 1 {
		return errors.NewValidationError("top_n", "must be at least 1", c.TopN)
	}
	return nil
}
