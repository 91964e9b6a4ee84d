package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	scierrors "github.com/YuminosukeSato/imbalanced/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.RandomState != 42 || cfg.TestSize != 0.2 || cfg.NFolds != 5 || cfg.TopN != 10 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want func(Config) Config
	}{
		{
			name: "yaml",
			file: "pipeline.yaml",
			body: "random_state: 7\ntest_size: 0.25\nseed_strategy: per_fold\nchart_format: svg\n",
			want: func(c Config) Config {
				c.RandomState = 7
				c.TestSize = 0.25
				c.SeedStrategy = "per_fold"
				c.ChartFormat = "svg"
				return c
			},
		},
		{
			name: "json",
			file: "pipeline.json",
			body: `{"n_folds": 3, "k_neighbors": 2, "model_dir": "out/models", "top_n": 4}`,
			want: func(c Config) Config {
				c.NFolds = 3
				c.KNeighbors = 2
				c.ModelDir = "out/models"
				c.TopN = 4
				return c
			},
		},
		{
			name: "empty yaml keeps defaults",
			file: "empty.yml",
			body: "",
			want: func(c Config) Config { return c },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeFile(t, tt.file, tt.body))
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if want := tt.want(DefaultConfig()); *cfg != want {
				t.Errorf("got %+v, want %+v", *cfg, want)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := LoadConfig(writeFile(t, "bad.json", "{")); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "bad.yaml", "test_size: 1.5\n"))
		var valErr *scierrors.ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if valErr.ParamName != "test_size" {
			t.Errorf("ParamName = %q, want test_size", valErr.ParamName)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		param  string
	}{
		{"zero test size", func(c *Config) { c.TestSize = 0 }, "test_size"},
		{"one fold", func(c *Config) { c.NFolds = 1 }, "n_folds"},
		{"no neighbours", func(c *Config) { c.KNeighbors = 0 }, "k_neighbors"},
		{"unknown seed strategy", func(c *Config) { c.SeedStrategy = "random" }, "seed_strategy"},
		{"empty model dir", func(c *Config) { c.ModelDir = "" }, "model_dir"},
		{"empty report dir", func(c *Config) { c.ReportDir = "" }, "report_dir"},
		{"unknown chart format", func(c *Config) { c.ChartFormat = "bmp" }, "chart_format"},
		{"zero top n", func(c *Config) { c.TopN = 0 }, "top_n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			var valErr *scierrors.ValidationError
			if err := cfg.Validate(); !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if valErr.ParamName != tt.param {
				t.Errorf("ParamName = %q, want %q", valErr.ParamName, tt.param)
			}

			if _, err := New(cfg); err == nil {
				t.Error("New should reject an invalid config")
			}
		})
	}
}
