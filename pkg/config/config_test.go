package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Processing.Threshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", cfg.Processing.Threshold)
	}
	if cfg.Radius() != [3]int{25, 25, 25} {
		t.Errorf("Expected radius [25 25 25], got %v", cfg.Radius())
	}
	d, err := cfg.BackendTimeout()
	if err != nil || d != 10*time.Minute {
		t.Errorf("Expected 10m backend timeout, got %v (%v)", d, err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Processing.GridSize != 128 {
		t.Errorf("Expected grid size 128, got %d", cfg.Processing.GridSize)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ventmapper.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	want := DefaultConfig()
	if cfg.Processing.Connectivity != want.Processing.Connectivity ||
		cfg.Backend.Kind != want.Backend.Kind ||
		cfg.Batch.Workers != want.Batch.Workers {
		t.Errorf("Round trip changed values: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.yaml")
	content := `
processing:
  threshold: 0.45
  orientationCheck: false
backend:
  kind: c3d
  timeout: 90s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Processing.Threshold != 0.45 {
		t.Errorf("Expected threshold 0.45, got %f", cfg.Processing.Threshold)
	}
	if cfg.Processing.OrientationCheck {
		t.Error("Expected orientation check to be disabled")
	}
	if cfg.Processing.SeedIterations != 10 {
		t.Errorf("Unset values should keep defaults, got seed iterations %d", cfg.Processing.SeedIterations)
	}
	if d, _ := cfg.BackendTimeout(); d != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", d)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"connectivity": "processing:\n  connectivity: 18\n",
		"radius":       "processing:\n  standardizeRadius: [5, 5]\n",
		"backend":      "backend:\n  kind: gpu\n",
		"timeout":      "model:\n  timeout: soon\n",
		"orientation":  "processing:\n  canonicalOrientations: [XYZ]\n",
		"yaml":         "processing: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("Expected error for %s", name)
			}
		})
	}
}
