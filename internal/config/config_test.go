package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "8080" || cfg.Stream.MinInterval != 400*time.Millisecond {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	sc := cfg.StreamOptions()
	if !sc.Enabled || sc.Alpha != 0.6 || sc.MinConfidence != 0.60 || sc.Resampler != codec.Auto {
		t.Errorf("stream options = %+v", sc)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeConfig(t, `
server:
  port: "9090"
model:
  runtime: tflite
  path: /opt/models/waste.tflite
  labels_path: /opt/models/labels.txt
  num_threads: 2
stream:
  realtime_enabled: false
  min_interval: 250ms
  alpha: 0.3
  stall_timeout: 5s
  resampler: bilinear
ensemble:
  crops: 5
log:
  level: debug
  format: json
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.MaxUploadMB != 10 {
		t.Errorf("server = %+v", cfg.Server)
	}
	opts := cfg.EngineOptions()
	if opts.Runtime != "tflite" || opts.ModelPath != "/opt/models/waste.tflite" || opts.NumThreads != 2 {
		t.Errorf("engine options = %+v", opts)
	}
	if opts.MetadataPath != "models/model_metadata.json" {
		t.Errorf("unset metadata path should keep its default, got %q", opts.MetadataPath)
	}
	sc := cfg.StreamOptions()
	if sc.Enabled || sc.MinInterval != 250*time.Millisecond || sc.StallTimeout != 5*time.Second ||
		sc.Alpha != 0.3 || sc.MinConfidence != 0.60 || sc.Resampler != codec.Bilinear {
		t.Errorf("stream options = %+v", sc)
	}
	if ec := cfg.EnsembleOptions(); ec.Crops != 5 || ec.CropFraction != 0.8 {
		t.Errorf("ensemble options = %+v", ec)
	}

	cfg.SetupLogging()
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T", logrus.StandardLogger().Formatter)
	}
}

func TestPortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "7000")
	cfg, err := config.Load(writeConfig(t, "server:\n  port: \"9090\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("port = %s, want 7000", cfg.Server.Port)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("WASTE_CONFIG", writeConfig(t, "stream:\n  min_confidence: 0.75\n"))
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.MinConfidence != 0.75 {
		t.Errorf("min_confidence = %v", cfg.Stream.MinConfidence)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Setenv("PORT", "")
	cases := map[string]string{
		"alpha zero":      "stream:\n  alpha: 0\n",
		"alpha high":      "stream:\n  alpha: 1.5\n",
		"confidence":      "stream:\n  min_confidence: 2\n",
		"interval":        "stream:\n  min_interval: -1s\n",
		"stall":           "stream:\n  stall_timeout: -1s\n",
		"resampler":       "stream:\n  resampler: lanczos\n",
		"crop fraction":   "ensemble:\n  crop_fraction: 0\n",
		"crops":           "ensemble:\n  crops: 2\n",
		"runtime":         "model:\n  runtime: tensorrt\n",
		"log level":       "log:\n  level: loud\n",
		"log format":      "log:\n  format: xml\n",
		"upload":          "server:\n  max_upload_mb: 0\n",
		"malformed yaml":  "stream: [\n",
		"wrong type":      "stream:\n  alpha: fast\n",
		"empty model":     "model:\n  path: \"\"\n",
		"negative thread": "model:\n  num_threads: -1\n",
	}
	for name, body := range cases {
		if _, err := config.Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: Load succeeded", name)
		}
	}
}

func TestMaxUploadBytes(t *testing.T) {
	if got := config.Defaults().MaxUploadBytes(); got != 10<<20 {
		t.Errorf("MaxUploadBytes = %d", got)
	}
}
