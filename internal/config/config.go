package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/ensemble"
	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

// DefaultPath is read when WASTE_CONFIG is unset.
const DefaultPath = "config.yaml"

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Stream   StreamConfig   `yaml:"stream"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Port        string `yaml:"port"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

// ModelConfig locates the classifier artifact
type ModelConfig struct {
	Runtime           string `yaml:"runtime"` // onnx, tflite
	Path              string `yaml:"path"`
	MetadataPath      string `yaml:"metadata_path"`
	LabelsPath        string `yaml:"labels_path"` // optional, one label per line
	SharedLibraryPath string `yaml:"shared_library_path"`
	NumThreads        int    `yaml:"num_threads"`
}

// StreamConfig contains live classification settings
type StreamConfig struct {
	RealtimeEnabled bool          `yaml:"realtime_enabled"`
	MinInterval     time.Duration `yaml:"min_interval"`
	Alpha           float64       `yaml:"alpha"`
	MinConfidence   float32       `yaml:"min_confidence"`
	StallTimeout    time.Duration `yaml:"stall_timeout"`
	Resampler       string        `yaml:"resampler"` // auto, nearest, bilinear
}

// EnsembleConfig contains still-image settings
type EnsembleConfig struct {
	CropFraction float64 `yaml:"crop_fraction"`
	Crops        int     `yaml:"crops"`
}

// IngestConfig contains remote frame producer settings
type IngestConfig struct {
	ZMQEndpoint string `yaml:"zmq_endpoint"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	sc := stream.DefaultConfig()
	ec := ensemble.DefaultConfig()
	return &Config{
		Server: ServerConfig{Port: "8080", MaxUploadMB: 10},
		Model: ModelConfig{
			Runtime:      "onnx",
			Path:         "models/waste_model.onnx",
			MetadataPath: "models/model_metadata.json",
		},
		Stream: StreamConfig{
			RealtimeEnabled: sc.Enabled,
			MinInterval:     sc.MinInterval,
			Alpha:           sc.Alpha,
			MinConfidence:   sc.MinConfidence,
			StallTimeout:    sc.StallTimeout,
			Resampler:       sc.Resampler.String(),
		},
		Ensemble: EnsembleConfig{CropFraction: ec.CropFraction, Crops: ec.Crops},
		Ingest:   IngestConfig{ZMQEndpoint: "tcp://*:5557"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file over the defaults. A missing file
// leaves the defaults in place. PORT overrides server.port.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// FromEnv loads the file named by WASTE_CONFIG, or DefaultPath.
func FromEnv() (*Config, error) {
	path := os.Getenv("WASTE_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// EngineOptions maps the model section onto model.Open options.
func (c *Config) EngineOptions() model.Options {
	return model.Options{
		Runtime:           c.Model.Runtime,
		ModelPath:         c.Model.Path,
		MetadataPath:      c.Model.MetadataPath,
		LabelsPath:        c.Model.LabelsPath,
		SharedLibraryPath: c.Model.SharedLibraryPath,
		NumThreads:        c.Model.NumThreads,
		Logger:            logrus.WithField("component", "engine"),
	}
}

// StreamOptions maps the stream section onto a session configuration.
func (c *Config) StreamOptions() stream.Config {
	r, _ := codec.ParseResampler(c.Stream.Resampler)
	return stream.Config{
		Enabled:       c.Stream.RealtimeEnabled,
		MinInterval:   c.Stream.MinInterval,
		Alpha:         c.Stream.Alpha,
		MinConfidence: c.Stream.MinConfidence,
		StallTimeout:  c.Stream.StallTimeout,
		Resampler:     r,
	}
}

// EnsembleOptions maps the ensemble section onto a scorer configuration.
func (c *Config) EnsembleOptions() ensemble.Config {
	return ensemble.Config{
		CropFraction: c.Ensemble.CropFraction,
		Crops:        c.Ensemble.Crops,
		Resampler:    codec.Bilinear,
	}
}

// MaxUploadBytes is the multipart limit for still uploads.
func (c *Config) MaxUploadBytes() int64 { return c.Server.MaxUploadMB << 20 }
