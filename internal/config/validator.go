package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Server
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be > 0")
	}

	// Model
	switch strings.ToLower(cfg.Model.Runtime) {
	case "", "onnx", "tflite":
	default:
		return errors.Errorf("model.runtime %q must be onnx or tflite", cfg.Model.Runtime)
	}
	if cfg.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if cfg.Model.NumThreads < 0 {
		return errors.New("model.num_threads must be >= 0")
	}

	// Stream
	s := cfg.Stream
	if !(s.Alpha > 0 && s.Alpha <= 1) {
		return errors.Errorf("stream.alpha %v must be in (0, 1]", s.Alpha)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return errors.Errorf("stream.min_confidence %v must be in [0, 1]", s.MinConfidence)
	}
	if s.MinInterval < 0 {
		return errors.New("stream.min_interval must not be negative")
	}
	if s.StallTimeout < 0 {
		return errors.New("stream.stall_timeout must not be negative")
	}
	if _, err := codec.ParseResampler(s.Resampler); err != nil {
		return errors.Wrap(err, "stream.resampler")
	}

	// Ensemble
	if err := cfg.EnsembleOptions().Validate(); err != nil {
		return errors.Wrap(err, "ensemble")
	}

	// Log
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format %q must be text or json", cfg.Log.Format)
	}
	return nil
}
