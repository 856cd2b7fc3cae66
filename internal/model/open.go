package model

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options locates the model artifact and its companions on disk.
type Options struct {
	Runtime           string // "onnx" (default) or "tflite"
	ModelPath         string
	MetadataPath      string // optional
	LabelsPath        string // optional, falls back to metadata classes
	SharedLibraryPath string // onnxruntime shared library, optional
	NumThreads        int
	Logger            *logrus.Entry
}

// LoadMetadata reads the JSON sidecar.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "failed to parse metadata")
	}
	return &meta, nil
}

// Open loads the model, metadata and labels and returns a ready Engine.
// Every failure is an *EngineInitError.
func Open(opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "engine")
	}
	fail := func(err error) (*Engine, error) {
		return nil, &EngineInitError{Path: opts.ModelPath, Err: err}
	}

	meta := &Metadata{}
	if opts.MetadataPath != "" {
		m, err := LoadMetadata(opts.MetadataPath)
		if err != nil {
			return fail(err)
		}
		meta = m
	}

	var labels []string
	if opts.LabelsPath != "" {
		l, err := LoadLabels(opts.LabelsPath)
		if err != nil {
			return fail(err)
		}
		labels = l
	} else {
		labels = meta.Classes
	}

	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(opts.Runtime) {
	case "", "onnx":
		backend, err = openONNX(opts, meta)
	case "tflite":
		backend, err = openTFLite(opts, meta)
	default:
		err = errors.Errorf("unknown runtime %q", opts.Runtime)
	}
	if err != nil {
		return fail(err)
	}

	log.WithFields(logrus.Fields{"runtime": opts.Runtime, "path": opts.ModelPath}).Info("model loaded")
	engine, err := assemble(backend, labels, meta, log)
	var initErr *EngineInitError
	if errors.As(err, &initErr) {
		return nil, err
	}
	if err != nil {
		return fail(err)
	}
	return engine, nil
}

// assemble checks the sidecar against the backend and wraps it in an Engine.
// On failure the backend is closed.
func assemble(backend Backend, labels []string, meta *Metadata, log *logrus.Entry) (*Engine, error) {
	var engine *Engine
	err := meta.check(backend.Spec())
	if err == nil {
		engine, err = NewEngine(backend, labels, WithInputRange(meta.InputRange), WithLogger(log))
	}
	if err != nil {
		if cerr := backend.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to release model backend")
		}
		return nil, err
	}
	return engine, nil
}

// check cross-validates the sidecar against what the artifact declares.
func (m *Metadata) check(spec IOSpec) error {
	if m.ImageSize != 0 && m.ImageSize != spec.InputSize {
		return errors.Errorf("metadata image_size %d, model input side %d", m.ImageSize, spec.InputSize)
	}
	if len(m.InputShape) != 0 {
		size, err := checkShape(m.InputShape)
		if err != nil {
			return errors.Wrap(err, "metadata")
		}
		if size != spec.InputSize {
			return errors.Errorf("metadata input_shape %v, model input side %d", m.InputShape, spec.InputSize)
		}
	}
	if len(m.OutputShape) != 0 {
		width, err := outputWidth(m.OutputShape)
		if err != nil {
			return errors.Wrap(err, "metadata")
		}
		if width != spec.OutputWidth {
			return errors.Errorf("metadata output_shape %v, model outputs %d", m.OutputShape, spec.OutputWidth)
		}
	}
	return nil
}
