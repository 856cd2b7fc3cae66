//go:build !tflite

package model

import (
	"github.com/pkg/errors"
)

func openTFLite(Options, *Metadata) (Backend, error) {
	return nil, errors.New("tflite runtime not compiled in, rebuild with -tags tflite")
}
