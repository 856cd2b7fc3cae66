package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type stuckBackend struct {
	spec   IOSpec
	closed int
}

func (b *stuckBackend) Spec() IOSpec { return b.spec }

func (b *stuckBackend) Run(*InputTensor) (RawOutput, error) {
	return RawOutput{}, errors.New("not runnable")
}

func (b *stuckBackend) Close() error {
	b.closed++
	return errors.New("native teardown failed")
}

func TestAssembleReleasesBackendOnFailure(t *testing.T) {
	valid := IOSpec{InputSize: 4, InputType: Float32, OutputWidth: 5, OutputType: Float32}
	tests := []struct {
		name string
		spec IOSpec
		meta *Metadata
	}{
		{"metadata mismatch", valid, &Metadata{ImageSize: 8}},
		{"invalid spec", IOSpec{InputType: Float32, OutputWidth: 5, OutputType: Float32}, &Metadata{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			b := &stuckBackend{spec: tt.spec}

			engine, err := assemble(b, nil, tt.meta, logrus.NewEntry(logger))
			if err == nil || engine != nil {
				t.Fatalf("assemble() = %v, %v, want error", engine, err)
			}
			if b.closed != 1 {
				t.Errorf("backend closed %d times, want 1", b.closed)
			}
			entry := hook.LastEntry()
			if entry == nil || entry.Level != logrus.WarnLevel {
				t.Fatalf("last log entry = %+v, want a warning", entry)
			}
			if entry.Data[logrus.ErrorKey] == nil {
				t.Error("warning does not carry the teardown error")
			}
		})
	}
}
