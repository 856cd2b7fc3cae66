package model

import (
	"os"
	"testing"

	"github.com/Brownie44l1/wastewizard/internal/codec"
)

func TestONNXBackendCloseWithoutSession(t *testing.T) {
	b := &onnxBackend{}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := releaseEnvironment(); err != nil {
		t.Fatalf("releaseEnvironment() with no holders = %v", err)
	}
}

// Needs the onnxruntime shared library and a classifier artifact, e.g.
// ONNXRUNTIME_LIB=/usr/lib/libonnxruntime.so WASTE_ONNX_MODEL=models/waste_model.onnx
func TestONNXEnginesShareEnvironment(t *testing.T) {
	lib, path := os.Getenv("ONNXRUNTIME_LIB"), os.Getenv("WASTE_ONNX_MODEL")
	if lib == "" || path == "" {
		t.Skip("ONNXRUNTIME_LIB and WASTE_ONNX_MODEL not set")
	}
	opts := Options{Runtime: "onnx", ModelPath: path, SharedLibraryPath: lib}

	first, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Open(opts)
	if err != nil {
		first.Close()
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("closing first engine: %v", err)
	}

	size := second.InputSize()
	frame, err := codec.NewFrame(size, make([]uint8, size*size*3), 0)
	if err != nil {
		t.Fatal(err)
	}
	probs, err := second.Probabilities(frame)
	if err != nil {
		t.Fatalf("inference after closing a sibling engine: %v", err)
	}
	if len(probs) != second.NumClasses() {
		t.Errorf("got %d probabilities, want %d", len(probs), second.NumClasses())
	}

	if err := second.Close(); err != nil {
		t.Fatal(err)
	}
	env.Lock()
	refs := env.refs
	env.Unlock()
	if refs != 0 {
		t.Errorf("environment still has %d holders", refs)
	}
}
