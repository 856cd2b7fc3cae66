package stream_test

import (
	"math"
	"testing"

	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

func near(a, b float32, tol float64) bool { return math.Abs(float64(a-b)) <= tol }

func TestSmootherFirstUpdateIsRaw(t *testing.T) {
	s, err := stream.NewSmoother(0.6)
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != nil {
		t.Fatal("state before first update should be nil")
	}
	raw := model.ProbabilityVector{0.9, 0.025, 0.025, 0.025, 0.025}
	got := s.Update(raw)
	for i := range raw {
		if got[i] != raw[i] {
			t.Fatalf("first update = %v, want %v", got, raw)
		}
	}
	got[0] = 0
	if s.State()[0] != 0.9 {
		t.Error("Update returned the internal state instead of a copy")
	}
}

func TestSmootherConverges(t *testing.T) {
	s, _ := stream.NewSmoother(0.6)
	s.Update(model.ProbabilityVector{0.2, 0.2, 0.2, 0.2, 0.2})
	target := model.ProbabilityVector{0.9, 0.025, 0.025, 0.025, 0.025}
	var got model.ProbabilityVector
	for i := 0; i < 10; i++ {
		got = s.Update(target)
	}
	for i := range target {
		if !near(got[i], target[i], 1e-3) {
			t.Fatalf("after 10 updates state = %v, want within 1e-3 of %v", got, target)
		}
	}
}

func TestSmootherBlend(t *testing.T) {
	s, _ := stream.NewSmoother(0.6)
	s.Update(model.ProbabilityVector{1, 0})
	got := s.Update(model.ProbabilityVector{0, 1})
	if !near(got[0], 0.4, 1e-6) || !near(got[1], 0.6, 1e-6) {
		t.Errorf("blend = %v, want [0.4 0.6]", got)
	}

	// A different width starts over.
	got = s.Update(model.ProbabilityVector{0.1, 0.2, 0.7})
	if len(got) != 3 || got[2] != 0.7 {
		t.Errorf("width change = %v, want reset to raw", got)
	}

	s.Reset()
	if s.State() != nil {
		t.Error("state after Reset should be nil")
	}
}

func TestSmootherAlphaOne(t *testing.T) {
	s, _ := stream.NewSmoother(1)
	s.Update(model.ProbabilityVector{1, 0})
	got := s.Update(model.ProbabilityVector{0.3, 0.7})
	if got[0] != 0.3 || got[1] != 0.7 {
		t.Errorf("alpha 1 should track raw, got %v", got)
	}
}

func TestNewSmootherRejectsAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.01, math.NaN()} {
		if _, err := stream.NewSmoother(a); err == nil {
			t.Errorf("NewSmoother(%v) succeeded", a)
		}
	}
}

func TestStable(t *testing.T) {
	p := model.ProbabilityVector{0.1, 0.65, 0.25}
	if idx, conf, ok := stream.Stable(p, 0.6); !ok || idx != 1 || conf != 0.65 {
		t.Errorf("Stable = %d %v %v", idx, conf, ok)
	}
	if _, _, ok := stream.Stable(p, 0.7); ok {
		t.Error("0.65 should not clear 0.7")
	}
	if _, _, ok := stream.Stable(nil, 0); ok {
		t.Error("empty vector is never stable")
	}
}
