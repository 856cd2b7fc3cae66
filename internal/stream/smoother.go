package stream

import (
	"github.com/pkg/errors"

	"github.com/Brownie44l1/wastewizard/internal/model"
)

// Smoother keeps an exponential moving average over a session's probability
// vectors. It is owned by exactly one session and is not safe for concurrent
// use.
type Smoother struct {
	alpha float32
	state model.ProbabilityVector
}

// NewSmoother returns a smoother with weight alpha in (0, 1] on the newest
// observation. Higher is more responsive, lower is steadier.
func NewSmoother(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.Errorf("alpha %v outside (0, 1]", alpha)
	}
	return &Smoother{alpha: float32(alpha)}, nil
}

// Update folds raw into the average and returns a copy of the new state. The
// first call, or a call with a different width, starts over from raw.
func (s *Smoother) Update(raw model.ProbabilityVector) model.ProbabilityVector {
	if len(s.state) != len(raw) {
		s.state = raw.Clone()
		return s.state.Clone()
	}
	for i, v := range raw {
		s.state[i] = s.alpha*v + (1-s.alpha)*s.state[i]
	}
	return s.state.Clone()
}

// Reset drops the accumulated state.
func (s *Smoother) Reset() { s.state = nil }

// State returns a copy of the current average, nil before the first Update.
func (s *Smoother) State() model.ProbabilityVector {
	if s.state == nil {
		return nil
	}
	return s.state.Clone()
}

// Stable reports the top-1 of p when it clears minConfidence.
func Stable(p model.ProbabilityVector, minConfidence float32) (int, float32, bool) {
	idx, conf := p.Top()
	if idx < 0 || conf < minConfidence {
		return idx, conf, false
	}
	return idx, conf, true
}
