// Package stream classifies a live camera feed.
//
// A Session is a small actor: one goroutine owns the session state (sequence
// tokens, rate limiting, smoothing) and talks to a single inference worker and
// to the consumer over channels. Frames that arrive too early or while an
// inference is running are dropped, never queued. Results that no longer
// belong to the newest accepted frame are discarded.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/model"
)

var (
	ErrRealtimeDisabled = errors.New("realtime classification disabled")
	ErrSessionActive    = errors.New("stream session already running")
	ErrStopped          = errors.New("orchestrator stopped")
)

// Classifier is the slice of model.Engine a session needs.
type Classifier interface {
	InputSize() int
	Probabilities(f *codec.Frame) (model.ProbabilityVector, error)
	Result(p model.ProbabilityVector) model.Result
}

// Config controls a live session.
type Config struct {
	Enabled       bool            // realtime classification on/off
	MinInterval   time.Duration   // minimum gap between accepted frames
	Alpha         float64         // EMA weight of the newest frame, (0, 1]
	MinConfidence float32         // smoothed top-1 below this is not delivered
	StallTimeout  time.Duration   // abandon an inference older than this; 0 waits forever
	Resampler     codec.Resampler // how camera frames are scaled to the model side
}

// DefaultConfig matches the tuning of the mobile app: ~2.5 inferences per
// second and a 60% confidence floor.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MinInterval:   400 * time.Millisecond,
		Alpha:         0.6,
		MinConfidence: 0.60,
		StallTimeout:  2 * time.Second,
		Resampler:     codec.Auto,
	}
}

func (c Config) validate() error {
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		return errors.Errorf("alpha %v outside (0, 1]", c.Alpha)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.Errorf("min confidence %v outside [0, 1]", c.MinConfidence)
	}
	if c.MinInterval < 0 || c.StallTimeout < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}

// State of an Orchestrator.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator runs at most one live session at a time over a classifier.
type Orchestrator struct {
	classifier Classifier
	cfg        Config
	log        *logrus.Entry
	now        func() time.Time

	mu      sync.Mutex
	state   State
	current *Session
}

// New validates cfg and returns an idle orchestrator.
func New(c Classifier, cfg Config, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("nil classifier")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		classifier: c,
		cfg:        cfg,
		log:        logrus.WithField("component", "stream"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Config returns the session configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Start opens a new session. The session ends on Stop or when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.state == Stopped:
		return nil, ErrStopped
	case !o.cfg.Enabled:
		return nil, ErrRealtimeDisabled
	case o.state == Running:
		return nil, ErrSessionActive
	}
	s := newSession(ctx, o.classifier, o.cfg, o.now, o.log)
	s.onEnd = func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.current == s {
			o.current = nil
			if o.state == Running {
				o.state = Idle
			}
		}
	}
	o.current = s
	o.state = Running
	s.start()
	return s, nil
}

// Shutdown stops any running session and refuses new ones. Idempotent.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.state = Stopped
	s := o.current
	o.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}
