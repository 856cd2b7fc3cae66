package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/model"
)

// Ticket tells the producer what happened to a submitted frame.
type Ticket struct {
	Token    uint64
	Accepted bool
}

// Delivery is a stabilized classification. Each one replaces the previous
// answer; it is not an increment.
type Delivery struct {
	Token         uint64
	Result        model.Result
	Probabilities model.ProbabilityVector // smoothed
	At            time.Time
}

// Stats counts what happened to frames and results over a session.
type Stats struct {
	Accepted   uint64 `json:"accepted"`   // frames handed to the worker
	Dropped    uint64 `json:"dropped"`    // frames refused: too early or inference in flight
	Superseded uint64 `json:"superseded"` // accepted frames replaced in the worker mailbox before running
	Abandoned  uint64 `json:"abandoned"`  // inferences given up on after StallTimeout
	Stale      uint64 `json:"stale"`      // results discarded because a newer frame was accepted
	Failed     uint64 `json:"failed"`     // decode or inference errors, swallowed
	Suppressed uint64 `json:"suppressed"` // results under MinConfidence
	Delivered  uint64 `json:"delivered"`
}

type submission struct {
	src   codec.Source
	reply chan Ticket
}

type job struct {
	token uint64
	src   codec.Source
}

type outcome struct {
	token uint64
	probs model.ProbabilityVector
	err   error
}

// Session is one live capture. Producers call Submit, the consumer reads
// Results.
type Session struct {
	ID string

	classifier Classifier
	cfg        Config
	smoother   *Smoother
	now        func() time.Time
	log        *logrus.Entry

	inbox   chan submission
	jobs    chan job // single-slot mailbox, written by the actor only
	results chan outcome
	out     chan Delivery // single-slot, written by the actor only

	ctx        context.Context
	cancel     context.CancelFunc
	actorDone  chan struct{}
	workerDone chan struct{}
	stopOnce   sync.Once
	onEnd      func()

	accepted, dropped, superseded, abandoned atomic.Uint64
	stale, failed, suppressed, delivered     atomic.Uint64
}

func newSession(ctx context.Context, c Classifier, cfg Config, now func() time.Time, log *logrus.Entry) *Session {
	// alpha was validated with the config
	smoother, _ := NewSmoother(cfg.Alpha)
	id := uuid.NewString()
	s := &Session{
		ID:         id,
		classifier: c,
		cfg:        cfg,
		smoother:   smoother,
		now:        now,
		log:        log.WithField("session", id),
		inbox:      make(chan submission),
		jobs:       make(chan job, 1),
		results:    make(chan outcome),
		out:        make(chan Delivery, 1),
		actorDone:  make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

func (s *Session) start() {
	s.log.Info("stream session started")
	go s.work()
	go s.run()
}

// Submit offers a frame. It returns promptly: the frame is either accepted
// with a fresh token or dropped. After Stop nothing is accepted.
func (s *Session) Submit(src codec.Source) Ticket {
	reply := make(chan Ticket, 1)
	select {
	case s.inbox <- submission{src: src, reply: reply}:
	case <-s.ctx.Done():
		return Ticket{}
	}
	select {
	case t := <-reply:
		return t
	case <-s.actorDone:
		return Ticket{}
	}
}

// Results yields deliveries in token order. Only the latest undelivered one is
// kept. The channel is closed when the session ends.
func (s *Session) Results() <-chan Delivery { return s.out }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.actorDone }

// Stop ends the session. Any in-flight inference finishes in the background
// and its result is dropped; nothing is delivered once Stop returns. Safe to
// call more than once and from several goroutines.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.actorDone
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	return Stats{
		Accepted:   s.accepted.Load(),
		Dropped:    s.dropped.Load(),
		Superseded: s.superseded.Load(),
		Abandoned:  s.abandoned.Load(),
		Stale:      s.stale.Load(),
		Failed:     s.failed.Load(),
		Suppressed: s.suppressed.Load(),
		Delivered:  s.delivered.Load(),
	}
}

// run is the actor. It alone touches token, timing and smoothing state.
func (s *Session) run() {
	defer close(s.actorDone)
	defer s.finish()

	var (
		token        uint64
		inFlight     bool
		dispatchedAt time.Time
		lastAccepted time.Time
		anyAccepted  bool
	)
	for {
		select {
		case <-s.ctx.Done():
			return

		case sub := <-s.inbox:
			now := s.now()
			if inFlight && s.cfg.StallTimeout > 0 && now.Sub(dispatchedAt) >= s.cfg.StallTimeout {
				s.abandoned.Add(1)
				s.log.WithField("token", token).Warn("inference stalled, abandoning it")
				inFlight = false
			}
			if inFlight || (anyAccepted && now.Sub(lastAccepted) < s.cfg.MinInterval) {
				s.dropped.Add(1)
				sub.reply <- Ticket{}
				continue
			}
			token++
			inFlight, anyAccepted = true, true
			dispatchedAt, lastAccepted = now, now
			s.accepted.Add(1)
			s.dispatch(job{token: token, src: sub.src})
			sub.reply <- Ticket{Token: token, Accepted: true}

		case r := <-s.results:
			if r.token != token {
				s.stale.Add(1)
				s.log.WithFields(logrus.Fields{"token": r.token, "current": token}).Debug("discarding stale result")
				continue
			}
			inFlight = false
			if r.err != nil {
				s.failed.Add(1)
				s.log.WithError(r.err).WithField("token", r.token).Debug("frame skipped")
				continue
			}
			smoothed := s.smoother.Update(r.probs)
			if _, _, ok := Stable(smoothed, s.cfg.MinConfidence); !ok {
				s.suppressed.Add(1)
				continue
			}
			s.deliver(Delivery{
				Token:         r.token,
				Result:        s.classifier.Result(smoothed),
				Probabilities: smoothed,
				At:            s.now(),
			})
		}
	}
}

// dispatch puts j in the worker mailbox, replacing a job the worker has not
// picked up yet.
func (s *Session) dispatch(j job) {
	select {
	case s.jobs <- j:
		return
	default:
	}
	select {
	case <-s.jobs:
		s.superseded.Add(1)
	default:
	}
	s.jobs <- j
}

// deliver keeps only the newest delivery if the consumer lags.
func (s *Session) deliver(d Delivery) {
	s.delivered.Add(1)
	select {
	case s.out <- d:
	default:
		select {
		case <-s.out:
		default:
		}
		s.out <- d
	}
}

// finish runs on the actor as it exits: pending deliveries are withdrawn and
// the smoothing state released.
func (s *Session) finish() {
	select {
	case <-s.out:
	default:
	}
	close(s.out)
	s.smoother.Reset()
	s.log.WithField("stats", s.Stats()).Info("stream session ended")
	if s.onEnd != nil {
		s.onEnd()
	}
}

// work is the single inference worker.
func (s *Session) work() {
	defer close(s.workerDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			probs, err := s.infer(j.src)
			select {
			case s.results <- outcome{token: j.token, probs: probs, err: err}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) infer(src codec.Source) (probs model.ProbabilityVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &model.InferenceError{Err: errors.Errorf("panic: %v", r)}
		}
	}()
	frame, err := src.Decode(s.classifier.InputSize(), s.cfg.Resampler)
	if err != nil {
		return nil, err
	}
	return s.classifier.Probabilities(frame)
}
