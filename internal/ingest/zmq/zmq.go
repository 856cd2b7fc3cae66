// Package zmq carries frame messages over ZeroMQ PUSH/PULL sockets.
package zmq

import (
	"context"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/ingest"
)

// pollEvery bounds how long a blocked receive can delay shutdown.
const pollEvery = 250 * time.Millisecond

func isTimeout(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

// Stream binds a PULL socket on endpoint and yields a source per frame
// message. Malformed messages are logged and skipped. The channel is closed
// when ctx is done.
func Stream(ctx context.Context, endpoint string, log *logrus.Entry) (<-chan codec.Source, error) {
	if log == nil {
		log = logrus.WithField("component", "ingest")
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PULL socket")
	}
	if err := socket.SetRcvtimeo(pollEvery); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, "failed to set receive timeout")
	}
	// Only the newest frames matter; don't let libzmq queue a backlog.
	if err := socket.SetRcvhwm(2); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, "failed to set receive high water mark")
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrapf(err, "failed to bind %s", endpoint)
	}
	log = log.WithField("endpoint", endpoint)
	log.Info("listening for frames")

	out := make(chan codec.Source, 1)
	go func() {
		defer close(out)
		defer socket.Close()

		var skipped int
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if !isTimeout(err) {
					log.WithError(err).Warn("receive failed")
				}
				continue
			}
			src, err := ingest.DecodeMessage(msg)
			if err != nil {
				skipped++
				log.WithError(err).WithField("skipped", skipped).Debug("skipping frame message")
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- src:
			}
		}
	}()
	return out, nil
}

// Sender pushes frame messages to a Stream.
type Sender struct {
	socket *zmq4.Socket
}

// Dial connects a PUSH socket to endpoint.
func Dial(endpoint string) (*Sender, error) {
	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PUSH socket")
	}
	if err := socket.SetSndhwm(2); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, "failed to set send high water mark")
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, errors.Wrap(err, "failed to set linger")
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, errors.Wrapf(err, "failed to connect %s", endpoint)
	}
	return &Sender{socket: socket}, nil
}

// Send queues m without blocking. ErrBusy means the frame was dropped
// because the receiver is behind or absent.
func (s *Sender) Send(m *ingest.FrameMessage) error {
	b, err := m.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to encode frame")
	}
	if _, err := s.socket.SendBytes(b, zmq4.DONTWAIT); err != nil {
		if isTimeout(err) {
			return ErrBusy
		}
		return errors.Wrap(err, "send failed")
	}
	return nil
}

func (s *Sender) Close() error { return s.socket.Close() }

// ErrBusy is returned by Send when the frame could not be queued.
var ErrBusy = errors.New("receiver busy, frame dropped")
