package zmq_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/ingest"
	"github.com/Brownie44l1/wastewizard/internal/ingest/zmq"
)

func TestStreamReceivesFromSender(t *testing.T) {
	const endpoint = "inproc://wastecam-frames"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := zmq.Stream(ctx, endpoint, nil)
	if err != nil {
		t.Fatal(err)
	}
	sender, err := zmq.Dial(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	msg := &ingest.FrameMessage{
		Format: ingest.FormatRGBA, Width: 2, Height: 2,
		Data: bytes.Repeat([]byte{40, 80, 120, 255}, 4),
	}
	var src codec.Source
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for src == nil {
		select {
		case src = <-frames:
		case <-tick.C:
			if err := sender.Send(msg); err != nil && err != zmq.ErrBusy {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no frame received")
		}
	}
	f, err := src.Decode(2, codec.Nearest)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b := f.RGB(1, 1); r != 40 || g != 80 || b != 120 {
		t.Errorf("pixel = %d,%d,%d", r, g, b)
	}

	cancel()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream not closed after cancel")
		}
	}
}
