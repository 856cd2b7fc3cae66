// Command wastecam classifies a live feed from the terminal. Frames come from
// a local camera (OpenCV) or from remote producers over ZeroMQ; with -push the
// camera frames are forwarded to a remote wastecam instead.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/config"
	"github.com/Brownie44l1/wastewizard/internal/ingest"
	"github.com/Brownie44l1/wastewizard/internal/ingest/zmq"
	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

func main() {
	source := flag.String("source", "camera", "frame source: camera or zmq")
	device := flag.String("device", "0", "camera index, file or stream URL")
	rotation := flag.Int("rotation", 0, "clockwise camera rotation in degrees")
	push := flag.String("push", "", "forward camera frames to this ZeroMQ endpoint instead of classifying")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *push != "" {
		if err := forward(ctx, *device, *push, *rotation); err != nil {
			log.Fatal(err)
		}
		return
	}

	engine, err := model.Open(cfg.EngineOptions())
	if err != nil {
		log.Fatalf("Failed to initialize model: %v", err)
	}
	defer engine.Close()

	streams, err := stream.New(engine, cfg.StreamOptions())
	if err != nil {
		log.Fatalf("Failed to initialize stream orchestrator: %v", err)
	}
	defer streams.Shutdown()
	session, err := streams.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range session.Results() {
			log.WithFields(log.Fields{
				"token":      d.Token,
				"class":      d.Result.Label,
				"confidence": d.Result.Confidence,
			}).Info("classified")
		}
	}()

	switch *source {
	case "camera":
		err = capture(ctx, *device, func(img gocv.Mat) error {
			rgb, err := img.ToImage()
			if err != nil {
				return err
			}
			session.Submit(codec.Bitmap{Image: rgb, Rotation: *rotation})
			return nil
		})
	case "zmq":
		var frames <-chan codec.Source
		frames, err = zmq.Stream(ctx, cfg.Ingest.ZMQEndpoint, nil)
		if err == nil {
			for src := range frames {
				session.Submit(src)
			}
		}
	default:
		err = errors.Errorf("unknown source %q", *source)
	}

	session.Stop()
	<-done
	log.WithField("stats", session.Stats()).Info("session finished")
	if err != nil {
		log.Fatal(err)
	}
}

func openCapture(device string) (*gocv.VideoCapture, error) {
	if id, err := strconv.Atoi(device); err == nil {
		return gocv.VideoCaptureDevice(id)
	}
	return gocv.VideoCaptureFile(device)
}

// capture reads frames until ctx is done or the device fails.
func capture(ctx context.Context, device string, handle func(gocv.Mat) error) error {
	webcam, err := openCapture(device)
	if err != nil {
		return errors.Wrapf(err, "failed to open capture device %s", device)
	}
	defer webcam.Close()
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	img := gocv.NewMat()
	defer img.Close()

	log.WithField("device", device).Info("capturing")
	for ctx.Err() == nil {
		if ok := webcam.Read(&img); !ok {
			return errors.Errorf("cannot read device %s", device)
		}
		if img.Empty() {
			continue
		}
		if err := handle(img); err != nil {
			log.WithError(err).Debug("frame skipped")
		}
	}
	return nil
}

// forward ships camera frames as JPEG messages.
func forward(ctx context.Context, device, endpoint string, rotation int) error {
	sender, err := zmq.Dial(endpoint)
	if err != nil {
		return err
	}
	defer sender.Close()

	var sent, dropped int
	defer func() {
		log.WithFields(log.Fields{"sent": sent, "dropped": dropped}).Info("forwarding finished")
	}()
	return capture(ctx, device, func(img gocv.Mat) error {
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			return err
		}
		defer buf.Close()
		err = sender.Send(&ingest.FrameMessage{
			Format:   ingest.FormatJPEG,
			Rotation: rotation,
			Data:     buf.GetBytes(),
		})
		if errors.Is(err, zmq.ErrBusy) {
			dropped++
			return nil
		}
		if err == nil {
			sent++
		}
		return err
	})
}
