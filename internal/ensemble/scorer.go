// Package ensemble classifies still images by averaging the model's answers
// over several overlapping crops.
package ensemble

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/model"
)

// Prober is the slice of model.Engine the scorer needs.
type Prober interface {
	InputSize() int
	Probabilities(f *codec.Frame) (model.ProbabilityVector, error)
	Response(p model.ProbabilityVector) *model.PredictionResponse
}

// Config of a Scorer.
type Config struct {
	CropFraction float64 // side of each crop relative to the source, (0, 1]
	Crops        int     // 3..9
	Resampler    codec.Resampler
}

const maxCrops = 9

func DefaultConfig() Config {
	return Config{CropFraction: 0.8, Crops: 3, Resampler: codec.Bilinear}
}

func (c Config) Validate() error {
	if !(c.CropFraction > 0 && c.CropFraction <= 1) {
		return errors.Errorf("crop fraction %v outside (0, 1]", c.CropFraction)
	}
	if c.Crops < 3 || c.Crops > maxCrops {
		return errors.Errorf("crops %d outside [3, %d]", c.Crops, maxCrops)
	}
	return nil
}

// Scorer runs one inference per crop and returns the mean distribution.
type Scorer struct {
	prober Prober
	cfg    Config
	log    *logrus.Entry
}

func NewScorer(p Prober, cfg Config, log *logrus.Entry) (*Scorer, error) {
	if p == nil {
		return nil, errors.New("nil prober")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.WithField("component", "ensemble")
	}
	return &Scorer{prober: p, cfg: cfg, log: log}, nil
}

// anchors orders crop placements: center first, then the two ends of the
// long axis, then the short axis, then corners.
func anchors(img image.Image, n int) []imaging.Anchor {
	b := img.Bounds()
	order := []imaging.Anchor{imaging.Center, imaging.Left, imaging.Right, imaging.Top, imaging.Bottom}
	if b.Dy() > b.Dx() {
		order = []imaging.Anchor{imaging.Center, imaging.Top, imaging.Bottom, imaging.Left, imaging.Right}
	}
	order = append(order, imaging.TopLeft, imaging.TopRight, imaging.BottomLeft, imaging.BottomRight)
	return order[:n]
}

// Crops returns the source regions that will be scored, one per anchor.
func (s *Scorer) Crops(img image.Image) ([]*image.NRGBA, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &codec.DecodeError{Reason: "empty image"}
	}
	b := img.Bounds()
	w := max(1, int(math.Round(s.cfg.CropFraction*float64(b.Dx()))))
	h := max(1, int(math.Round(s.cfg.CropFraction*float64(b.Dy()))))

	out := make([]*image.NRGBA, 0, s.cfg.Crops)
	for _, a := range anchors(img, s.cfg.Crops) {
		out = append(out, imaging.CropAnchor(img, w, h, a))
	}
	return out, nil
}

// Score returns the arithmetic mean of the per-crop probability vectors.
func (s *Scorer) Score(img image.Image, rotation int) (model.ProbabilityVector, error) {
	crops, err := s.Crops(img)
	if err != nil {
		return nil, err
	}
	size := s.prober.InputSize()

	var sum []float64
	for i, c := range crops {
		f, err := codec.FromImage(c, size, rotation, s.cfg.Resampler)
		if err != nil {
			return nil, err
		}
		p, err := s.prober.Probabilities(f)
		if err != nil {
			return nil, errors.Wrapf(err, "crop %d", i)
		}
		if sum == nil {
			sum = make([]float64, len(p))
		} else if len(p) != len(sum) {
			return nil, &model.InferenceError{Err: errors.Errorf("crop %d: %d classes, want %d", i, len(p), len(sum))}
		}
		for j, v := range p {
			sum[j] += float64(v)
		}
	}

	mean := make(model.ProbabilityVector, len(sum))
	for j, v := range sum {
		mean[j] = float32(v / float64(len(crops)))
	}
	s.log.WithField("crops", len(crops)).Debug("ensemble scored")
	return mean, nil
}

// Classify scores img and formats the answer.
func (s *Scorer) Classify(img image.Image, rotation int) (*model.PredictionResponse, error) {
	p, err := s.Score(img, rotation)
	if err != nil {
		return nil, err
	}
	return s.prober.Response(p), nil
}
