package handlers

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/ensemble"
	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

type Handler struct {
	engine    *model.Engine
	scorer    *ensemble.Scorer
	streams   *stream.Orchestrator
	maxUpload int64
	selfTest  SelfTestStatus
	upgrader  websocket.Upgrader
	log       *logrus.Entry
}

// SelfTestStatus is the startup check reported by /health.
type SelfTestStatus struct {
	OK         bool    `json:"ok"`
	Class      string  `json:"class,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// NewHandler runs the engine self-test once and serves the HTTP surface.
func NewHandler(engine *model.Engine, scorer *ensemble.Scorer, streams *stream.Orchestrator, maxUpload int64) *Handler {
	h := &Handler{
		engine:    engine,
		scorer:    scorer,
		streams:   streams,
		maxUpload: maxUpload,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "handlers"),
	}
	res, err := engine.SelfTest()
	if err != nil {
		h.log.WithError(err).Error("self-test failed")
		h.selfTest = SelfTestStatus{Error: err.Error()}
	} else {
		h.log.WithFields(logrus.Fields{"class": res.Label, "confidence": res.Confidence}).Info("self-test passed")
		h.selfTest = SelfTestStatus{OK: true, Class: res.Label, Confidence: res.Confidence}
	}
	return h
}

// SelfTest returns the startup check result.
func (h *Handler) SelfTest() SelfTestStatus { return h.selfTest }

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var de *codec.DecodeError
	var ie *model.InferenceError
	switch {
	case errors.As(err, &de):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &ie):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := "Classification failed, try another photo"
	switch code {
	case http.StatusBadRequest:
		msg = "Could not read image: " + err.Error()
	case http.StatusServiceUnavailable:
		msg = "Model unavailable"
	}
	h.log.WithError(err).WithField("status", code).Warn("request failed")
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.selfTest.OK {
		status = "degraded"
	}
	cfg := h.streams.Config()
	writeJSON(w, map[string]any{
		"status":      status,
		"classes":     h.engine.Labels(),
		"num_classes": h.engine.NumClasses(),
		"input_size":  h.engine.InputSize(),
		"self_test":   h.selfTest,
		"stream":      h.streams.State().String(),
		"realtime": map[string]any{
			"enabled":         cfg.Enabled,
			"min_interval_ms": cfg.MinInterval.Milliseconds(),
			"min_confidence":  cfg.MinConfidence,
		},
	})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	size := h.engine.InputSize()
	if expected := size * size * 3; len(req.Image) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	probs, err := h.engine.InferRaw(req.Image)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, h.engine.Response(probs))
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	rotation := 0
	if v := r.FormValue("rotation"); v != "" {
		if rotation, err = strconv.Atoi(v); err != nil {
			http.Error(w, "rotation must be 0, 90, 180 or 270", http.StatusBadRequest)
			return
		}
	}

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, WebP, BMP", http.StatusBadRequest)
		return
	}

	h.log.WithFields(logrus.Fields{
		"file":   header.Filename,
		"bytes":  header.Size,
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("classifying upload")

	resp, err := h.scorer.Classify(img, rotation)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, resp)
}
