package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/config"
	"github.com/Brownie44l1/wastewizard/internal/ensemble"
	"github.com/Brownie44l1/wastewizard/internal/handlers"
	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// projectPath resolves relative model paths against the project root, so the
// server also runs from cmd/server.
func projectPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		return p
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Join(wd, p)
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.SetupLogging()

	opts := cfg.EngineOptions()
	opts.ModelPath = projectPath(opts.ModelPath)
	opts.MetadataPath = projectPath(opts.MetadataPath)
	opts.LabelsPath = projectPath(opts.LabelsPath)

	log.WithField("path", opts.ModelPath).Info("Loading model")
	engine, err := model.Open(opts)
	if err != nil {
		log.Fatalf("Failed to initialize model: %v", err)
	}
	defer engine.Close()

	scorer, err := ensemble.NewScorer(engine, cfg.EnsembleOptions(), nil)
	if err != nil {
		log.Fatalf("Failed to initialize ensemble: %v", err)
	}
	streams, err := stream.New(engine, cfg.StreamOptions())
	if err != nil {
		log.Fatalf("Failed to initialize stream orchestrator: %v", err)
	}
	defer streams.Shutdown()

	handler := handlers.NewHandler(engine, scorer, streams, cfg.MaxUploadBytes())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/predict", enableCORS(handler.Predict))
	mux.HandleFunc("/predict/image", enableCORS(handler.PredictFromImage))
	mux.HandleFunc("/stream", handler.Stream)

	port := cfg.Server.Port
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		streams.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{
		"port":     port,
		"classes":  engine.Labels(),
		"realtime": cfg.Stream.RealtimeEnabled,
	}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("  GET  /health        - Health check and self-test")
	log.Info("  POST /predict       - Raw [1,S,S,3] tensor prediction")
	log.Info("  POST /predict/image - Predict from image upload")
	log.Info("  GET  /stream        - Live camera classification (websocket)")
	log.Infof("Upload test: curl -X POST -F \"image=@bottle.jpg\" http://localhost:%s/predict/image", port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
