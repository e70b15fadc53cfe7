// Package pipeline is the composition root: it wires the ffmpeg, whisper.cpp
// and Gemini adapters into the generation usecase and exposes the two entry
// points, a one-shot CLI generation and the HTTP server.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/config"
	"reelforge/internal/domain/assets"
	"reelforge/internal/domain/timeline"
	"reelforge/internal/ports"
	"reelforge/internal/ports/adapters/ffmpeg"
	"reelforge/internal/ports/adapters/gemini"
	"reelforge/internal/ports/adapters/whispercpp"
	"reelforge/internal/server"
	"reelforge/internal/taskstore"
	"reelforge/internal/usecase"
)

const averageClipSeconds = 2.5

type Pipeline struct {
	cfg   config.Config
	uc    usecase.Usecase
	store *taskstore.Store
	log   *slog.Logger
}

// Build validates the config and assembles the adapters. Without a Gemini key
// the planner is left nil and every run uses the single-category fallback.
func Build(cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	tool := ffmpeg.New(cfg.FFmpegPath)

	var asr ports.Transcriber
	if cfg.WhisperBin != "" && cfg.WhisperModel != "" {
		asr = whispercpp.New(cfg.WhisperBin, cfg.WhisperModel)
	}

	var planner ports.Planner
	if cfg.GeminiAPIKey != "" {
		planner = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, averageClipSeconds)
	} else {
		log.Warn("GEMINI_API_KEY not set, category planning disabled")
	}

	logf := func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	uc := usecase.New(usecase.Deps{
		Tool:     tool,
		ASR:      asr,
		Planner:  planner,
		Library:  assets.NewLibrary(cfg.AssetRoot, rng),
		Compiler: timeline.New(tool, rng, timeline.DefaultPolicy(), logf),
	}, logf)

	return &Pipeline{cfg: cfg, uc: uc, store: taskstore.New(), log: log}, nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (p *Pipeline) Serve(ctx context.Context) error {
	for _, dir := range []string{p.cfg.TempDir, p.cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	srv := server.New(p.store, p.uc.Run, server.Options{
		TempDir:      p.cfg.TempDir,
		OutputDir:    p.cfg.OutputDir,
		MaxTasks:     p.cfg.MaxConcurrentTasks,
		BurnCaptions: p.cfg.BurnCaptions,
		WordsPerCard: p.cfg.WordsPerCaption,
	}, p.log)

	hs := &http.Server{
		Addr:              ":" + p.cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	p.log.Info("listening", "addr", hs.Addr, "asset_root", p.cfg.AssetRoot)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type GenerateInput struct {
	AudioPath     string
	ScriptText    string
	CategoryHints []string
	OutputPath    string
}

// Generate runs one job synchronously, for the CLI surface.
func (p *Pipeline) Generate(ctx context.Context, in GenerateInput) (usecase.Result, error) {
	if _, err := os.Stat(in.AudioPath); err != nil {
		return usecase.Result{}, fmt.Errorf("stat audio: %w", err)
	}

	tempDir := filepath.Join(p.cfg.TempDir, uuid.NewString())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return usecase.Result{}, err
	}
	defer os.RemoveAll(tempDir)

	out := in.OutputPath
	if out == "" {
		out = filepath.Join(p.cfg.OutputDir, time.Now().UTC().Format("reel-20060102-150405Z")+".mp4")
	}

	return p.uc.Run(ctx, usecase.Input{
		AudioPath:     in.AudioPath,
		ScriptText:    in.ScriptText,
		CategoryHints: in.CategoryHints,
		BurnCaptions:  p.cfg.BurnCaptions,
		WordsPerCard:  p.cfg.WordsPerCaption,
		TempDir:       tempDir,
		OutputPath:    out,
		Progress: func(m string) {
			p.log.Info(m)
		},
	})
}

var _ ports.MediaTool = (*ffmpeg.Adapter)(nil)
var _ ports.Transcriber = (*whispercpp.Adapter)(nil)
var _ ports.Planner = (*gemini.Adapter)(nil)
