// Package server exposes the generation pipeline over HTTP: submit a job,
// poll its task, download the result.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"reelforge/internal/taskstore"
	"reelforge/internal/types"
	"reelforge/internal/usecase"
)

// Generation jobs are long; the worker context is bounded rather than tied to
// the submit request, which returns immediately.
const taskTimeout = 30 * time.Minute

const maxUploadBytes = 100 << 20

var allowedAudioExt = map[string]bool{
	".mp3": true,
	".wav": true,
	".m4a": true,
	".aac": true,
}

// Runner executes one generation job. Injected so handler tests do not need a
// real pipeline.
type Runner func(ctx context.Context, in usecase.Input) (usecase.Result, error)

type Options struct {
	TempDir      string
	OutputDir    string
	MaxTasks     int
	BurnCaptions bool
	WordsPerCard int
}

type Server struct {
	store *taskstore.Store
	run   Runner
	opts  Options
	sem   chan struct{}
	log   *slog.Logger
}

func New(store *taskstore.Store, run Runner, opts Options, log *slog.Logger) *Server {
	if opts.MaxTasks < 1 {
		opts.MaxTasks = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: store,
		run:   run,
		opts:  opts,
		sem:   make(chan struct{}, opts.MaxTasks),
		log:   log,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/generate-video", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/task/{id}", s.handleTask).Methods(http.MethodGet)
	r.HandleFunc("/download/{id}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)

	return handlers.RecoveryHandler()(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	// Reject before doing any upload work when the worker slots are full.
	select {
	case s.sem <- struct{}{}:
	default:
		writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}
	release := func() { <-s.sem }

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		release()
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		release()
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAudioExt[ext] {
		release()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported audio format %q", ext))
		return
	}

	task := s.store.Create()
	taskDir := filepath.Join(s.opts.TempDir, task.ID)
	audioPath := filepath.Join(taskDir, "audio"+ext)
	if err := saveUpload(file, audioPath); err != nil {
		release()
		s.store.Fail(task.ID, "failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	in := usecase.Input{
		AudioPath:     audioPath,
		ScriptText:    r.FormValue("script_text"),
		CategoryHints: parseHints(r.FormValue("categories")),
		BurnCaptions:  s.opts.BurnCaptions,
		WordsPerCard:  s.opts.WordsPerCard,
		TempDir:       taskDir,
		OutputPath:    filepath.Join(s.opts.OutputDir, task.ID+".mp4"),
	}
	if v := r.FormValue("burn_captions"); v != "" {
		in.BurnCaptions = v == "true" || v == "1"
	}

	go s.runTask(task.ID, in, release)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": task.ID,
		"status":  types.StatusPending,
		"message": "generation started",
	})
}

func (s *Server) runTask(id string, in usecase.Input, release func()) {
	defer release()
	defer os.RemoveAll(in.TempDir)

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	_ = s.store.Update(id, func(t *types.Task) {
		t.Status = types.StatusProcessing
		t.Progress = "starting"
	})
	in.Progress = func(m string) { s.store.Progress(id, m) }

	res, err := s.run(ctx, in)
	if err != nil {
		s.log.Error("task failed", "task_id", id, "err", err)
		s.store.Fail(id, err.Error())
		return
	}
	s.log.Info("task completed", "task_id", id, "output", res.OutputPath, "segments", len(res.Segments))
	s.store.Complete(id, res.OutputPath)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":      task.ID,
		"status":       task.Status,
		"progress":     task.Progress,
		"error":        task.Error,
		"output_file":  task.OutputFile,
		"created_at":   task.CreatedAt,
		"completed_at": task.CompletedAt,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.Status != types.StatusCompleted {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("task is %s, not completed", task.Status))
		return
	}
	if _, err := os.Stat(task.OutputFile); err != nil {
		writeError(w, http.StatusNotFound, "output file no longer exists")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(task.OutputFile)))
	http.ServeFile(w, r, task.OutputFile)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_tasks": s.store.Active(),
		"max_tasks":    s.opts.MaxTasks,
	})
}

// parseHints accepts a JSON array of category names; anything else is treated
// as no hints.
func parseHints(raw string) []string {
	if raw == "" {
		return nil
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return nil
	}
	var hints []string
	for _, v := range parsed.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			hints = append(hints, s)
		}
	}
	return hints
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, src)
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
