package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reelforge/internal/domain/assets"
	"reelforge/internal/domain/captions"
	"reelforge/internal/domain/plan"
	"reelforge/internal/domain/timeline"
	"reelforge/internal/ports"
	"reelforge/internal/types"
)

const (
	fallbackAudioSeconds = 10.0
	averageClipSeconds   = 2.5
)

type Deps struct {
	Tool     ports.MediaTool
	ASR      ports.Transcriber
	Planner  ports.Planner
	Library  *assets.Library
	Compiler *timeline.Compiler
}

type Usecase struct {
	d    Deps
	logf func(format string, args ...any)
}

func New(d Deps, logf func(string, ...any)) Usecase {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return Usecase{d: d, logf: logf}
}

type Input struct {
	AudioPath string
	// ScriptText, when set, skips transcription entirely.
	ScriptText string
	// CategoryHints bypasses the planner with an even split over the hints.
	CategoryHints []string
	BurnCaptions  bool
	WordsPerCard  int
	TempDir       string
	OutputPath    string
	// Progress receives human-readable step descriptions.
	Progress func(message string)
}

type Result struct {
	OutputPath   string
	AudioSeconds float64
	Transcript   string
	Segments     []types.CutInstruction
}

// Run executes one generation job end to end: probe the audio, obtain a
// transcript, plan the category distribution, select sources, compile the
// timeline, mux the audio and optionally burn captions. Each step is strictly
// sequential; only zero-source and merge failures are fatal.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	progress := in.Progress
	if progress == nil {
		progress = func(string) {}
	}

	progress("probing audio duration")
	audioSec := timeline.ProbeOrDefault(ctx, u.d.Tool, in.AudioPath, fallbackAudioSeconds)
	u.logf("audio duration: %.1fs", audioSec)

	transcript, err := u.transcript(ctx, in, progress)
	if err != nil {
		return Result{}, err
	}

	progress("planning clip distribution")
	dist := u.distribution(ctx, in, transcript, audioSec)

	progress("selecting footage")
	sources, sourceCategory, windows, err := u.selectSources(dist, audioSec)
	if err != nil {
		return Result{}, err
	}

	progress("preparing vertical sources")
	sources = u.convertVertical(ctx, in.TempDir, sources, sourceCategory)

	progress("compiling timeline")
	compiled, err := u.d.Compiler.Compile(ctx, timeline.Request{
		Sources:        sources,
		TargetSeconds:  audioSec,
		Windows:        windows,
		SourceCategory: sourceCategory,
		WorkDir:        in.TempDir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("compile timeline: %w", err)
	}

	progress("merging audio")
	merged := filepath.Join(in.TempDir, "merged.mp4")
	if err := u.d.Tool.MuxAudio(ctx, compiled.Path, in.AudioPath, audioSec, merged); err != nil {
		return Result{}, fmt.Errorf("mux audio: %w", err)
	}

	final := merged
	if in.BurnCaptions && strings.TrimSpace(transcript) != "" {
		progress("burning captions")
		final = u.burnCaptions(ctx, in, transcript, audioSec, merged)
	}

	progress("finalizing output")
	if err := os.MkdirAll(filepath.Dir(in.OutputPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := moveFile(final, in.OutputPath); err != nil {
		return Result{}, fmt.Errorf("move output: %w", err)
	}

	return Result{
		OutputPath:   in.OutputPath,
		AudioSeconds: audioSec,
		Transcript:   transcript,
		Segments:     compiled.Instructions,
	}, nil
}

// transcript returns the supplied script text, or transcribes the audio.
// Transcription failure without a script is fatal: the planner and captions
// have nothing to work with.
func (u Usecase) transcript(ctx context.Context, in Input, progress func(string)) (string, error) {
	if s := strings.TrimSpace(in.ScriptText); s != "" {
		return s, nil
	}
	if u.d.ASR == nil {
		return "", nil
	}

	progress("transcribing audio")
	wav := filepath.Join(in.TempDir, "audio16k.wav")
	if err := u.d.Tool.ExtractAudioMono16k(ctx, in.AudioPath, wav); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	text, err := u.d.ASR.Transcribe(ctx, wav, in.TempDir)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return text, nil
}

// distribution asks the planner for a category plan, or builds one from the
// caller's hints. The planner is fail-soft past its own boundary, so an error
// here still degrades to the single-category fallback.
func (u Usecase) distribution(ctx context.Context, in Input, transcript string, audioSec float64) types.Distribution {
	cats := u.d.Library.Categories()
	if len(in.CategoryHints) > 0 {
		return plan.FromHints(in.CategoryHints, cats, audioSec, averageClipSeconds)
	}
	if u.d.Planner == nil || strings.TrimSpace(transcript) == "" {
		return plan.Fallback(cats, audioSec, averageClipSeconds)
	}
	dist, err := u.d.Planner.Plan(ctx, transcript, audioSec, cats)
	if err != nil {
		u.logf("planner failed, using fallback: %v", err)
		return plan.Fallback(cats, audioSec, averageClipSeconds)
	}
	return dist
}

// selectSources resolves the distribution into concrete source files. A
// category yielding nothing is skipped; an entirely empty selection falls back
// to the whole library, and only a truly empty library is fatal.
func (u Usecase) selectSources(dist types.Distribution, audioSec float64) ([]string, map[string]string, map[string][]types.Window, error) {
	var sources []string
	sourceCategory := map[string]string{}
	windows := map[string][]types.Window{}

	for _, e := range dist.Entries {
		picked := u.d.Library.Select(e.Category, e.Clips, 0)
		if len(picked) == 0 {
			u.logf("no footage for category %q, skipping", e.Category)
			continue
		}
		for _, a := range picked {
			sources = append(sources, a.LocalPath)
			sourceCategory[a.LocalPath] = e.Category
		}
		if len(e.Windows) > 0 {
			windows[e.Category] = e.Windows
		}
	}

	if len(sources) == 0 {
		u.logf("no category produced footage, drawing from the whole library")
		for _, a := range u.d.Library.SelectAny(audioSec) {
			sources = append(sources, a.LocalPath)
		}
		windows = map[string][]types.Window{}
	}
	if len(sources) == 0 {
		return nil, nil, nil, fmt.Errorf("no video sources available")
	}
	return sources, sourceCategory, windows, nil
}

// convertVertical reformats each source to 720x1280. A failed conversion keeps
// the original file: the segment cut still works, just without the crop.
func (u Usecase) convertVertical(ctx context.Context, tempDir string, sources []string, sourceCategory map[string]string) []string {
	out := make([]string, 0, len(sources))
	for i, src := range sources {
		dst := filepath.Join(tempDir, fmt.Sprintf("vert_%02d.mp4", i))
		if err := u.d.Tool.ConvertVertical(ctx, src, dst); err != nil {
			u.logf("vertical convert failed for %s, using original: %v", filepath.Base(src), err)
			out = append(out, src)
			continue
		}
		if cat, ok := sourceCategory[src]; ok {
			sourceCategory[dst] = cat
		}
		out = append(out, dst)
	}
	return out
}

// burnCaptions writes the SRT and burns it in. Captions are an enhancement:
// any failure falls back to the uncaptioned merge.
func (u Usecase) burnCaptions(ctx context.Context, in Input, transcript string, audioSec float64, merged string) string {
	srt := filepath.Join(in.TempDir, "captions.srt")
	ok, err := captions.WriteSRT(srt, transcript, audioSec, in.WordsPerCard)
	if err != nil || !ok {
		if err != nil {
			u.logf("caption srt failed: %v", err)
		}
		return merged
	}
	captioned := filepath.Join(in.TempDir, "captioned.mp4")
	if err := u.d.Tool.BurnSubtitles(ctx, merged, srt, captioned); err != nil {
		u.logf("caption burn failed, keeping uncaptioned output: %v", err)
		return merged
	}
	return captioned
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
