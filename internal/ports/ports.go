package ports

import (
	"context"

	"reelforge/internal/types"
)

// MediaTool wraps every external media binary invocation so scheduling logic
// can be tested against a fake.
type MediaTool interface {
	// ProbeDuration returns the media duration in seconds. Callers treat
	// failure as soft and substitute a fallback value.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractAudioMono16k(ctx context.Context, in, outWav string) error
	ConvertVertical(ctx context.Context, in, out string) error
	// CutSegment re-encodes [startSec, startSec+durSec) of src into out with
	// audio stripped and a fixed frame rate.
	CutSegment(ctx context.Context, src string, startSec, durSec float64, out string) error
	// Concat joins the files named in listFile (concat demuxer list) into out.
	Concat(ctx context.Context, listFile, out string) error
	// MuxAudio combines video and audio; the output duration equals audioSec.
	MuxAudio(ctx context.Context, video, audio string, audioSec float64, out string) error
	BurnSubtitles(ctx context.Context, video, srt, out string) error
}

// Transcriber turns a mono 16k WAV into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) (string, error)
}

// Planner distributes the voiceover across library categories. Model or parse
// trouble never surfaces as an error: implementations fall back to a default
// distribution.
type Planner interface {
	Plan(ctx context.Context, transcript string, audioSec float64, categories []types.CategoryInfo) (types.Distribution, error)
}
