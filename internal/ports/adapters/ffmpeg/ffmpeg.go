package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	videoWidth  = 720
	videoHeight = 1280

	probeTimeout   = 10 * time.Second
	cutTimeout     = 60 * time.Second
	convertTimeout = 120 * time.Second
	muxTimeout     = 120 * time.Second
	concatTimeout  = 300 * time.Second
	burnTimeout    = 180 * time.Second
)

type Adapter struct {
	ffmpeg string
}

func New(ffmpegPath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Adapter{ffmpeg: ffmpegPath}
}

var durationRE = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ProbeDuration scrapes the Duration token from ffmpeg's diagnostic output.
// ffmpeg exits non-zero without an output file, so the exit code is ignored
// and only the parse result matters.
func (a *Adapter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.ffmpeg, "-i", path)
	b, _ := cmd.CombinedOutput()
	sec, err := parseDuration(string(b))
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return sec, nil
}

func parseDuration(out string) (float64, error) {
	m := durationRE.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no duration token in ffmpeg output")
	}
	h, _ := strconv.ParseFloat(m[1], 64)
	min, _ := strconv.ParseFloat(m[2], 64)
	s, _ := strconv.ParseFloat(m[3], 64)
	return h*3600 + min*60 + s, nil
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, in, outWav string) error {
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	return a.run(ctx, "extract audio",
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
}

func (a *Adapter) ConvertVertical(ctx context.Context, in, out string) error {
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		videoWidth, videoHeight, videoWidth, videoHeight)
	return a.run(ctx, "convert vertical",
		"-y",
		"-i", in,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		"-c:a", "aac", "-b:a", "128k",
		out,
	)
}

func (a *Adapter) CutSegment(ctx context.Context, src string, startSec, durSec float64, out string) error {
	ctx, cancel := context.WithTimeout(ctx, cutTimeout)
	defer cancel()

	return a.run(ctx, "cut segment",
		"-y",
		"-ss", fmtSeconds(startSec),
		"-i", src,
		"-t", fmtSeconds(durSec),
		"-an",
		"-r", "30",
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		out,
	)
}

func (a *Adapter) Concat(ctx context.Context, listFile, out string) error {
	ctx, cancel := context.WithTimeout(ctx, concatTimeout)
	defer cancel()

	return a.run(ctx, "concat",
		"-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-an",
		"-r", "30",
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		out,
	)
}

// MuxAudio loops the video stream so a slightly short timeline still covers
// the audio, then clamps the output to the audio duration.
func (a *Adapter) MuxAudio(ctx context.Context, video, audio string, audioSec float64, out string) error {
	ctx, cancel := context.WithTimeout(ctx, muxTimeout)
	defer cancel()

	return a.run(ctx, "mux audio",
		"-y",
		"-stream_loop", "-1",
		"-i", video,
		"-i", audio,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "libx264", "-preset", "ultrafast", "-crf", "28",
		"-c:a", "aac", "-b:a", "128k",
		"-shortest",
		"-t", fmtSeconds(audioSec),
		out,
	)
}

func (a *Adapter) BurnSubtitles(ctx context.Context, video, srt, out string) error {
	ctx, cancel := context.WithTimeout(ctx, burnTimeout)
	defer cancel()

	vf := "subtitles=" + escapeFilterPath(srt) + ":force_style='" +
		"FontName=Arial,FontSize=24,Bold=0," +
		"PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000," +
		"BorderStyle=1,Outline=2,Shadow=0," +
		"BackColour=&H00000000,Alignment=2,MarginV=30'"
	return a.run(ctx, "burn subtitles",
		"-y",
		"-i", video,
		"-vf", vf,
		"-c:a", "copy",
		out,
	)
}

func (a *Adapter) run(ctx context.Context, op string, args ...string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", op, err, tail(string(b), 2000))
	}
	return nil
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
