package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	return &Adapter{bin: binPath, model: modelPath}
}

// Transcribe runs whisper.cpp over the WAV and returns the joined segment text.
func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) (string, error) {
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-oj",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return "", err
	}

	var out struct {
		Segments []struct {
			Text string `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(jb, &out); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(out.Segments))
	for _, s := range out.Segments {
		t := strings.TrimSpace(s.Text)
		if t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return "", fmt.Errorf("whisper.cpp produced an empty transcript")
	}
	return text, nil
}
