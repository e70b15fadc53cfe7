package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config carries every knob the pipeline and server need. Values come from the
// environment (a .env file is loaded best-effort at CLI entry).
type Config struct {
	Port      string
	AssetRoot string
	OutputDir string
	TempDir   string

	FFmpegPath string

	WhisperBin   string
	WhisperModel string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	MaxConcurrentTasks int
	BurnCaptions       bool
	WordsPerCaption    int
}

func Load() Config {
	return Config{
		Port:      getenvDefault("PORT", "8080"),
		AssetRoot: getenvDefault("ASSET_ROOT", "assets"),
		OutputDir: getenvDefault("OUTPUT_DIR", "output_videos"),
		TempDir:   getenvDefault("TEMP_DIR", "temp_videos"),

		FFmpegPath: getenvDefault("FFMPEG_PATH", "ffmpeg"),

		WhisperBin:   getenvDefault("WHISPER_BIN", ".cache/bin/whisper.cpp"),
		WhisperModel: getenvDefault("WHISPER_MODEL", ".cache/models/ggml-tiny.bin"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getenvDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: getenvDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),

		MaxConcurrentTasks: getenvInt("MAX_CONCURRENT_TASKS", 2),
		BurnCaptions:       getenvBool("BURN_CAPTIONS", true),
		WordsPerCaption:    getenvInt("WORDS_PER_CAPTION", 1),
	}
}

func (c Config) Validate() error {
	if c.AssetRoot == "" {
		return errors.New("asset root is empty")
	}
	if c.OutputDir == "" {
		return errors.New("output dir is empty")
	}
	if c.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max concurrent tasks must be > 0, got %d", c.MaxConcurrentTasks)
	}
	if c.WordsPerCaption <= 0 {
		return fmt.Errorf("words per caption must be > 0, got %d", c.WordsPerCaption)
	}
	return nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
