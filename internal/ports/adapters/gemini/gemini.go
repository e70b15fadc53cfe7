package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"reelforge/internal/domain/plan"
	"reelforge/internal/types"
)

const (
	defaultModel   = "gemini-2.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	requestTimeout = 90 * time.Second
)

type Adapter struct {
	key     string
	model   string
	baseURL string
	clipSec float64
	client  *http.Client
}

func New(apiKey, model, baseURL string, clipSec float64) *Adapter {
	if model == "" {
		model = defaultModel
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if clipSec <= 0 {
		clipSec = 2.5
	}
	return &Adapter{
		key:     apiKey,
		model:   model,
		baseURL: baseURL,
		clipSec: clipSec,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Plan asks the model to distribute the voiceover across categories. Any
// model or parse failure degrades to the default distribution; this boundary
// never fails the task.
func (a *Adapter) Plan(ctx context.Context, transcript string, audioSec float64, categories []types.CategoryInfo) (types.Distribution, error) {
	required := plan.RequiredClips(audioSec, a.clipSec)

	raw, err := a.generate(ctx, buildPrompt(transcript, audioSec, required, categories))
	if err != nil {
		slog.Warn("planner model call failed, using fallback distribution", "err", err)
		return plan.Fallback(categories, audioSec, a.clipSec), nil
	}

	entries, err := parseReply(raw)
	if err != nil {
		slog.Warn("planner reply unusable, using fallback distribution", "err", err)
		return plan.Fallback(categories, audioSec, a.clipSec), nil
	}
	return plan.Normalize(entries, categories, audioSec, a.clipSec), nil
}

func buildPrompt(transcript string, audioSec float64, required int, categories []types.CategoryInfo) string {
	var b strings.Builder
	b.WriteString("You are planning footage for a short vertical video driven by a voiceover.\n\n")
	fmt.Fprintf(&b, "Voiceover transcript (audio length %.1f seconds):\n%q\n\n", audioSec, transcript)
	b.WriteString("Available footage categories (name: video count):\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %d\n", c.Name, c.VideoCount)
	}
	fmt.Fprintf(&b, "\nDistribute exactly %d clips across the 2-3 most relevant categories.\n", required)
	b.WriteString("Never assign a category more clips than it has videos.\n")
	b.WriteString("Optionally bind a category to time segments of the output, as [start,end] second pairs.\n\n")
	b.WriteString("Respond with strictly valid JSON, no markdown fences, in this shape:\n")
	b.WriteString(`{"categories":[{"category":"Hair","clips":3,"segments":[[0,6]]},{"category":"Product","clips":2}]}`)
	return b.String()
}

func (a *Adapter) generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.4,
			"responseMimeType": "application/json",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, a.model)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("gemini timeout after %s (model=%s)", requestTimeout, a.model)
		}
		return "", err
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(string(rb), 400))
	}

	text := gjson.GetBytes(rb, "candidates.0.content.parts.0.text").String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty candidate text")
	}
	return text, nil
}

// parseReply tolerates fenced output, alternate key names, and both
// [[start,end]] and [{"start":..,"end":..}] segment shapes.
func parseReply(raw string) ([]plan.RawEntry, error) {
	clean, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	arr := gjson.Get(clean, "categories")
	if !arr.Exists() {
		arr = gjson.Get(clean, "folders")
	}
	if !arr.IsArray() {
		return nil, fmt.Errorf("no categories array in reply: %q", truncate(clean, 200))
	}

	var out []plan.RawEntry
	arr.ForEach(func(_, item gjson.Result) bool {
		name := firstString(item, "category", "name", "folder")
		if name == "" {
			return true
		}
		e := plan.RawEntry{
			Category: name,
			Clips:    int(firstInt(item, "clips", "count", "clips_to_take")),
		}
		item.Get("segments").ForEach(func(_, seg gjson.Result) bool {
			w, ok := parseWindow(seg)
			if ok && w.End > w.Start {
				e.Windows = append(e.Windows, w)
			}
			return true
		})
		out = append(out, e)
		return true
	})
	if len(out) == 0 {
		return nil, errors.New("reply contained no usable category entries")
	}
	return out, nil
}

func parseWindow(seg gjson.Result) (types.Window, bool) {
	if seg.IsArray() {
		parts := seg.Array()
		if len(parts) == 2 {
			return types.Window{Start: parts[0].Float(), End: parts[1].Float()}, true
		}
		return types.Window{}, false
	}
	s := seg.Get("start")
	e := seg.Get("end")
	if s.Exists() && e.Exists() {
		return types.Window{Start: s.Float(), End: e.Float()}, true
	}
	return types.Window{}, false
}

func firstString(item gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := item.Get(k); v.Exists() {
			s := strings.TrimSpace(v.String())
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(item gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if v := item.Get(k); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("empty reply")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
