package timeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"testing"

	"reelforge/internal/types"
)

type cutCall struct {
	src   string
	start float64
	dur   float64
	out   string
}

// fakeTool implements ports.MediaTool for scheduling tests. Cuts for sources
// in brokenCuts write an undersized file; cuts for sources in errorCuts fail
// outright.
type fakeTool struct {
	durations  map[string]float64
	brokenCuts map[string]bool
	errorCuts  map[string]bool

	cuts       []cutCall
	concatList []string
}

func (f *fakeTool) ProbeDuration(_ context.Context, path string) (float64, error) {
	if d, ok := f.durations[path]; ok {
		return d, nil
	}
	return 0, errors.New("probe failed")
}

func (f *fakeTool) CutSegment(_ context.Context, src string, start, dur float64, out string) error {
	f.cuts = append(f.cuts, cutCall{src: src, start: start, dur: dur, out: out})
	if f.errorCuts[src] {
		return fmt.Errorf("cut failed for %s", src)
	}
	size := minSegmentBytes + 1
	if f.brokenCuts[src] {
		size = 100
	}
	return os.WriteFile(out, bytes.Repeat([]byte{0}, size), 0o644)
}

func (f *fakeTool) Concat(_ context.Context, listFile, out string) error {
	b, err := os.ReadFile(listFile)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		line = strings.TrimPrefix(line, "file '")
		line = strings.TrimSuffix(line, "'")
		f.concatList = append(f.concatList, line)
	}
	return os.WriteFile(out, []byte("compiled"), 0o644)
}

func (f *fakeTool) ExtractAudioMono16k(context.Context, string, string) error { return nil }
func (f *fakeTool) ConvertVertical(context.Context, string, string) error     { return nil }
func (f *fakeTool) MuxAudio(context.Context, string, string, float64, string) error {
	return nil
}
func (f *fakeTool) BurnSubtitles(context.Context, string, string, string) error { return nil }

func fixedCompiler(tool *fakeTool, clipSec float64) *Compiler {
	return New(tool, rand.New(rand.NewSource(1)), Policy{MinSec: clipSec, MaxSec: clipSec}, nil)
}

// 10s of audio over three long sources at 2.5s per segment: four segments in
// flat round-robin order, the fourth revisiting source 0 at an advanced
// playhead.
func TestCompile_FlatRoundRobin(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{durations: map[string]float64{"a.mp4": 12, "b.mp4": 12, "c.mp4": 12}}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "b.mp4", "c.mp4"},
		TargetSeconds: 10,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if len(res.Instructions) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(res.Instructions))
	}
	wantSrc := []string{"a.mp4", "b.mp4", "c.mp4", "a.mp4"}
	wantOff := []float64{0, 0, 0, 2.5}
	for i, in := range res.Instructions {
		if in.SequenceIdx != i {
			t.Errorf("segment %d has sequence index %d", i, in.SequenceIdx)
		}
		if in.SourcePath != wantSrc[i] || in.StartOffset != wantOff[i] {
			t.Errorf("segment %d = %s@%.1f, want %s@%.1f", i, in.SourcePath, in.StartOffset, wantSrc[i], wantOff[i])
		}
	}
	if res.Elapsed < 10 {
		t.Fatalf("coverage shortfall: %.1f < 10", res.Elapsed)
	}
}

// Timeline mode: Hair owns [0,6), Product owns [6,15); each window draws from
// its own pool in round-robin order.
func TestCompile_CategoryWindows(t *testing.T) {
	t.Parallel()

	srcs := []string{"h1.mp4", "h2.mp4", "p1.mp4", "p2.mp4"}
	durations := map[string]float64{}
	for _, s := range srcs {
		durations[s] = 30
	}
	tool := &fakeTool{durations: durations}
	c := fixedCompiler(tool, 3)

	res, err := c.Compile(context.Background(), Request{
		Sources:       srcs,
		TargetSeconds: 15,
		Windows: map[string][]types.Window{
			"Hair":    {{Start: 0, End: 6}},
			"Product": {{Start: 6, End: 15}},
		},
		SourceCategory: map[string]string{
			"h1.mp4": "Hair", "h2.mp4": "Hair",
			"p1.mp4": "Product", "p2.mp4": "Product",
		},
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	wantSrc := []string{"h1.mp4", "h2.mp4", "p1.mp4", "p2.mp4", "p1.mp4"}
	wantCat := []string{"Hair", "Hair", "Product", "Product", "Product"}
	if len(res.Instructions) != len(wantSrc) {
		t.Fatalf("expected %d segments, got %d", len(wantSrc), len(res.Instructions))
	}
	for i, in := range res.Instructions {
		if in.SourcePath != wantSrc[i] || in.Category != wantCat[i] {
			t.Errorf("segment %d = %s/%s, want %s/%s", i, in.SourcePath, in.Category, wantSrc[i], wantCat[i])
		}
	}
}

// A window bound to a category with no mapped sources falls back to flat
// round-robin for that slot.
func TestCompile_WindowWithoutSourcesFallsBack(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{durations: map[string]float64{"a.mp4": 30, "b.mp4": 30}}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "b.mp4"},
		TargetSeconds: 5,
		Windows:       map[string][]types.Window{"Menopause": {{Start: 0, End: 5}}},
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Instructions) != 2 || res.Instructions[0].SourcePath != "a.mp4" || res.Instructions[1].SourcePath != "b.mp4" {
		t.Fatalf("expected flat fallback order, got %+v", res.Instructions)
	}
}

// Concatenation order must equal ascending sequence index.
func TestCompile_ConcatOrderMatchesSequence(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{durations: map[string]float64{"a.mp4": 30, "b.mp4": 30}}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "b.mp4"},
		TargetSeconds: 10,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(tool.concatList) != len(res.Instructions) {
		t.Fatalf("concat list has %d entries for %d segments", len(tool.concatList), len(res.Instructions))
	}
	for i, in := range res.Instructions {
		want := tool.cuts[indexOfCut(tool.cuts, in)].out
		if !strings.HasSuffix(tool.concatList[i], strings.TrimPrefix(want, "/")) && tool.concatList[i] != want {
			t.Errorf("concat entry %d = %q, want segment %d output %q", i, tool.concatList[i], i, want)
		}
	}
}

func indexOfCut(cuts []cutCall, in types.CutInstruction) int {
	for i, c := range cuts {
		if c.src == in.SourcePath && c.start == in.StartOffset {
			return i
		}
	}
	return -1
}

// A playhead that would run past the end of the source wraps to 0 instead of
// erroring.
func TestCompile_PlayheadWrapsShortSource(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{durations: map[string]float64{"short.mp4": 5}}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"short.mp4"},
		TargetSeconds: 10,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	wantOff := []float64{0, 2.5, 0, 2.5}
	if len(res.Instructions) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(res.Instructions))
	}
	for i, in := range res.Instructions {
		if in.StartOffset != wantOff[i] {
			t.Errorf("segment %d offset = %.1f, want %.1f", i, in.StartOffset, wantOff[i])
		}
	}
}

// One corrupt source out of three must not fail the job; output is built from
// the remaining sources with contiguous sequence indexes.
func TestCompile_SingleBadSourceIsRescheduled(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{
		durations: map[string]float64{"a.mp4": 30, "bad.mp4": 30, "c.mp4": 30},
		errorCuts: map[string]bool{"bad.mp4": true},
	}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "bad.mp4", "c.mp4"},
		TargetSeconds: 10,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Instructions) == 0 {
		t.Fatal("expected segments from healthy sources")
	}
	for i, in := range res.Instructions {
		if in.SourcePath == "bad.mp4" {
			t.Fatalf("corrupt source appeared in the timeline: %+v", in)
		}
		if in.SequenceIdx != i {
			t.Fatalf("sequence indexes not contiguous: %+v", res.Instructions)
		}
	}
	if res.Elapsed < 10 {
		t.Fatalf("coverage shortfall: %.1f", res.Elapsed)
	}
}

// Undersized encoder output counts as a failed cut.
func TestCompile_TinySegmentTreatedAsFailure(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{
		durations:  map[string]float64{"a.mp4": 30, "tiny.mp4": 30},
		brokenCuts: map[string]bool{"tiny.mp4": true},
	}
	c := fixedCompiler(tool, 2.5)

	res, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "tiny.mp4"},
		TargetSeconds: 5,
		WorkDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, in := range res.Instructions {
		if in.SourcePath == "tiny.mp4" {
			t.Fatalf("undersized segment accepted: %+v", in)
		}
	}
}

// Every source broken: the compiler terminates within the iteration ceiling
// and reports the typed failure.
func TestCompile_AllSourcesBrokenTerminates(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{
		durations: map[string]float64{"a.mp4": 30, "b.mp4": 30},
		errorCuts: map[string]bool{"a.mp4": true, "b.mp4": true},
	}
	c := New(tool, rand.New(rand.NewSource(1)), Policy{MinSec: 2.5, MaxSec: 2.5, MaxIterations: 12}, nil)

	_, err := c.Compile(context.Background(), Request{
		Sources:       []string{"a.mp4", "b.mp4"},
		TargetSeconds: 10,
		WorkDir:       t.TempDir(),
	})
	if !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
	if len(tool.cuts) > 12 {
		t.Fatalf("iteration ceiling exceeded: %d cut attempts", len(tool.cuts))
	}
}

func TestCompile_EmptySources(t *testing.T) {
	t.Parallel()

	c := fixedCompiler(&fakeTool{}, 2.5)
	_, err := c.Compile(context.Background(), Request{TargetSeconds: 10, WorkDir: t.TempDir()})
	if !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments for empty source list, got %v", err)
	}
}

// Randomized segment lengths stay in bounds, land on one decimal, and repeat
// exactly under the same seed.
func TestSegmentSeconds_DeterministicUnderSeed(t *testing.T) {
	t.Parallel()

	draw := func(seed int64) []float64 {
		c := New(&fakeTool{}, rand.New(rand.NewSource(seed)), Policy{MinSec: 2.0, MaxSec: 3.0}, nil)
		var out []float64
		for i := 0; i < 20; i++ {
			out = append(out, c.segmentSeconds())
		}
		return out
	}

	a, b := draw(42), draw(42)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs under same seed: %v vs %v", i, a[i], b[i])
		}
		if a[i] < 2.0 || a[i] > 3.0 {
			t.Fatalf("draw %d out of bounds: %v", i, a[i])
		}
		if v := a[i] * 10; v != float64(int(v)) {
			t.Fatalf("draw %d not rounded to one decimal: %v", i, a[i])
		}
	}
}

// Probe failures degrade to the fallback value.
func TestProbeOrDefault(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{durations: map[string]float64{"known.mp4": 42}}
	if d := ProbeOrDefault(context.Background(), tool, "known.mp4", 10); d != 42 {
		t.Fatalf("ProbeOrDefault(known) = %v", d)
	}
	if d := ProbeOrDefault(context.Background(), tool, "unknown.mp4", 10); d != 10 {
		t.Fatalf("ProbeOrDefault(unknown) = %v", d)
	}
}
