package timeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reelforge/internal/ports"
	"reelforge/internal/types"
)

// ErrNoSegments is the only fatal compile outcome: not a single segment could
// be produced from any source.
var ErrNoSegments = errors.New("timeline: no segments produced")

const (
	// Cuts smaller than this are treated as failed encodes.
	minSegmentBytes = 10 * 1024
	// Assumed source length when the probe fails; a wrong value only
	// perturbs wrap points, it never blocks compilation.
	defaultSourceSeconds = 10.0

	minIterationCeiling = 40
)

// Policy bounds segment length and total scheduling work so tests can
// exercise the termination guarantee deterministically.
type Policy struct {
	MinSec float64
	MaxSec float64
	// MaxIterations caps loop turns including failed cuts. Zero means
	// 10x the source count (with a floor).
	MaxIterations int
}

func DefaultPolicy() Policy {
	return Policy{MinSec: 2.0, MaxSec: 3.0}
}

func (p Policy) ceiling(sources int) int {
	if p.MaxIterations > 0 {
		return p.MaxIterations
	}
	n := 10 * sources
	if n < minIterationCeiling {
		n = minIterationCeiling
	}
	return n
}

// Request describes one compilation.
type Request struct {
	// Sources in round-robin order. Paths must be distinct.
	Sources       []string
	TargetSeconds float64
	// Windows binds categories to slices of the output timeline; empty
	// means flat round-robin throughout.
	Windows map[string][]types.Window
	// SourceCategory labels sources for windowed scheduling.
	SourceCategory map[string]string
	WorkDir        string
}

// Result is the compiled silent video plus the instructions that built it.
type Result struct {
	Path         string
	Instructions []types.CutInstruction
	Elapsed      float64
}

// Compiler turns a source pool into a single silent video stream by cutting
// fixed-length segments in round-robin order, keeping a per-source playhead
// so repeated visits advance through the footage.
type Compiler struct {
	tool   ports.MediaTool
	rng    *rand.Rand
	policy Policy
	logf   func(format string, args ...any)
}

func New(tool ports.MediaTool, rng *rand.Rand, policy Policy, logf func(string, ...any)) *Compiler {
	if policy.MinSec <= 0 || policy.MaxSec < policy.MinSec {
		policy = DefaultPolicy()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Compiler{tool: tool, rng: rng, policy: policy, logf: logf}
}

func (c *Compiler) Compile(ctx context.Context, req Request) (Result, error) {
	if len(req.Sources) == 0 || req.TargetSeconds <= 0 {
		return Result{}, ErrNoSegments
	}

	sched := newScheduler(req)
	playhead := make(map[string]float64, len(req.Sources))
	srcDur := make(map[string]float64, len(req.Sources))

	var (
		instructions []types.CutInstruction
		segmentPaths []string
		elapsed      float64
	)

	ceiling := c.policy.ceiling(len(req.Sources))
	for iter := 0; elapsed < req.TargetSeconds && iter < ceiling; iter++ {
		src, category := sched.next(elapsed)
		dur := c.segmentSeconds()

		offset := playhead[src]
		if offset+dur > c.sourceSeconds(ctx, srcDur, src) {
			// Sources are effectively loopable: wrap to the start
			// instead of erroring.
			offset = 0
		}

		out := filepath.Join(req.WorkDir, fmt.Sprintf("seg_%03d.mp4", len(instructions)))
		if err := c.cut(ctx, src, offset, dur, out); err != nil {
			c.logf("segment cut failed (%s @ %.1fs): %v", filepath.Base(src), offset, err)
			_ = os.Remove(out)
			playhead[src] = 0
			continue
		}

		instructions = append(instructions, types.CutInstruction{
			SourcePath:  src,
			StartOffset: offset,
			DurationSec: dur,
			SequenceIdx: len(instructions),
			Category:    category,
		})
		segmentPaths = append(segmentPaths, out)
		playhead[src] = offset + dur
		elapsed += dur
	}

	if len(instructions) == 0 {
		return Result{}, ErrNoSegments
	}

	listFile := filepath.Join(req.WorkDir, "concat.txt")
	if err := writeConcatList(listFile, segmentPaths); err != nil {
		return Result{}, err
	}
	outPath := filepath.Join(req.WorkDir, "compiled.mp4")
	if err := c.tool.Concat(ctx, listFile, outPath); err != nil {
		return Result{}, fmt.Errorf("concat segments: %w", err)
	}

	c.logf("compiled %d segments covering %.1fs (target %.1fs)", len(instructions), elapsed, req.TargetSeconds)
	return Result{Path: outPath, Instructions: instructions, Elapsed: elapsed}, nil
}

func (c *Compiler) cut(ctx context.Context, src string, offset, dur float64, out string) error {
	if err := c.tool.CutSegment(ctx, src, offset, dur, out); err != nil {
		return err
	}
	fi, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("stat segment: %w", err)
	}
	if fi.Size() < minSegmentBytes {
		return fmt.Errorf("segment suspiciously small (%d bytes)", fi.Size())
	}
	return nil
}

// segmentSeconds draws a length in [MinSec, MaxSec] rounded to one decimal.
// Equal bounds give a fixed length; a seeded rng makes the draw deterministic.
func (c *Compiler) segmentSeconds() float64 {
	if c.policy.MinSec == c.policy.MaxSec {
		return c.policy.MinSec
	}
	v := c.policy.MinSec + c.rng.Float64()*(c.policy.MaxSec-c.policy.MinSec)
	return math.Round(v*10) / 10
}

func (c *Compiler) sourceSeconds(ctx context.Context, cache map[string]float64, src string) float64 {
	if d, ok := cache[src]; ok {
		return d
	}
	d, err := c.tool.ProbeDuration(ctx, src)
	if err != nil || d <= 0 {
		d = defaultSourceSeconds
	}
	cache[src] = d
	return d
}

// scheduler picks the source for each segment: the category whose window
// contains the playhead when a timeline mapping exists, flat round-robin
// otherwise.
type scheduler struct {
	sources    []string
	categories map[string]string

	windows    map[string][]types.Window
	windowCats []string
	byCategory map[string][]string

	flatIdx  int
	cycleIdx map[string]int
}

func newScheduler(req Request) *scheduler {
	s := &scheduler{
		sources:    req.Sources,
		categories: req.SourceCategory,
		windows:    req.Windows,
		byCategory: map[string][]string{},
		cycleIdx:   map[string]int{},
	}
	for cat := range req.Windows {
		s.windowCats = append(s.windowCats, cat)
	}
	// Map iteration order is random; window lookup must not be.
	sort.Strings(s.windowCats)
	for _, src := range req.Sources {
		if cat, ok := req.SourceCategory[src]; ok {
			s.byCategory[cat] = append(s.byCategory[cat], src)
		}
	}
	return s
}

func (s *scheduler) next(elapsed float64) (src, category string) {
	if cat, ok := s.windowCategory(elapsed); ok {
		if pool := s.byCategory[cat]; len(pool) > 0 {
			i := s.cycleIdx[cat] % len(pool)
			s.cycleIdx[cat]++
			return pool[i], cat
		}
	}
	src = s.sources[s.flatIdx%len(s.sources)]
	s.flatIdx++
	return src, s.categories[src]
}

func (s *scheduler) windowCategory(t float64) (string, bool) {
	for _, cat := range s.windowCats {
		for _, w := range s.windows[cat] {
			if w.Contains(t) {
				return cat, true
			}
		}
	}
	return "", false
}

func writeConcatList(path string, segments []string) error {
	var b strings.Builder
	for _, p := range segments {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		b.WriteString("file '")
		b.WriteString(filepath.ToSlash(abs))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ProbeOrDefault wraps the duration probe with the fail-soft contract: a
// probe failure yields fallback, never an error.
func ProbeOrDefault(ctx context.Context, tool ports.MediaTool, path string, fallback float64) float64 {
	d, err := tool.ProbeDuration(ctx, path)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
