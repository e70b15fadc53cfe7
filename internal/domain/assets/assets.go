package assets

import (
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reelforge/internal/types"
)

// averageClipSeconds is the assumed mean segment length when estimating how
// many unique sources a target duration needs.
const averageClipSeconds = 2.5

// Longer outputs cycle through a bounded set of sources instead of requiring
// proportionally more unique footage.
const (
	minSelectedVideos  = 3
	longTargetSeconds  = 15.0
	longTargetMaxPicks = 5
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// Library reads footage from a local cache directory whose subdirectories are
// category names. Every selection re-scans, so files appearing mid-run are
// picked up on the next call.
type Library struct {
	root string
	rng  *rand.Rand
}

func NewLibrary(root string, rng *rand.Rand) *Library {
	return &Library{root: root, rng: rng}
}

// Scan enumerates every selectable video under the root. A missing root or
// unreadable entries yield an empty result, never an error.
func (l *Library) Scan() []types.VideoAsset {
	var out []types.VideoAsset
	_ = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if _, statErr := os.Stat(path); statErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		category := "Others"
		if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." {
			category = dir
		}
		base := filepath.Base(path)
		out = append(out, types.VideoAsset{
			ID:           strings.TrimSuffix(base, filepath.Ext(base)),
			Name:         base,
			LocalPath:    path,
			CategoryPath: category,
		})
		return nil
	})
	return out
}

// Categories reports the top-level category folders with their recursive
// video counts, sorted by name.
func (l *Library) Categories() []types.CategoryInfo {
	counts := map[string]int{}
	for _, a := range l.Scan() {
		top := a.CategoryPath
		if i := strings.Index(top, "/"); i >= 0 {
			top = top[:i]
		}
		counts[top]++
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]types.CategoryInfo, 0, len(names))
	for _, n := range names {
		out = append(out, types.CategoryInfo{Name: n, VideoCount: counts[n]})
	}
	return out
}

// Select picks sources for a category. With a positive targetDuration the
// pool size is derived from how many clips the duration needs; otherwise
// desiredCount sources are sampled. An empty result is a normal outcome for
// sparse categories.
func (l *Library) Select(category string, desiredCount int, targetDuration float64) []types.VideoAsset {
	pool := dedupeScenes(dedupePaths(l.match(category)))
	if len(pool) == 0 {
		return nil
	}

	if targetDuration > 0 {
		n := videosNeeded(targetDuration, len(pool))
		l.shuffle(pool)
		return pool[:n]
	}

	if desiredCount > len(pool) {
		desiredCount = len(pool)
	}
	if desiredCount <= 0 {
		return nil
	}
	l.shuffle(pool)
	return pool[:desiredCount]
}

// SelectAny draws a duration-sized pool from the whole library, ignoring
// category boundaries.
func (l *Library) SelectAny(targetDuration float64) []types.VideoAsset {
	pool := dedupeScenes(dedupePaths(l.Scan()))
	if len(pool) == 0 {
		return nil
	}
	n := videosNeeded(targetDuration, len(pool))
	l.shuffle(pool)
	return pool[:n]
}

func videosNeeded(targetDuration float64, poolSize int) int {
	clips := int(math.Ceil(targetDuration / averageClipSeconds))
	n := clips / 2
	if n < minSelectedVideos {
		n = minSelectedVideos
	}
	if targetDuration > longTargetSeconds && n > longTargetMaxPicks {
		n = longTargetMaxPicks
	}
	if n > poolSize {
		n = poolSize
	}
	return n
}

// match tries three strategies in order, stopping at the first that yields
// results: full relative-path substring, path-component match, then a token
// match over words of the category name longer than 3 characters.
func (l *Library) match(category string) []types.VideoAsset {
	all := l.Scan()
	cat := strings.ToLower(strings.TrimSpace(category))
	if cat == "" {
		return all
	}

	var byPath []types.VideoAsset
	for _, a := range all {
		rel := strings.ToLower(a.CategoryPath + "/" + a.Name)
		if strings.Contains(rel, cat) {
			byPath = append(byPath, a)
		}
	}
	if len(byPath) > 0 {
		return byPath
	}

	var byComponent []types.VideoAsset
	for _, a := range all {
		for _, comp := range strings.Split(strings.ToLower(a.CategoryPath), "/") {
			if comp == "" {
				continue
			}
			if strings.Contains(comp, cat) || (len(comp) > 2 && strings.Contains(cat, comp)) {
				byComponent = append(byComponent, a)
				break
			}
		}
	}
	if len(byComponent) > 0 {
		return byComponent
	}

	var tokens []string
	for _, w := range strings.Fields(cat) {
		if len(w) > 3 {
			tokens = append(tokens, w)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	var byToken []types.VideoAsset
	for _, a := range all {
		rel := strings.ToLower(a.CategoryPath + "/" + a.Name)
		for _, tok := range tokens {
			if strings.Contains(rel, tok) {
				byToken = append(byToken, a)
				break
			}
		}
	}
	return byToken
}

func dedupePaths(in []types.VideoAsset) []types.VideoAsset {
	seen := map[string]bool{}
	var out []types.VideoAsset
	for _, a := range in {
		key := a.LocalPath
		if abs, err := filepath.Abs(a.LocalPath); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// dedupeScenes keeps the first file per scene id. Two files share a scene
// when their lowercase stems agree on the first 10 characters, which guards
// against sequentially numbered takes of the same shot.
func dedupeScenes(in []types.VideoAsset) []types.VideoAsset {
	seen := map[string]bool{}
	var out []types.VideoAsset
	for _, a := range in {
		key := sceneID(a.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func sceneID(stem string) string {
	s := strings.ToLower(stem)
	r := []rune(s)
	if len(r) > 10 {
		return string(r[:10])
	}
	return s
}

func (l *Library) shuffle(pool []types.VideoAsset) {
	l.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
}
