package plan

import (
	"math"
	"strings"

	"reelforge/internal/types"
)

// RequiredClips is the number of fixed-length segments needed to cover the
// audio, always at least 1.
func RequiredClips(audioSec, clipSec float64) int {
	if audioSec <= 0 || clipSec <= 0 {
		return 1
	}
	n := int(math.Ceil(audioSec / clipSec))
	if n < 1 {
		n = 1
	}
	return n
}

// RawEntry is one planner assignment before validation.
type RawEntry struct {
	Category string
	Clips    int
	Windows  []types.Window
}

// Cross-language tokens the model tends to emit in place of the library's
// category names.
var synonyms = map[string]string{
	"kollagen":      "collagen",
	"collagène":     "collagen",
	"collagene":     "collagen",
	"haare":         "hair",
	"cheveux":       "hair",
	"falten":        "wrinkles",
	"rides":         "wrinkles",
	"ongles":        "nails",
	"nägel":         "nails",
	"naegel":        "nails",
	"gelenke":       "joints",
	"articulations": "joints",
	"wechseljahre":  "menopause",
	"ménopause":     "menopause",
	"produkt":       "product",
	"produit":       "product",
	"kaffee":        "coffee",
	"café":          "coffee",
	"peau":          "skin",
	"haut":          "skin",
}

// MatchCategory resolves a possibly paraphrased or translated category name to
// a library category. Substring matches in either direction are accepted.
func MatchCategory(name string, cats []types.CategoryInfo) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	for _, c := range cats {
		if strings.ToLower(c.Name) == n {
			return c.Name, true
		}
	}
	for _, c := range cats {
		cn := strings.ToLower(c.Name)
		if strings.Contains(cn, n) || strings.Contains(n, cn) {
			return c.Name, true
		}
	}
	for _, tok := range strings.Fields(n) {
		term, ok := synonyms[tok]
		if !ok {
			continue
		}
		for _, c := range cats {
			if strings.Contains(strings.ToLower(c.Name), term) {
				return c.Name, true
			}
		}
	}
	return "", false
}

// Normalize validates planner output against the library and forces the total
// clip count to exactly RequiredClips(audioSec, clipSec). Unknown categories
// are dropped; duplicates are merged; counts are clamped to what the category
// holds, except that the final remainder lands on the largest category when
// the whole library is smaller than the requirement (the compiler cycles
// sources, so over-asking one category is safe there).
func Normalize(raw []RawEntry, cats []types.CategoryInfo, audioSec, clipSec float64) types.Distribution {
	required := RequiredClips(audioSec, clipSec)

	counts := make(map[string]int, len(cats))
	for _, c := range cats {
		counts[c.Name] = c.VideoCount
	}

	var order []string
	merged := make(map[string]*types.DistributionEntry)
	for _, r := range raw {
		name, ok := MatchCategory(r.Category, cats)
		if !ok {
			continue
		}
		e, seen := merged[name]
		if !seen {
			e = &types.DistributionEntry{Category: name}
			merged[name] = e
			order = append(order, name)
		}
		if r.Clips > 0 {
			e.Clips += r.Clips
		}
		e.Windows = append(e.Windows, r.Windows...)
	}
	if len(order) == 0 {
		return Fallback(cats, audioSec, clipSec)
	}

	entries := make([]types.DistributionEntry, 0, len(order))
	for _, name := range order {
		e := *merged[name]
		if e.Clips < 0 {
			e.Clips = 0
		}
		if max := counts[name]; e.Clips > max {
			e.Clips = max
		}
		entries = append(entries, e)
	}

	entries = rebalance(entries, counts, required)

	kept := entries[:0]
	for _, e := range entries {
		if e.Clips > 0 || len(e.Windows) > 0 {
			kept = append(kept, e)
		}
	}
	return types.Distribution{Entries: kept}
}

func rebalance(entries []types.DistributionEntry, counts map[string]int, required int) []types.DistributionEntry {
	sum := 0
	for _, e := range entries {
		sum += e.Clips
	}

	for i := range entries {
		if sum >= required {
			break
		}
		room := counts[entries[i].Category] - entries[i].Clips
		if room <= 0 {
			continue
		}
		add := required - sum
		if add > room {
			add = room
		}
		entries[i].Clips += add
		sum += add
	}
	if sum < required {
		// Library smaller than the requirement: park the remainder on the
		// largest category and let source cycling absorb it.
		best := 0
		for i := range entries {
			if counts[entries[i].Category] > counts[entries[best].Category] {
				best = i
			}
		}
		entries[best].Clips += required - sum
		sum = required
	}

	for i := range entries {
		if sum <= required {
			break
		}
		cut := sum - required
		if cut > entries[i].Clips {
			cut = entries[i].Clips
		}
		entries[i].Clips -= cut
		sum -= cut
	}
	return entries
}

// Fallback is the distribution used when the planner reply is unusable:
// everything from the default category.
func Fallback(cats []types.CategoryInfo, audioSec, clipSec float64) types.Distribution {
	if len(cats) == 0 {
		return types.Distribution{}
	}
	required := RequiredClips(audioSec, clipSec)

	pick := -1
	for i, c := range cats {
		if strings.EqualFold(c.Name, "Others") && c.VideoCount > 0 {
			pick = i
			break
		}
	}
	if pick < 0 {
		for i, c := range cats {
			if c.VideoCount > 0 {
				pick = i
				break
			}
		}
	}
	if pick < 0 {
		pick = 0
	}
	return types.Distribution{Entries: []types.DistributionEntry{
		{Category: cats[pick].Name, Clips: required},
	}}
}

// FromHints builds a distribution directly from caller-supplied category
// names, splitting the required clip count evenly across recognized hints.
func FromHints(hints []string, cats []types.CategoryInfo, audioSec, clipSec float64) types.Distribution {
	required := RequiredClips(audioSec, clipSec)
	var raw []RawEntry
	for _, h := range hints {
		if _, ok := MatchCategory(h, cats); !ok {
			continue
		}
		raw = append(raw, RawEntry{Category: h})
	}
	if len(raw) == 0 {
		return Fallback(cats, audioSec, clipSec)
	}
	per := required / len(raw)
	for i := range raw {
		raw[i].Clips = per
	}
	raw[0].Clips += required - per*len(raw)
	return Normalize(raw, cats, audioSec, clipSec)
}
