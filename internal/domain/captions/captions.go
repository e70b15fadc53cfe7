// Package captions derives word-level timestamps from plain text and a known
// total duration, then renders them as an SRT track. There is no real
// alignment signal here: timing is estimated from per-word syllable counts,
// which tracks natural speech closely enough for word-by-word caption cards.
package captions

import (
	"fmt"
	"os"
	"strings"
)

const (
	sentencePauseSec = 0.3
	clausePauseSec   = 0.15
)

const punctuation = ".,!?;:"

// Word is one caption token with estimated on-screen timing.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// EstimateWordTimings splits text into words and allocates the total duration
// proportionally to each word's syllable count, with a fixed pause bonus after
// sentence- and clause-ending punctuation. All timestamps are then rescaled so
// the last word ends exactly at duration.
func EstimateWordTimings(text string, duration float64) []Word {
	fields := strings.Fields(text)
	if len(fields) == 0 || duration <= 0 {
		return nil
	}

	total := 0
	for _, w := range fields {
		total += countSyllables(w)
	}

	words := make([]Word, 0, len(fields))
	current := 0.0
	for _, w := range fields {
		d := float64(countSyllables(w)) / float64(total) * duration
		switch {
		case strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?"):
			d += sentencePauseSec
		case strings.HasSuffix(w, ",") || strings.HasSuffix(w, ";") || strings.HasSuffix(w, ":"):
			d += clausePauseSec
		}
		words = append(words, Word{
			Text:  strings.Trim(w, punctuation),
			Start: current,
			End:   current + d,
		})
		current += d
	}

	// Pause bonuses pushed the running clock past the real duration; squeeze
	// everything back so the track ends with the audio.
	scale := duration / current
	for i := range words {
		words[i].Start *= scale
		words[i].End *= scale
	}
	return words
}

// countSyllables counts vowel-group transitions, floored at one. Rough, but
// the proportional allocation only needs relative weights.
func countSyllables(word string) int {
	word = strings.ToLower(strings.Trim(word, punctuation))
	n := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			n++
		}
		prevVowel = vowel
	}
	if n < 1 {
		return 1
	}
	return n
}

// RenderSRT groups words into cards of wordsPerCard and renders the standard
// SRT format. One word per card gives the tightest sync.
func RenderSRT(words []Word, wordsPerCard int) string {
	if wordsPerCard < 1 {
		wordsPerCard = 1
	}
	var b strings.Builder
	idx := 1
	for i := 0; i < len(words); i += wordsPerCard {
		end := i + wordsPerCard
		if end > len(words) {
			end = len(words)
		}
		card := words[i:end]

		texts := make([]string, len(card))
		for j, w := range card {
			texts[j] = w.Text
		}

		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			idx,
			formatTimestamp(card[0].Start),
			formatTimestamp(card[len(card)-1].End),
			strings.Join(texts, " "))
		idx++
	}
	return b.String()
}

// WriteSRT estimates timings for text and writes the rendered track to path.
// Empty text yields no file and no error; the caller skips the burn-in step.
func WriteSRT(path, text string, duration float64, wordsPerCard int) (bool, error) {
	words := EstimateWordTimings(text, duration)
	if len(words) == 0 {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(RenderSRT(words, wordsPerCard)), 0o644); err != nil {
		return false, fmt.Errorf("write srt: %w", err)
	}
	return true, nil
}

func formatTimestamp(seconds float64) string {
	h := int(seconds) / 3600
	m := int(seconds) % 3600 / 60
	s := int(seconds) % 60
	ms := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
