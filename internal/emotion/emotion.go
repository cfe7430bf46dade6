// Package emotion defines the closed set of emotion classes and the label
// normalization used to map free-form labels (file stems, prior outputs) onto them.
package emotion

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Emotion is one of the canonical emotion classes.
type Emotion string

const (
	Anger     Emotion = "anger"
	Disgust   Emotion = "disgust"
	Fear      Emotion = "fear"
	Happiness Emotion = "happiness"
	Sadness   Emotion = "sadness"
	Surprise  Emotion = "surprise"
	Neutral   Emotion = "neutral"
)

// all is the canonical order. Ties anywhere in scoring are broken by this order.
var all = []Emotion{Anger, Disgust, Fear, Happiness, Sadness, Surprise, Neutral}

// All returns the canonical emotion classes in canonical order.
func All() []Emotion {
	out := make([]Emotion, len(all))
	copy(out, all)
	return out
}

// Index returns the canonical position of e, or -1 for an unknown class.
func Index(e Emotion) int {
	for i, c := range all {
		if c == e {
			return i
		}
	}
	return -1
}

// Valid reports whether e is a canonical class.
func (e Emotion) Valid() bool {
	return Index(e) >= 0
}

func (e Emotion) String() string {
	return string(e)
}

// Synonyms maps normalized labels to canonical classes.
type Synonyms map[string]Emotion

// DefaultSynonyms covers the label vocabularies of common expression classifiers
// (FER, DeepFace, AffectNet) and the file naming of exported corpora.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"anger":     Anger,
		"angry":     Anger,
		"mad":       Anger,
		"disgust":   Disgust,
		"disgusted": Disgust,
		"fear":      Fear,
		"fearful":   Fear,
		"scared":    Fear,
		"afraid":    Fear,
		"happiness": Happiness,
		"happy":     Happiness,
		"joy":       Happiness,
		"sadness":   Sadness,
		"sad":       Sadness,
		"sorrow":    Sadness,
		"surprise":  Surprise,
		"surprised": Surprise,
		"neutral":   Neutral,
		"calm":      Neutral,
	}
}

// Merge returns a copy of s extended with extra; entries in extra win.
// Keys of extra are normalized before insertion.
func (s Synonyms) Merge(extra map[string]Emotion) Synonyms {
	out := make(Synonyms, len(s)+len(extra))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range extra {
		out[NormalizeLabel(k)] = v
	}
	return out
}

// Resolve maps a raw label to its canonical class.
func (s Synonyms) Resolve(label string) (Emotion, bool) {
	key := NormalizeLabel(label)
	if key == "" {
		return "", false
	}
	if e, ok := s[key]; ok {
		return e, true
	}
	if e := Emotion(key); e.Valid() {
		return e, true
	}
	return "", false
}

// Parse resolves label with the default synonyms and fails on unknown labels.
func Parse(label string) (Emotion, error) {
	e, ok := DefaultSynonyms().Resolve(label)
	if !ok {
		return "", fmt.Errorf("unknown emotion %q", label)
	}
	return e, nil
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Surprisé" -> "Surprise").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeLabel lowercases, strips diacritics and surrounding punctuation/space.
func NormalizeLabel(label string) string {
	label = RemoveDiacritics(label)
	label = strings.ToLower(label)
	return strings.TrimFunc(label, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
