// Package prior turns the output of an auxiliary expression classifier into a
// probability distribution over the loaded emotion classes.
package prior

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/facemotion/internal/emotion"
)

// ErrPriorUnavailable is returned when no usable prior could be obtained.
var ErrPriorUnavailable = errors.New("emotion prior unavailable")

// Provider is an opaque auxiliary expression classifier.
type Provider interface {
	Name() string
	// Predict returns raw per-label scores for a JPEG encoded face image. Labels and
	// scale are provider specific.
	Predict(ctx context.Context, imageJPEG []byte) (map[string]float64, error)
}

// Distribution is a prior over a fixed class set, before and after per-class boosts.
type Distribution struct {
	classes    []emotion.Emotion
	normalized map[emotion.Emotion]float64
	boosted    map[emotion.Emotion]float64
}

// NewDistribution maps raw labels onto classes through synonyms, keeps the maximum
// score per class, normalizes, multiplies by boosts (missing boost = 1) and normalizes
// again. Labels outside classes are ignored. It fails with ErrPriorUnavailable when
// nothing usable remains.
func NewDistribution(raw map[string]float64, classes []emotion.Emotion, synonyms emotion.Synonyms, boosts map[emotion.Emotion]float64) (Distribution, error) {
	if synonyms == nil {
		synonyms = emotion.DefaultSynonyms()
	}
	loaded := make(map[emotion.Emotion]bool, len(classes))
	for _, e := range classes {
		loaded[e] = true
	}

	agg := make(map[emotion.Emotion]float64, len(classes))
	for label, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		e, ok := synonyms.Resolve(label)
		if !ok || !loaded[e] {
			continue
		}
		if v > agg[e] {
			agg[e] = v
		}
	}

	normalized, ok := normalize(classes, agg)
	if !ok {
		return Distribution{}, fmt.Errorf("%w: no scores for the loaded classes", ErrPriorUnavailable)
	}

	scaled := make(map[emotion.Emotion]float64, len(classes))
	for _, e := range classes {
		b, has := boosts[e]
		if !has {
			b = 1
		}
		scaled[e] = normalized[e] * b
	}
	boosted, ok := normalize(classes, scaled)
	if !ok {
		return Distribution{}, fmt.Errorf("%w: boosts removed every class", ErrPriorUnavailable)
	}

	cp := make([]emotion.Emotion, len(classes))
	copy(cp, classes)
	return Distribution{classes: cp, normalized: normalized, boosted: boosted}, nil
}

func normalize(classes []emotion.Emotion, values map[emotion.Emotion]float64) (map[emotion.Emotion]float64, bool) {
	var sum float64
	for _, e := range classes {
		sum += values[e]
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, false
	}
	out := make(map[emotion.Emotion]float64, len(classes))
	for _, e := range classes {
		out[e] = values[e] / sum
	}
	return out, true
}

// Prob returns the boosted prior probability of e.
func (d Distribution) Prob(e emotion.Emotion) float64 { return d.boosted[e] }

// Normalized returns the prior probability of e before boosting.
func (d Distribution) Normalized(e emotion.Emotion) float64 { return d.normalized[e] }

// Classes returns the class set the distribution is defined over.
func (d Distribution) Classes() []emotion.Emotion {
	out := make([]emotion.Emotion, len(d.classes))
	copy(out, d.classes)
	return out
}

// Boosted returns a copy of the boosted distribution.
func (d Distribution) Boosted() map[emotion.Emotion]float64 {
	out := make(map[emotion.Emotion]float64, len(d.boosted))
	for k, v := range d.boosted {
		out[k] = v
	}
	return out
}

// IsZero reports whether d holds no distribution.
func (d Distribution) IsZero() bool { return len(d.boosted) == 0 }
