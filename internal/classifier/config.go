package classifier

import (
	"fmt"
	"math"

	"github.com/kozaktomas/facemotion/internal/emotion"
)

// Config holds the scoring constants and the per-class tables.
type Config struct {
	// K scales the adaptive inverse temperature β = K / (max d − min d).
	K float64
	// Lambda is the prior mix coefficient used when Blend is set.
	Lambda float64
	Blend  bool
	// Boosts multiply the normalized prior per class before renormalization.
	Boosts map[emotion.Emotion]float64
	// FinalThresholds force a class when its final probability reaches the value.
	FinalThresholds map[emotion.Emotion]float64
	// PriorThresholds force a class when its boosted prior reaches the value.
	PriorThresholds map[emotion.Emotion]float64
	Synonyms        emotion.Synonyms
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		K:      5.0,
		Lambda: 0.35,
		Blend:  true,
		Boosts: map[emotion.Emotion]float64{
			emotion.Disgust: 1.5,
			emotion.Sadness: 1.3,
		},
		FinalThresholds: map[emotion.Emotion]float64{
			emotion.Disgust: 0.40,
		},
		PriorThresholds: map[emotion.Emotion]float64{
			emotion.Disgust: 0.30,
			emotion.Sadness: 0.45,
		},
		Synonyms: emotion.DefaultSynonyms(),
	}
}

// Validate checks value ranges and table keys.
func (c Config) Validate() error {
	if !(c.K > 0) || math.IsInf(c.K, 0) {
		return fmt.Errorf("temperature constant K %v must be positive", c.K)
	}
	if c.Lambda < 0 || c.Lambda > 1 || math.IsNaN(c.Lambda) {
		return fmt.Errorf("lambda %v outside [0, 1]", c.Lambda)
	}
	for e, b := range c.Boosts {
		if !e.Valid() {
			return fmt.Errorf("boost for unknown class %q", e)
		}
		if !(b > 0) || math.IsInf(b, 0) {
			return fmt.Errorf("boost for %s must be positive, got %v", e, b)
		}
	}
	for name, table := range map[string]map[emotion.Emotion]float64{
		"final probability": c.FinalThresholds,
		"prior":             c.PriorThresholds,
	} {
		for e, v := range table {
			if !e.Valid() {
				return fmt.Errorf("%s threshold for unknown class %q", name, e)
			}
			if v < 0 || v > 1 || math.IsNaN(v) {
				return fmt.Errorf("%s threshold for %s outside [0, 1]: %v", name, e, v)
			}
		}
	}
	return nil
}
