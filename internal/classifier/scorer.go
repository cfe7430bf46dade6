// Package classifier scores a face's distance matrix against the class prototypes and
// decides the emotion label.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/prior"
	"github.com/kozaktomas/facemotion/internal/weights"
)

const (
	spreadEpsilon = 1e-12
	logEpsilon    = 1e-9
)

// Override rules, in priority order.
const (
	RuleFinalProbability = "final_probability"
	RulePrior            = "prior"
)

// Override records a rule that forced the winner.
type Override struct {
	Rule  string          `json:"rule"`
	Class emotion.Emotion `json:"class"`
	// Value is the probability that met the threshold.
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Result is the score record of one face.
type Result struct {
	Label           emotion.Emotion             `json:"label"`
	Probabilities   map[emotion.Emotion]float64 `json:"probabilities"`
	Dissimilarities map[emotion.Emotion]float64 `json:"dissimilarities"`
	Strength        float64                     `json:"strength"`
	Margin          float64                     `json:"margin"`
	Clarity         float64                     `json:"clarity"`
	RunnerUp        emotion.Emotion             `json:"runner_up,omitempty"`
	Override        *Override                   `json:"override,omitempty"`
	PriorUsed       bool                        `json:"prior_used"`
	Blended         bool                        `json:"blended"`
	Prior           map[emotion.Emotion]float64 `json:"prior,omitempty"`
}

// Overridden reports whether a rule replaced the argmax decision.
func (r Result) Overridden() bool { return r.Override != nil }

// Scorer compares distance matrices against a fixed corpus and weight matrix. It is
// read-only after construction and safe for concurrent use.
type Scorer struct {
	cfg        Config
	n          int
	classes    []emotion.Emotion
	prototypes [][]float64
	weights    []float64
}

// NewScorer validates that corpus and weights agree on the landmark count.
func NewScorer(c *corpus.Corpus, w weights.Matrix, cfg Config) (*Scorer, error) {
	if c == nil || c.Len() == 0 {
		return nil, corpus.ErrEmptyReferenceCorpus
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w.N() != c.N() {
		return nil, fmt.Errorf("%w: weights are %dx%d, prototypes %dx%d", corpus.ErrDimensionMismatch, w.N(), w.N(), c.N(), c.N())
	}
	if cfg.Synonyms == nil {
		cfg.Synonyms = emotion.DefaultSynonyms()
	}

	s := &Scorer{
		cfg:     cfg,
		n:       c.N(),
		classes: c.Classes(),
		weights: w.UpperTriangle(),
	}
	for _, e := range s.classes {
		p, _ := c.Prototype(e)
		s.prototypes = append(s.prototypes, p.UpperTriangle())
	}
	return s, nil
}

// N is the landmark count the scorer expects.
func (s *Scorer) N() int { return s.n }

// Classes returns the scored classes in canonical order.
func (s *Scorer) Classes() []emotion.Emotion {
	out := make([]emotion.Emotion, len(s.classes))
	copy(out, s.classes)
	return out
}

// Prior converts raw provider scores into a boosted distribution over the scored classes.
func (s *Scorer) Prior(raw map[string]float64) (*prior.Distribution, error) {
	d, err := prior.NewDistribution(raw, s.classes, s.cfg.Synonyms, s.cfg.Boosts)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Dissimilarities returns the weighted mean squared error against every prototype.
func (s *Scorer) Dissimilarities(dm geometry.DistanceMatrix) ([]float64, error) {
	if dm.N() != s.n {
		return nil, fmt.Errorf("%w: input has %d landmarks, want %d", corpus.ErrDimensionMismatch, dm.N(), s.n)
	}
	x := dm.UpperTriangle()
	out := make([]float64, len(s.classes))
	if len(x) == 0 {
		return out, nil
	}
	for c, proto := range s.prototypes {
		var sum float64
		for k, v := range x {
			diff := v - proto[k]
			sum += s.weights[k] * diff * diff
		}
		out[c] = sum / float64(len(x))
	}
	return out, nil
}

// Score classifies one distance matrix. dist may be nil when no prior is available.
func (s *Scorer) Score(dm geometry.DistanceMatrix, dist *prior.Distribution) (Result, error) {
	diss, err := s.Dissimilarities(dm)
	if err != nil {
		return Result{}, err
	}
	if dist != nil && dist.IsZero() {
		return Result{}, errors.New("empty prior distribution")
	}

	lo, hi := minMax(diss)
	beta := s.cfg.K / math.Max(hi-lo, spreadEpsilon)
	logits := make([]float64, len(diss))
	for i, d := range diss {
		logits[i] = -beta * d
	}

	blended := dist != nil && s.cfg.Blend
	if blended {
		for i, e := range s.classes {
			logits[i] = (1-s.cfg.Lambda)*logits[i] + s.cfg.Lambda*math.Log(math.Max(dist.Prob(e), logEpsilon))
		}
	}

	probs := softmax(logits)
	best, second := topTwo(probs)

	res := Result{
		Probabilities:   make(map[emotion.Emotion]float64, len(s.classes)),
		Dissimilarities: make(map[emotion.Emotion]float64, len(s.classes)),
		PriorUsed:       dist != nil,
		Blended:         blended,
		Clarity:         clarity(logits),
	}
	for i, e := range s.classes {
		res.Probabilities[e] = probs[i]
		res.Dissimilarities[e] = diss[i]
	}
	if dist != nil {
		res.Prior = dist.Boosted()
	}

	winner, runnerUp := best, second
	if o, idx := s.override(probs, dist); o != nil {
		res.Override = o
		winner = idx
		if best != idx {
			runnerUp = best
		}
	}

	res.Label = s.classes[winner]
	res.Strength = probs[winner]
	res.Margin = res.Strength
	if runnerUp >= 0 {
		res.RunnerUp = s.classes[runnerUp]
		res.Margin = res.Strength - probs[runnerUp]
	}
	return res, nil
}

// override applies the rules in priority order and returns the forced class index.
func (s *Scorer) override(probs []float64, dist *prior.Distribution) (*Override, int) {
	if idx, v, th := s.pick(s.cfg.FinalThresholds, func(i int) float64 { return probs[i] }); idx >= 0 {
		return &Override{Rule: RuleFinalProbability, Class: s.classes[idx], Value: v, Threshold: th}, idx
	}
	if dist == nil {
		return nil, -1
	}
	if idx, v, th := s.pick(s.cfg.PriorThresholds, func(i int) float64 { return dist.Prob(s.classes[i]) }); idx >= 0 {
		return &Override{Rule: RulePrior, Class: s.classes[idx], Value: v, Threshold: th}, idx
	}
	return nil, -1
}

// pick returns the class with the highest value among those meeting their threshold.
// Ties go to the earlier class in canonical order.
func (s *Scorer) pick(thresholds map[emotion.Emotion]float64, value func(int) float64) (int, float64, float64) {
	idx, best, bestTh := -1, math.Inf(-1), 0.0
	for i, e := range s.classes {
		th, ok := thresholds[e]
		if !ok {
			continue
		}
		v := value(i)
		if v >= th && v > best {
			idx, best, bestTh = i, v, th
		}
	}
	return idx, best, bestTh
}

func softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	_, hi := minMax(logits)
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// topTwo returns the indices of the largest and second largest values; -1 when absent.
func topTwo(values []float64) (int, int) {
	best, second := -1, -1
	for i, v := range values {
		switch {
		case best < 0 || v > values[best]:
			best, second = i, best
		case second < 0 || v > values[second]:
			second = i
		}
	}
	return best, second
}

// clarity is the gap between the two largest logits relative to the logit range.
func clarity(logits []float64) float64 {
	if len(logits) < 2 {
		return 1
	}
	lo, hi := minMax(logits)
	if hi-lo <= 0 {
		return 0
	}
	best, second := topTwo(logits)
	return (logits[best] - logits[second]) / (hi - lo)
}

func minMax(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
