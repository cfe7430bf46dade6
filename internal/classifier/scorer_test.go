package classifier

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kozaktomas/facemotion/internal/corpus"
	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/weights"
)

const tolerance = 1e-9

// pair builds a two-landmark distance matrix whose only pair has distance v.
func pair(t *testing.T, v float64) geometry.DistanceMatrix {
	t.Helper()
	dm, err := geometry.FromRows([][]float64{{0, v}, {v, 0}}, 0)
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	return dm
}

func upper3(t *testing.T, d01, d02, d12 float64) geometry.DistanceMatrix {
	t.Helper()
	dm, err := geometry.FromRows([][]float64{{0, d01, d02}, {d01, 0, d12}, {d02, d12, 0}}, 0)
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	return dm
}

func newScorer(t *testing.T, protos map[emotion.Emotion]geometry.DistanceMatrix, cfg Config) *Scorer {
	t.Helper()
	c, err := corpus.New(protos)
	if err != nil {
		t.Fatalf("corpus.New failed: %v", err)
	}
	w, err := weights.FromCorpus(c, weights.DefaultOptions())
	if err != nil {
		t.Fatalf("weights.FromCorpus failed: %v", err)
	}
	s, err := NewScorer(c, w, cfg)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	return s
}

// geometryOnly disables every override so the argmax always stands.
func geometryOnly() Config {
	cfg := DefaultConfig()
	cfg.FinalThresholds = nil
	cfg.PriorThresholds = nil
	return cfg
}

func sumProbabilities(r Result) float64 {
	var sum float64
	for _, p := range r.Probabilities {
		sum += p
	}
	return sum
}

func TestScore_TwoClassEndToEnd(t *testing.T) {
	a := upper3(t, 0.1, 0.5, 0.5)
	b := upper3(t, 0.9, 0.5, 0.5)
	c, err := corpus.New(map[emotion.Emotion]geometry.DistanceMatrix{emotion.Anger: a, emotion.Happiness: b})
	if err != nil {
		t.Fatalf("corpus.New failed: %v", err)
	}
	w, err := weights.FromCorpus(c, weights.DefaultOptions())
	if err != nil {
		t.Fatalf("weights.FromCorpus failed: %v", err)
	}

	top := w.TopPairs(1)[0]
	if top.I != 0 || top.J != 1 {
		t.Errorf("heaviest pair = (%d,%d), want (0,1)", top.I, top.J)
	}

	s, err := NewScorer(c, w, geometryOnly())
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	res, err := s.Score(upper3(t, 0.85, 0.5, 0.5), nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if res.Label != emotion.Happiness {
		t.Errorf("Label = %s, want happiness", res.Label)
	}
	if res.Dissimilarities[emotion.Happiness] >= res.Dissimilarities[emotion.Anger] {
		t.Errorf("dissimilarity(B)=%v not below dissimilarity(A)=%v",
			res.Dissimilarities[emotion.Happiness], res.Dissimilarities[emotion.Anger])
	}
	if res.RunnerUp != emotion.Anger {
		t.Errorf("RunnerUp = %s, want anger", res.RunnerUp)
	}
}

func TestScore_ProbabilitiesAndIdempotence(t *testing.T) {
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Anger:     pair(t, 0.2),
		emotion.Fear:      pair(t, 0.4),
		emotion.Happiness: pair(t, 0.6),
		emotion.Neutral:   pair(t, 0.8),
	}, geometryOnly())

	for _, v := range []float64{0.1, 0.35, 0.5, 0.79, 1.2} {
		dm := pair(t, v)
		first, err := s.Score(dm, nil)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if math.Abs(sumProbabilities(first)-1) > tolerance {
			t.Errorf("input %v: probabilities sum to %v", v, sumProbabilities(first))
		}
		for e, p := range first.Probabilities {
			if p < 0 {
				t.Errorf("input %v: P(%s) = %v is negative", v, e, p)
			}
		}

		second, _ := s.Score(dm, nil)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("input %v: repeated score differs (-first +second):\n%s", v, diff)
		}
	}
}

func TestScore_NoPriorWinnerIsGeometricArgmax(t *testing.T) {
	protos := map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Anger:    pair(t, 0.15),
		emotion.Disgust:  pair(t, 0.3),
		emotion.Sadness:  pair(t, 0.55),
		emotion.Surprise: pair(t, 0.9),
	}
	s := newScorer(t, protos, geometryOnly())

	for _, v := range []float64{0, 0.2, 0.31, 0.5, 0.7, 1} {
		res, err := s.Score(pair(t, v), nil)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}

		want, best := emotion.Emotion(""), math.Inf(1)
		for _, e := range emotion.All() {
			p, ok := protos[e]
			if !ok {
				continue
			}
			if d := (v - p.At(0, 1)) * (v - p.At(0, 1)); d < best {
				want, best = e, d
			}
		}
		if res.Label != want {
			t.Errorf("input %v: Label = %s, want %s", v, res.Label, want)
		}
		if res.Overridden() || res.PriorUsed {
			t.Errorf("input %v: unexpected override or prior", v)
		}
	}
}

func TestScore_SingleClass(t *testing.T) {
	c, _ := corpus.New(map[emotion.Emotion]geometry.DistanceMatrix{emotion.Happiness: upper3(t, 0.3, 0.4, 0.5)})
	w, err := weights.FromCorpus(c, weights.DefaultOptions())
	if err != nil {
		t.Fatalf("weights.FromCorpus failed: %v", err)
	}
	if !w.IsUniform() {
		t.Error("single-class weights should be uniform")
	}
	s, err := NewScorer(c, w, DefaultConfig())
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}

	for _, in := range []geometry.DistanceMatrix{upper3(t, 0.3, 0.4, 0.5), upper3(t, 0.9, 0.1, 0.2)} {
		res, err := s.Score(in, nil)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if res.Label != emotion.Happiness || res.Probabilities[emotion.Happiness] != 1 {
			t.Errorf("got %s with P=%v, want happiness with 1", res.Label, res.Probabilities[emotion.Happiness])
		}
		if res.Clarity != 1 || res.RunnerUp != "" || res.Margin != 1 {
			t.Errorf("clarity=%v runner-up=%q margin=%v, want 1, empty, 1", res.Clarity, res.RunnerUp, res.Margin)
		}
	}
}

func TestScore_FinalProbabilityOverride(t *testing.T) {
	cfg := geometryOnly()
	cfg.K = 0.5
	cfg.FinalThresholds = map[emotion.Emotion]float64{emotion.Disgust: 0.35}
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Anger:   pair(t, 0.1),
		emotion.Disgust: pair(t, 0.5),
	}, cfg)

	res, err := s.Score(pair(t, 0.2), nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	wantDisgust := 1 / (1 + math.Exp(0.5))
	if math.Abs(res.Probabilities[emotion.Disgust]-wantDisgust) > tolerance {
		t.Fatalf("P(disgust) = %v, want %v", res.Probabilities[emotion.Disgust], wantDisgust)
	}
	if res.Label != emotion.Disgust {
		t.Errorf("Label = %s, want disgust", res.Label)
	}
	if res.RunnerUp != emotion.Anger {
		t.Errorf("RunnerUp = %s, want anger", res.RunnerUp)
	}
	if res.Override == nil || res.Override.Rule != RuleFinalProbability || res.Override.Class != emotion.Disgust {
		t.Fatalf("Override = %+v, want final_probability on disgust", res.Override)
	}
	if math.Abs(res.Override.Value-wantDisgust) > tolerance {
		t.Errorf("Override.Value = %v, want %v", res.Override.Value, wantDisgust)
	}
	if res.Margin >= 0 {
		t.Errorf("Margin = %v, want negative for a forced minority class", res.Margin)
	}
}

func TestScore_PriorOverride(t *testing.T) {
	cfg := geometryOnly()
	cfg.Boosts = nil
	cfg.PriorThresholds = map[emotion.Emotion]float64{emotion.Sadness: 0.45}
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Happiness: pair(t, 0.1),
		emotion.Sadness:   pair(t, 0.5),
	}, cfg)

	dist, err := s.Prior(map[string]float64{"sad": 0.6, "happy": 0.4})
	if err != nil {
		t.Fatalf("Prior failed: %v", err)
	}
	res, err := s.Score(pair(t, 0.1), dist)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if res.Probabilities[emotion.Happiness] <= res.Probabilities[emotion.Sadness] {
		t.Fatal("test setup: happiness should be the argmax")
	}
	if res.Label != emotion.Sadness {
		t.Errorf("Label = %s, want sadness", res.Label)
	}
	if res.Override == nil || res.Override.Rule != RulePrior {
		t.Fatalf("Override = %+v, want prior rule", res.Override)
	}
	if math.Abs(res.Override.Value-0.6) > tolerance {
		t.Errorf("Override.Value = %v, want 0.6", res.Override.Value)
	}
	if res.RunnerUp != emotion.Happiness {
		t.Errorf("RunnerUp = %s, want happiness", res.RunnerUp)
	}
	if !res.PriorUsed || !res.Blended {
		t.Errorf("PriorUsed=%v Blended=%v, want both true", res.PriorUsed, res.Blended)
	}
}

func TestScore_OverridePrecedence(t *testing.T) {
	cfg := geometryOnly()
	cfg.Boosts = nil
	cfg.FinalThresholds = map[emotion.Emotion]float64{emotion.Disgust: 0.3}
	cfg.PriorThresholds = map[emotion.Emotion]float64{emotion.Sadness: 0.45}
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Disgust: pair(t, 0.2),
		emotion.Sadness: pair(t, 0.6),
	}, cfg)

	dist, err := s.Prior(map[string]float64{"sad": 0.9, "disgust": 0.1})
	if err != nil {
		t.Fatalf("Prior failed: %v", err)
	}
	res, err := s.Score(pair(t, 0.2), dist)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Override == nil || res.Override.Rule != RuleFinalProbability || res.Label != emotion.Disgust {
		t.Errorf("Label = %s, Override = %+v; want disgust via final_probability", res.Label, res.Override)
	}
}

func TestScore_PriorOverridePicksHighestPrior(t *testing.T) {
	cfg := geometryOnly()
	cfg.Boosts = map[emotion.Emotion]float64{emotion.Disgust: 1.5, emotion.Sadness: 1.3}
	cfg.PriorThresholds = map[emotion.Emotion]float64{emotion.Disgust: 0.30, emotion.Sadness: 0.30}
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Disgust:   pair(t, 0.3),
		emotion.Happiness: pair(t, 0.1),
		emotion.Sadness:   pair(t, 0.5),
	}, cfg)

	// Boosted and renormalized: disgust ~0.41, sadness ~0.36, happiness ~0.23.
	dist, err := s.Prior(map[string]float64{"disgust": 0.35, "happy": 0.3, "sad": 0.35})
	if err != nil {
		t.Fatalf("Prior failed: %v", err)
	}
	res, err := s.Score(pair(t, 0.1), dist)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Label != emotion.Disgust || res.Override == nil || res.Override.Rule != RulePrior {
		t.Errorf("Label = %s, Override = %+v; want disgust via prior", res.Label, res.Override)
	}
	if res.Override != nil && math.Abs(res.Override.Value-dist.Prob(emotion.Disgust)) > tolerance {
		t.Errorf("Override.Value = %v, want boosted prior %v", res.Override.Value, dist.Prob(emotion.Disgust))
	}
}

func TestScore_LambdaZeroMatchesGeometry(t *testing.T) {
	protos := map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Anger:   pair(t, 0.2),
		emotion.Neutral: pair(t, 0.6),
	}
	cfg := geometryOnly()
	cfg.Lambda = 0
	s := newScorer(t, protos, cfg)

	dist, err := s.Prior(map[string]float64{"neutral": 1})
	if err != nil {
		t.Fatalf("Prior failed: %v", err)
	}
	withPrior, _ := s.Score(pair(t, 0.3), dist)
	without, _ := s.Score(pair(t, 0.3), nil)

	for e, p := range without.Probabilities {
		if math.Abs(withPrior.Probabilities[e]-p) > tolerance {
			t.Errorf("P(%s) = %v with λ=0, want %v", e, withPrior.Probabilities[e], p)
		}
	}
}

func TestScore_EqualDissimilarities(t *testing.T) {
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{
		emotion.Fear:    pair(t, 0.4),
		emotion.Anger:   pair(t, 0.4),
		emotion.Neutral: pair(t, 0.4),
	}, geometryOnly())

	res, err := s.Score(pair(t, 0.9), nil)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Label != emotion.Anger {
		t.Errorf("Label = %s, want anger (canonical tie-break)", res.Label)
	}
	if res.Clarity != 0 {
		t.Errorf("Clarity = %v, want 0", res.Clarity)
	}
	for e, p := range res.Probabilities {
		if math.Abs(p-1.0/3) > tolerance {
			t.Errorf("P(%s) = %v, want 1/3", e, p)
		}
	}
}

func TestScore_DimensionMismatch(t *testing.T) {
	s := newScorer(t, map[emotion.Emotion]geometry.DistanceMatrix{emotion.Anger: pair(t, 0.2)}, DefaultConfig())
	if _, err := s.Score(upper3(t, 1, 1, 1), nil); !errors.Is(err, corpus.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestNewScorer_WeightMismatch(t *testing.T) {
	c, _ := corpus.New(map[emotion.Emotion]geometry.DistanceMatrix{emotion.Anger: pair(t, 0.2)})
	if _, err := NewScorer(c, weights.Uniform(3), DefaultConfig()); !errors.Is(err, corpus.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestClarity(t *testing.T) {
	tests := []struct {
		name   string
		logits []float64
		want   float64
	}{
		{"single", []float64{-3}, 1},
		{"equal", []float64{-1, -1, -1}, 0},
		{"two", []float64{0, -5}, 1},
		{"three", []float64{0, -1, -4}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clarity(tt.logits); math.Abs(got-tt.want) > tolerance {
				t.Errorf("clarity(%v) = %v, want %v", tt.logits, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero K", func(c *Config) { c.K = 0 }, true},
		{"lambda above one", func(c *Config) { c.Lambda = 1.2 }, true},
		{"zero boost", func(c *Config) { c.Boosts[emotion.Sadness] = 0 }, true},
		{"threshold above one", func(c *Config) { c.PriorThresholds[emotion.Disgust] = 1.5 }, true},
		{"unknown class", func(c *Config) { c.FinalThresholds["contempt"] = 0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
