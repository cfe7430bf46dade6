package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facemotion/internal/classifier"
	"github.com/kozaktomas/facemotion/internal/detector"
	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/preprocess"
	"github.com/kozaktomas/facemotion/internal/prior"
	"github.com/kozaktomas/facemotion/internal/weights"
)

//go:embed classifier.yaml
var classifierYAML []byte

type Config struct {
	Corpus     CorpusConfig
	Canvas     CanvasConfig
	Detectors  DetectorConfig
	Weights    WeightsConfig
	Scoring    ScoringConfig
	Prior      PriorConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Log        LogConfig
	Classifier ClassifierTables
}

type CorpusConfig struct {
	Dir       string
	Landmarks int // expected landmark count, 0 takes it from the corpus
}

type CanvasConfig struct {
	Size    int     // defaults to 640
	Padding float64 // defaults to 0.12
}

type DetectorConfig struct {
	Backends       string // comma-separated cascade, e.g. "socket:/tmp/mesh.sock,pigo"
	PigoCascadeDir string
}

type WeightsConfig struct {
	Mode       string // none or variance
	Gamma      float64
	TopPercent float64
	Floor      float64
}

type ScoringConfig struct {
	K      float64
	Blend  bool
	Lambda float64
}

type PriorConfig struct {
	Provider string // none, deepface, ollama, openai, gemini
	URL      string
	Model    string
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type LogConfig struct {
	Level string
	JSON  bool
}

// ClassifierTables are the per-class lookup tables read from classifier.yaml.
type ClassifierTables struct {
	Boosts          map[string]float64 `yaml:"boosts"`
	FinalThresholds map[string]float64 `yaml:"final_thresholds"`
	PriorThresholds map[string]float64 `yaml:"prior_thresholds"`
	Synonyms        map[string]string  `yaml:"synonyms"`
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float. Range checks are left to Validate.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load reads the configuration from the environment. The classifier tables come from
// the embedded classifier.yaml unless FACEMOTION_CLASSIFIER_CONFIG names a replacement.
func Load() (*Config, error) {
	tables, err := loadTables(os.Getenv("FACEMOTION_CLASSIFIER_CONFIG"))
	if err != nil {
		return nil, err
	}

	w := weights.DefaultOptions()
	return &Config{
		Corpus: CorpusConfig{
			Dir:       envString("FACEMOTION_CORPUS_DIR", "corpus"),
			Landmarks: envInt("FACEMOTION_LANDMARKS", 0),
		},
		Canvas: CanvasConfig{
			Size:    envInt("FACEMOTION_CANVAS_SIZE", preprocess.DefaultTargetSize),
			Padding: envFloat("FACEMOTION_PADDING", preprocess.DefaultPadding),
		},
		Detectors: DetectorConfig{
			Backends:       envString("FACEMOTION_DETECTORS", detector.KindPigo),
			PigoCascadeDir: envString("FACEMOTION_PIGO_CASCADE_DIR", "cascade"),
		},
		Weights: WeightsConfig{
			Mode:       envString("FACEMOTION_WEIGHTING", string(weights.ModeVariance)),
			Gamma:      envFloat("FACEMOTION_GAMMA", w.Gamma),
			TopPercent: envFloat("FACEMOTION_TOP_PERCENT", w.TopPercent),
			Floor:      envFloat("FACEMOTION_FLOOR_WEIGHT", w.Floor),
		},
		Scoring: ScoringConfig{
			K:      envFloat("FACEMOTION_TEMPERATURE_K", 5.0),
			Blend:  envBool("FACEMOTION_BLEND", true),
			Lambda: envFloat("FACEMOTION_LAMBDA", 0.35),
		},
		Prior: PriorConfig{
			Provider: envString("FACEMOTION_PRIOR", prior.KindNone),
			URL:      os.Getenv("FACEMOTION_PRIOR_URL"),
			Model:    os.Getenv("FACEMOTION_PRIOR_MODEL"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Log: LogConfig{
			Level: envString("FACEMOTION_LOG_LEVEL", "info"),
			JSON:  envBool("FACEMOTION_LOG_JSON", false),
		},
		Classifier: tables,
	}, nil
}

func loadTables(path string) (ClassifierTables, error) {
	data := classifierYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return ClassifierTables{}, fmt.Errorf("failed to read classifier config: %w", err)
		}
		data = b
	}
	var tables ClassifierTables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return ClassifierTables{}, fmt.Errorf("failed to parse classifier config: %w", err)
	}
	return tables, nil
}

// Validate checks every numeric range before any component is built.
func (c *Config) Validate() error {
	if _, err := c.WeightOptions(); err != nil {
		return err
	}
	if _, err := c.ClassifierConfig(); err != nil {
		return err
	}
	if err := c.PreprocessOptions().Validate(); err != nil {
		return err
	}
	if c.Corpus.Dir == "" {
		return fmt.Errorf("corpus directory is not set")
	}
	return nil
}

// PreprocessOptions returns the canvas settings.
func (c *Config) PreprocessOptions() preprocess.Options {
	return preprocess.Options{TargetSize: c.Canvas.Size, Padding: c.Canvas.Padding}
}

// WeightOptions returns the validated weighting settings.
func (c *Config) WeightOptions() (weights.Options, error) {
	mode, err := weights.ParseMode(c.Weights.Mode)
	if err != nil {
		return weights.Options{}, err
	}
	opts := weights.Options{
		Mode:       mode,
		Gamma:      c.Weights.Gamma,
		TopPercent: c.Weights.TopPercent,
		Floor:      c.Weights.Floor,
	}
	if err := opts.Validate(); err != nil {
		return weights.Options{}, err
	}
	return opts, nil
}

// ClassifierConfig resolves the YAML tables into classes and returns the scorer settings.
func (c *Config) ClassifierConfig() (classifier.Config, error) {
	cfg := classifier.Config{
		K:      c.Scoring.K,
		Lambda: c.Scoring.Lambda,
		Blend:  c.Scoring.Blend,
	}

	extra := make(map[string]emotion.Emotion, len(c.Classifier.Synonyms))
	for label, class := range c.Classifier.Synonyms {
		e, err := emotion.Parse(class)
		if err != nil {
			return classifier.Config{}, fmt.Errorf("synonym %q: %w", label, err)
		}
		extra[label] = e
	}
	cfg.Synonyms = emotion.DefaultSynonyms().Merge(extra)

	var err error
	if cfg.Boosts, err = classTable(cfg.Synonyms, c.Classifier.Boosts); err != nil {
		return classifier.Config{}, fmt.Errorf("boosts: %w", err)
	}
	if cfg.FinalThresholds, err = classTable(cfg.Synonyms, c.Classifier.FinalThresholds); err != nil {
		return classifier.Config{}, fmt.Errorf("final thresholds: %w", err)
	}
	if cfg.PriorThresholds, err = classTable(cfg.Synonyms, c.Classifier.PriorThresholds); err != nil {
		return classifier.Config{}, fmt.Errorf("prior thresholds: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return classifier.Config{}, err
	}
	return cfg, nil
}

func classTable(synonyms emotion.Synonyms, raw map[string]float64) (map[emotion.Emotion]float64, error) {
	out := make(map[emotion.Emotion]float64, len(raw))
	for label, v := range raw {
		e, ok := synonyms.Resolve(label)
		if !ok {
			return nil, fmt.Errorf("unknown emotion %q", label)
		}
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%s: value is NaN", e)
		}
		out[e] = v
	}
	return out, nil
}

// PriorOptions returns the auxiliary prior provider settings.
func (c *Config) PriorOptions() prior.Options {
	return prior.Options{
		Kind:        c.Prior.Provider,
		URL:         c.Prior.URL,
		Model:       c.Prior.Model,
		OpenAIToken: c.OpenAI.Token,
		GeminiKey:   c.Gemini.APIKey,
	}
}

// DetectorOptions returns the cascade definition and backend settings.
func (c *Config) DetectorOptions() ([]detector.Spec, detector.OpenOptions, error) {
	specs, err := detector.ParseSpecs(c.Detectors.Backends)
	if err != nil {
		return nil, detector.OpenOptions{}, err
	}
	po := detector.DefaultPigoOptions()
	po.CascadeDir = c.Detectors.PigoCascadeDir
	return specs, detector.OpenOptions{Pigo: po}, nil
}
