// Package corpus loads the per-emotion reference distance matrices (prototypes) and
// builds them offline from labeled image folders.
package corpus

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/geometry"
)

var (
	// ErrEmptyReferenceCorpus is returned when no class prototype could be loaded.
	ErrEmptyReferenceCorpus = errors.New("reference corpus is empty")
	// ErrMalformedReferenceFile marks a reference file that could not be parsed.
	ErrMalformedReferenceFile = errors.New("malformed reference file")
	// ErrDimensionMismatch marks a prototype whose size differs from the landmark count.
	ErrDimensionMismatch = errors.New("reference dimension mismatch")
)

// Corpus is the read-only set of class prototypes used for one run.
type Corpus struct {
	n          int
	classes    []emotion.Emotion
	prototypes map[emotion.Emotion]geometry.DistanceMatrix
	sources    map[emotion.Emotion]string

	// Warnings aggregates the problems of dropped classes and ignored files.
	Warnings error
}

// New builds a corpus from in-memory prototypes. All prototypes must share one size.
func New(prototypes map[emotion.Emotion]geometry.DistanceMatrix) (*Corpus, error) {
	c := &Corpus{
		prototypes: make(map[emotion.Emotion]geometry.DistanceMatrix, len(prototypes)),
		sources:    make(map[emotion.Emotion]string, len(prototypes)),
	}
	for _, e := range emotion.All() {
		p, ok := prototypes[e]
		if !ok {
			continue
		}
		if p.N() == 0 {
			return nil, fmt.Errorf("%w: prototype %s is empty", ErrMalformedReferenceFile, e)
		}
		if c.n == 0 {
			c.n = p.N()
		} else if p.N() != c.n {
			return nil, fmt.Errorf("%w: prototype %s is %dx%d, want %dx%d", ErrDimensionMismatch, e, p.N(), p.N(), c.n, c.n)
		}
		c.classes = append(c.classes, e)
		c.prototypes[e] = p
	}
	if len(c.classes) == 0 {
		return nil, ErrEmptyReferenceCorpus
	}
	return c, nil
}

// N is the landmark count shared by every prototype.
func (c *Corpus) N() int { return c.n }

// Classes returns the loaded classes in canonical order.
func (c *Corpus) Classes() []emotion.Emotion {
	out := make([]emotion.Emotion, len(c.classes))
	copy(out, c.classes)
	return out
}

// Len returns the number of loaded classes.
func (c *Corpus) Len() int { return len(c.classes) }

// Prototype returns the reference distance matrix of e.
func (c *Corpus) Prototype(e emotion.Emotion) (geometry.DistanceMatrix, bool) {
	p, ok := c.prototypes[e]
	return p, ok
}

// Source returns the file a prototype was loaded from, if any.
func (c *Corpus) Source(e emotion.Emotion) string {
	return c.sources[e]
}
