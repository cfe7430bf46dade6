package corpus

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/logging"
)

// DefaultTolerance bounds asymmetry and diagonal drift accepted in reference files.
const DefaultTolerance = 1e-6

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadOptions configures Load.
type LoadOptions struct {
	// Expected is the landmark count every prototype must match; 0 takes it from the
	// first loaded class in canonical order.
	Expected  int
	Synonyms  emotion.Synonyms
	Tolerance float64
	Logger    *zap.SugaredLogger
}

// Load reads one CSV reference file per class from dir. Classes whose file is broken
// or has the wrong size are dropped and reported in Corpus.Warnings. It fails with
// ErrEmptyReferenceCorpus when nothing loads.
func Load(dir string, opts LoadOptions) (*Corpus, error) {
	if opts.Synonyms == nil {
		opts.Synonyms = emotion.DefaultSynonyms()
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	logger := logging.OrNop(opts.Logger)

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list reference files: %w", err)
	}
	sort.Strings(files)

	var warnings error
	parsed := make(map[emotion.Emotion]geometry.DistanceMatrix)
	sources := make(map[emotion.Emotion]string)

	for _, path := range files {
		name := filepath.Base(path)
		class, ok := ClassForFile(name, opts.Synonyms)
		if !ok {
			logger.Debugw("ignoring file without a class name", "file", name)
			continue
		}
		if prev, dup := sources[class]; dup {
			warnings = multierr.Append(warnings, fmt.Errorf("%s: duplicate file for %s, keeping %s", name, class, filepath.Base(prev)))
			continue
		}
		// Claim the class even if parsing fails so a later duplicate cannot replace it.
		sources[class] = path

		dm, err := readMatrix(path, opts.Tolerance)
		if err != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("%s (%s): %w", name, class, err))
			continue
		}
		parsed[class] = dm
	}

	expected := opts.Expected
	if expected == 0 {
		for _, e := range emotion.All() {
			if dm, ok := parsed[e]; ok {
				expected = dm.N()
				break
			}
		}
	}

	c := &Corpus{
		n:          expected,
		prototypes: make(map[emotion.Emotion]geometry.DistanceMatrix),
		sources:    make(map[emotion.Emotion]string),
	}
	for _, e := range emotion.All() {
		dm, ok := parsed[e]
		if !ok {
			continue
		}
		if dm.N() != expected {
			warnings = multierr.Append(warnings, fmt.Errorf("%s (%s): %w: %dx%d, want %dx%d",
				filepath.Base(sources[e]), e, ErrDimensionMismatch, dm.N(), dm.N(), expected, expected))
			continue
		}
		c.classes = append(c.classes, e)
		c.prototypes[e] = dm
		c.sources[e] = sources[e]
	}
	c.Warnings = warnings

	for _, w := range multierr.Errors(warnings) {
		logger.Warnw("reference class dropped", "error", w)
	}

	if len(c.classes) == 0 {
		if warnings != nil {
			return nil, fmt.Errorf("%w in %s: %w", ErrEmptyReferenceCorpus, dir, warnings)
		}
		return nil, fmt.Errorf("%w in %s", ErrEmptyReferenceCorpus, dir)
	}

	logger.Infow("reference corpus loaded", "dir", dir, "classes", len(c.classes), "landmarks", c.n)
	return c, nil
}

// ClassForFile resolves a reference file name to a class: the lowercased stem, or the
// part after its last '_' or '-', must be a class name or synonym.
func ClassForFile(name string, synonyms emotion.Synonyms) (emotion.Emotion, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if e, ok := synonyms.Resolve(stem); ok {
		return e, true
	}
	if i := strings.LastIndexAny(stem, "_-"); i >= 0 && i < len(stem)-1 {
		return synonyms.Resolve(stem[i+1:])
	}
	return "", false
}

func readMatrix(path string, tol float64) (geometry.DistanceMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geometry.DistanceMatrix{}, fmt.Errorf("%w: %w", ErrMalformedReferenceFile, err)
	}
	rows, err := ParseTable(data)
	if err != nil {
		return geometry.DistanceMatrix{}, fmt.Errorf("%w: %w", ErrMalformedReferenceFile, err)
	}
	dm, err := geometry.FromRows(rows, tol)
	if err != nil {
		return geometry.DistanceMatrix{}, fmt.Errorf("%w: %w", ErrMalformedReferenceFile, err)
	}
	return dm, nil
}

// ParseTable decodes a square numeric CSV table. A UTF-8 BOM, a header row and a
// leading row-index column are tolerated and removed.
func ParseTable(data []byte) ([][]float64, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	records = dropBlankRecords(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("no rows")
	}

	if isHeader(records) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	indexed := true
	for _, rec := range records {
		if len(rec) != len(records)+1 {
			indexed = false
			break
		}
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		if indexed {
			rec = rec[1:]
		}
		if len(rec) != len(records) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(rec), len(records))
		}
		row := make([]float64, len(rec))
		for j, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d column %d is not finite", i, j)
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// isHeader reports whether the first record is a header: its first cell is empty or
// non-numeric, or it is the column sequence 0..N-1 above N data rows.
func isHeader(records [][]string) bool {
	first := records[0]
	cell := strings.TrimSpace(first[0])
	if cell == "" {
		return true
	}
	if _, err := strconv.ParseFloat(cell, 64); err != nil {
		return true
	}
	if len(records)-1 != len(first) {
		return false
	}
	for i, c := range first {
		n, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil || n != i {
			return false
		}
	}
	return true
}

func dropBlankRecords(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		blank := true
		for _, c := range rec {
			if strings.TrimSpace(c) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out
}
