package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/kozaktomas/facemotion/internal/emotion"
	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/logging"
	"github.com/kozaktomas/facemotion/internal/preprocess"
)

// Extractor turns an image file into its normalized distance matrix.
type Extractor interface {
	ExtractDistances(ctx context.Context, path string) (geometry.DistanceMatrix, error)
}

// BuildOptions configures Build.
type BuildOptions struct {
	// InputDir contains one sub-directory of images per class.
	InputDir  string
	OutputDir string
	Synonyms  emotion.Synonyms
	Logger    *zap.SugaredLogger
	// OnImage is called after every image, successful or not.
	OnImage func(path string, err error)
}

// SkippedImage is an image that did not contribute to a prototype.
type SkippedImage struct {
	Path string
	Err  error
}

// BuildReport summarizes a corpus build.
type BuildReport struct {
	Counts  map[emotion.Emotion]int
	Skipped []SkippedImage
	Written []string
}

// ClassImages lists the images of every class directory under root, sorted by path.
// Directories that do not name a class are ignored.
func ClassImages(root string, synonyms emotion.Synonyms) (map[emotion.Emotion][]string, error) {
	if synonyms == nil {
		synonyms = emotion.DefaultSynonyms()
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	out := make(map[emotion.Emotion][]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		class, ok := synonyms.Resolve(entry.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !preprocess.IsImageFile(f.Name()) {
				continue
			}
			out[class] = append(out[class], filepath.Join(dir, f.Name()))
		}
	}
	for class := range out {
		sort.Strings(out[class])
	}
	return out, nil
}

// Build averages the distance matrices of every labeled image per class and writes one
// <class>.csv per class with at least one usable image.
func Build(ctx context.Context, ex Extractor, opts BuildOptions) (*BuildReport, error) {
	logger := logging.OrNop(opts.Logger)

	images, err := ClassImages(opts.InputDir, opts.Synonyms)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no class directories with images in %s", opts.InputDir)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	report := &BuildReport{Counts: make(map[emotion.Emotion]int)}
	n := 0

	for _, class := range emotion.All() {
		paths := images[class]
		if len(paths) == 0 {
			continue
		}

		var mean *mat.SymDense
		count := 0
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			dm, err := ex.ExtractDistances(ctx, path)
			if err == nil && n != 0 && dm.N() != n {
				err = fmt.Errorf("%w: %d landmarks, want %d", ErrDimensionMismatch, dm.N(), n)
			}
			if opts.OnImage != nil {
				opts.OnImage(path, err)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return report, err
				}
				logger.Debugw("skipping image", "path", path, "error", err)
				report.Skipped = append(report.Skipped, SkippedImage{Path: path, Err: err})
				continue
			}
			n = dm.N()

			// Running mean: m += (x - m) / k.
			count++
			if mean == nil {
				mean = mat.NewSymDense(n, nil)
			}
			k := float64(count)
			for i := 0; i < n; i++ {
				for j := i + 1; j < n; j++ {
					m := mean.At(i, j)
					mean.SetSym(i, j, m+(dm.At(i, j)-m)/k)
				}
			}
		}

		if count == 0 {
			logger.Warnw("class has no usable images", "class", class)
			continue
		}

		out := filepath.Join(opts.OutputDir, string(class)+".csv")
		if err := WriteMatrix(out, geometry.FromSym(mean)); err != nil {
			return report, err
		}
		report.Counts[class] = count
		report.Written = append(report.Written, out)
		logger.Infow("prototype written", "class", class, "images", count, "file", out)
	}

	if len(report.Written) == 0 {
		return report, ErrEmptyReferenceCorpus
	}
	return report, nil
}

// WriteMatrix writes dm as a headerless row-major CSV table with 8 decimals.
func WriteMatrix(path string, dm geometry.DistanceMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	record := make([]string, dm.N())
	for _, row := range dm.Rows() {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'f', 8, 64)
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
