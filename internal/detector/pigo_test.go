package detector

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/kozaktomas/facemotion/internal/preprocess"
)

// TestPigo_DetectFace needs the pigo cascade files (facefinder, puploc, lps/) and a
// photo with one frontal face:
//
//	FACEMOTION_PIGO_CASCADE_DIR=/path/to/cascade FACEMOTION_PIGO_TEST_IMAGE=face.jpg go test ./internal/detector
func TestPigo_DetectFace(t *testing.T) {
	dir := os.Getenv("FACEMOTION_PIGO_CASCADE_DIR")
	imagePath := os.Getenv("FACEMOTION_PIGO_TEST_IMAGE")
	if dir == "" || imagePath == "" {
		t.Skip("FACEMOTION_PIGO_CASCADE_DIR and FACEMOTION_PIGO_TEST_IMAGE not set")
	}

	opts := DefaultPigoOptions()
	opts.CascadeDir = dir
	p, err := NewPigo(opts)
	if err != nil {
		t.Fatalf("NewPigo failed: %v", err)
	}
	defer p.Close()

	img, err := preprocess.DecodeFile(imagePath)
	if err != nil {
		t.Fatalf("DecodeFile failed: %v", err)
	}
	canvas, _, err := preprocess.Letterbox(img, preprocess.DefaultOptions())
	if err != nil {
		t.Fatalf("Letterbox failed: %v", err)
	}

	faces, err := p.Detect(context.Background(), canvas)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) == 0 {
		t.Fatal("no face detected")
	}
	if p.Landmarks() != PigoLandmarks {
		t.Errorf("Landmarks() = %d, want %d", p.Landmarks(), PigoLandmarks)
	}

	for i, f := range faces {
		if len(f.Landmarks) != PigoLandmarks {
			t.Errorf("face %d has %d landmarks, want %d", i, len(f.Landmarks), PigoLandmarks)
		}
		for j, pt := range f.Landmarks {
			if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
				t.Errorf("face %d landmark %d is not finite: %+v", i, j, pt)
			}
		}
		if i > 0 && f.Score > faces[i-1].Score {
			t.Errorf("faces not sorted by score: %v after %v", f.Score, faces[i-1].Score)
		}
	}

	c, err := NewCascade([]Detector{p}, PigoLandmarks, nil)
	if err != nil {
		t.Fatalf("NewCascade failed: %v", err)
	}
	det, err := c.Detect(context.Background(), canvas)
	if err != nil {
		t.Fatalf("cascade Detect failed: %v", err)
	}
	if det.Detector != KindPigo || det.Landmarks.Len() != PigoLandmarks {
		t.Errorf("cascade picked %q with %d landmarks", det.Detector, det.Landmarks.Len())
	}
}
