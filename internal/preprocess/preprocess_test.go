package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/kozaktomas/facemotion/internal/geometry"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"no padding", Options{TargetSize: 64, Padding: 0}, false},
		{"too small", Options{TargetSize: 16, Padding: 0.1}, true},
		{"negative padding", Options{TargetSize: 640, Padding: -0.1}, true},
		{"padding too large", Options{TargetSize: 640, Padding: 0.95}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLetterbox_Geometry(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{"landscape", 1000, 500, 563, 282},
		{"portrait", 300, 600, 282, 563},
		{"square upscaled", 100, 100, 563, 563},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canvas, pl, err := Letterbox(solid(tt.w, tt.h, color.Black), DefaultOptions())
			if err != nil {
				t.Fatalf("Letterbox failed: %v", err)
			}
			if canvas.Bounds().Dx() != 640 || canvas.Bounds().Dy() != 640 {
				t.Fatalf("canvas = %v, want 640x640", canvas.Bounds())
			}

			gotW := int(math.Round(float64(tt.w) * pl.ScaleX))
			gotH := int(math.Round(float64(tt.h) * pl.ScaleY))
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("content = %dx%d, want %dx%d", gotW, gotH, tt.wantW, tt.wantH)
			}
			if int(pl.OffsetX) != (640-gotW)/2 || int(pl.OffsetY) != (640-gotH)/2 {
				t.Errorf("offset = (%v, %v), not centered", pl.OffsetX, pl.OffsetY)
			}
		})
	}
}

func TestLetterbox_WhiteMargins(t *testing.T) {
	canvas, pl, err := Letterbox(solid(200, 100, color.Black), DefaultOptions())
	if err != nil {
		t.Fatalf("Letterbox failed: %v", err)
	}

	corner := canvas.RGBAAt(0, 0)
	if corner != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("corner pixel = %v, want white", corner)
	}
	center := canvas.RGBAAt(320, 320)
	if center.R > 10 || center.G > 10 || center.B > 10 {
		t.Errorf("center pixel = %v, want black content", center)
	}
	// The letterbox band above the content stays white.
	if px := canvas.RGBAAt(320, int(pl.OffsetY)-2); px.R != 255 {
		t.Errorf("band pixel = %v, want white", px)
	}
}

func TestLetterbox_Invalid(t *testing.T) {
	if _, _, err := Letterbox(nil, DefaultOptions()); err == nil {
		t.Error("expected error for nil image")
	}
	empty := image.NewRGBA(image.Rect(0, 0, 0, 0))
	if _, _, err := Letterbox(empty, DefaultOptions()); err == nil {
		t.Error("expected error for empty image")
	}
	if _, _, err := Letterbox(solid(10, 10, color.Black), Options{TargetSize: 8}); err == nil {
		t.Error("expected error for invalid options")
	}
}

func TestPlacement_RoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 20, 410, 220))
	_, pl, err := Letterbox(img, DefaultOptions())
	if err != nil {
		t.Fatalf("Letterbox failed: %v", err)
	}

	src := geometry.Point{X: 110, Y: 70}
	back := pl.ToSource(pl.ToCanvas(src))
	if math.Abs(back.X-src.X) > 1e-9 || math.Abs(back.Y-src.Y) > 1e-9 {
		t.Errorf("ToSource(ToCanvas(%v)) = %v", src, back)
	}

	topLeft := pl.ToSource(geometry.Point{X: pl.OffsetX, Y: pl.OffsetY})
	if math.Abs(topLeft.X-10) > 1e-9 || math.Abs(topLeft.Y-20) > 1e-9 {
		t.Errorf("content origin maps to %v, want (10, 20)", topLeft)
	}
}

func TestDecodeAndEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(120, 60, color.RGBA{200, 10, 10, 255})); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}

	img, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 60 {
		t.Errorf("decoded bounds = %v, want 120x60", img.Bounds())
	}

	data, err := EncodeJPEG(img, 30)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	small, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding jpeg failed: %v", err)
	}
	if small.Bounds().Dx() != 30 || small.Bounds().Dy() != 15 {
		t.Errorf("resized bounds = %v, want 30x15", small.Bounds())
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("expected decode error")
	}
}
