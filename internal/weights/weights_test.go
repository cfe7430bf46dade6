package weights

import (
	"math"
	"testing"

	"github.com/kozaktomas/facemotion/internal/geometry"
)

const tolerance = 1e-9

func fromUpper(t *testing.T, n int, upper []float64) geometry.DistanceMatrix {
	t.Helper()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
	}
	for k, v := range upper {
		i, j := geometry.PairIndex(n, k)
		rows[i][j], rows[j][i] = v, v
	}
	dm, err := geometry.FromRows(rows, 0)
	if err != nil {
		t.Fatalf("FromRows failed: %v", err)
	}
	return dm
}

func checkSymmetricNonNegative(t *testing.T, w Matrix) {
	t.Helper()
	for i := 0; i < w.N(); i++ {
		for j := 0; j < w.N(); j++ {
			if w.At(i, j) != w.At(j, i) {
				t.Errorf("w(%d,%d)=%v != w(%d,%d)=%v", i, j, w.At(i, j), j, i, w.At(j, i))
			}
			if w.At(i, j) < 0 {
				t.Errorf("w(%d,%d)=%v is negative", i, j, w.At(i, j))
			}
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"none", Options{Mode: ModeNone, Gamma: 1}, false},
		{"gamma below one", Options{Mode: ModeVariance, Gamma: 0.5}, true},
		{"top percent 100", Options{Mode: ModeVariance, Gamma: 1, TopPercent: 100}, true},
		{"negative floor", Options{Mode: ModeVariance, Gamma: 1, Floor: -1}, true},
		{"unknown mode", Options{Mode: "entropy", Gamma: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"variance", ModeVariance, false},
		{" NONE ", ModeNone, false},
		{"", ModeVariance, false},
		{"pca", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestBuild_UniformCases(t *testing.T) {
	a := fromUpper(t, 3, []float64{0.1, 0.5, 0.5})
	b := fromUpper(t, 3, []float64{0.9, 0.5, 0.7})

	tests := []struct {
		name       string
		prototypes []geometry.DistanceMatrix
		opts       Options
	}{
		{"single class", []geometry.DistanceMatrix{a}, DefaultOptions()},
		{"mode none", []geometry.DistanceMatrix{a, b}, Options{Mode: ModeNone, Gamma: 1}},
		{"identical prototypes", []geometry.DistanceMatrix{a, a}, DefaultOptions()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Build(tt.prototypes, 3, tt.opts)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if !w.IsUniform() {
				t.Error("IsUniform() = false, want true")
			}
			for _, v := range w.UpperTriangle() {
				if v != 1 {
					t.Errorf("pair weight = %v, want 1", v)
				}
			}
		})
	}
}

func TestBuild_NormalizedVarianceWithoutAmplification(t *testing.T) {
	protos := []geometry.DistanceMatrix{
		fromUpper(t, 3, []float64{0.1, 0.5, 0.5}),
		fromUpper(t, 3, []float64{0.9, 0.5, 0.7}),
		fromUpper(t, 3, []float64{0.4, 0.5, 0.6}),
	}

	w, err := Build(protos, 3, Options{Mode: ModeVariance, Gamma: 1, TopPercent: 0, Floor: 0.05})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkSymmetricNonNegative(t, w)

	variance := func(xs ...float64) float64 {
		var m float64
		for _, x := range xs {
			m += x
		}
		m /= float64(len(xs))
		var v float64
		for _, x := range xs {
			v += (x - m) * (x - m)
		}
		return v / float64(len(xs))
	}
	raw := []float64{variance(0.1, 0.9, 0.4), variance(0.5, 0.5, 0.5), variance(0.5, 0.7, 0.6)}
	mean := (raw[0] + raw[1] + raw[2]) / 3

	for k, got := range w.UpperTriangle() {
		if want := raw[k] / mean; math.Abs(got-want) > tolerance {
			t.Errorf("pair %d weight = %v, want %v", k, got, want)
		}
	}
	if math.Abs(w.Mean()-1) > tolerance {
		t.Errorf("Mean() = %v, want 1", w.Mean())
	}
}

func TestBuild_SingleDiscriminativePair(t *testing.T) {
	n := 5
	base := make([]float64, geometry.PairCount(n))
	for k := range base {
		base[k] = 0.3 + 0.01*float64(k)
	}
	a := append([]float64(nil), base...)
	b := append([]float64(nil), base...)
	a[4], b[4] = 0.1, 0.9

	w, err := Build([]geometry.DistanceMatrix{fromUpper(t, n, a), fromUpper(t, n, b)}, n, DefaultOptions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkSymmetricNonNegative(t, w)

	top := w.TopPairs(1)[0]
	wi, wj := geometry.PairIndex(n, 4)
	if top.I != wi || top.J != wj {
		t.Errorf("heaviest pair = (%d,%d), want (%d,%d)", top.I, top.J, wi, wj)
	}
	for k, v := range w.UpperTriangle() {
		if k != 4 && v >= top.Weight {
			t.Errorf("pair %d weight %v is not below the discriminative pair's %v", k, v, top.Weight)
		}
	}
}

func TestBuild_TopPercent(t *testing.T) {
	n := 4 // 6 pairs
	a := []float64{0.10, 0.20, 0.30, 0.40, 0.50, 0.60}
	b := []float64{0.11, 0.24, 0.39, 0.56, 0.75, 0.96}

	w, err := Build([]geometry.DistanceMatrix{fromUpper(t, n, a), fromUpper(t, n, b)}, n,
		Options{Mode: ModeVariance, Gamma: 2, TopPercent: 50, Floor: 0.05})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkSymmetricNonNegative(t, w)

	upper := w.UpperTriangle()
	var kept []float64
	for k, v := range upper {
		if k < 3 {
			if v != 0.05 {
				t.Errorf("pair %d weight = %v, want floor 0.05", k, v)
			}
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) != 3 {
		t.Fatalf("kept %d pairs, want 3", len(kept))
	}
	mean := (kept[0] + kept[1] + kept[2]) / 3
	if math.Abs(mean-1) > tolerance {
		t.Errorf("retained mean = %v, want 1", mean)
	}
	if !(kept[0] < kept[1] && kept[1] < kept[2]) {
		t.Errorf("retained weights %v lost their order", kept)
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	a := fromUpper(t, 3, []float64{0.1, 0.5, 0.5})
	if _, err := Build([]geometry.DistanceMatrix{a}, 4, DefaultOptions()); err == nil {
		t.Error("expected error for prototype size mismatch")
	}
}

func TestTopPairs(t *testing.T) {
	protos := []geometry.DistanceMatrix{
		fromUpper(t, 3, []float64{0.1, 0.5, 0.2}),
		fromUpper(t, 3, []float64{0.9, 0.5, 0.4}),
	}
	w, err := Build(protos, 3, Options{Mode: ModeVariance, Gamma: 1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	pairs := w.TopPairs(2)
	if len(pairs) != 2 {
		t.Fatalf("len(TopPairs(2)) = %d, want 2", len(pairs))
	}
	if pairs[0].I != 0 || pairs[0].J != 1 || pairs[1].I != 1 || pairs[1].J != 2 {
		t.Errorf("TopPairs = %+v, want (0,1) then (1,2)", pairs)
	}
	if got := len(w.TopPairs(-1)); got != 3 {
		t.Errorf("len(TopPairs(-1)) = %d, want all 3", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1}, {50, 3.5}, {80, 5}, {100, 6},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); math.Abs(got-tt.want) > tolerance {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
