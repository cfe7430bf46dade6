package logging

import "testing"

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"WARN", false},
		{" error ", false},
		{"verbose", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, false)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for level %q", tt.level)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) failed: %v", tt.level, err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	logger, err := New("info", true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Infow("json logger works", "key", "value")
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a no-op logger for nil input")
	}

	l, err := New("info", false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if OrNop(l) != l {
		t.Error("expected OrNop to return the given logger")
	}
}
