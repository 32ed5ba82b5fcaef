package helpers

import (
	"context"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short string untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"long string cut with ellipsis", "hello world", 8, "hello..."},
		{"tiny budget", "hello", 2, "he"},
		{"multibyte safe", "ééééé", 4, "é..."},
		{"zero budget", "hello", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" NQ, ES,,  ")
	if len(got) != 2 || got[0] != "NQ" || got[1] != "ES" {
		t.Errorf("expected [NQ ES], got %v", got)
	}
	if got := SplitCSV(""); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{"nq", "ES", "NQ", " "})
	if len(got) != 2 || got[0] != "NQ" || got[1] != "ES" {
		t.Errorf("expected [NQ ES], got %v", got)
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	if id == "" {
		t.Fatal("expected a generated correlation id")
	}

	nested, nestedID := EnsureCorrelationID(ctx)
	if nestedID != id {
		t.Errorf("expected nested call to reuse %s, got %s", id, nestedID)
	}
	if CorrelationID(nested) != id {
		t.Errorf("expected context to carry %s", id)
	}
}
