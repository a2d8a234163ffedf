package gateway

import (
	"strings"
	"testing"
)

func TestCatalogPlaceholderCounts(t *testing.T) {
	// Every operation must bind exactly as many values as its SQL has
	// placeholders: optional params twice, required params once.
	for name, op := range Catalog() {
		want := 0
		for _, p := range op.Params {
			if p.Required {
				want++
			} else {
				want += 2
			}
		}
		if got := strings.Count(op.SQL, "?"); got != want {
			t.Errorf("%s: %d placeholders for %d bound values", name, got, want)
		}
	}
}

func TestBindArgsOptionalEmpty(t *testing.T) {
	op := Catalog()["banka_bakiyeleri"]

	args, err := bindArgs(op, map[string]any{"banka_adi": "  ", "para_birimi": nil})
	if err != nil {
		t.Fatalf("bindArgs: %v", err)
	}
	for i, a := range args {
		if a != nil {
			t.Errorf("arg %d should be NULL for empty filter, got %v", i, a)
		}
	}
}

func TestBindArgsRequiredMissing(t *testing.T) {
	op := Catalog()["teklif_detay"]
	if _, err := bindArgs(op, nil); err == nil {
		t.Fatal("missing required parameter accepted")
	}
	if _, err := bindArgs(op, map[string]any{"teklif_no": "TEK-2024-001"}); err != nil {
		t.Fatalf("bindArgs with required param: %v", err)
	}
}

func TestBindArgsDoubleBinding(t *testing.T) {
	op := Catalog()["cari_hareket"]
	args, err := bindArgs(op, map[string]any{
		"cari_unvani":      "ACME",
		"baslangic_tarihi": "2025-01-01",
	})
	if err != nil {
		t.Fatalf("bindArgs: %v", err)
	}
	// Required binds once, each optional binds twice: 1 + 2 + 2.
	if len(args) != 5 {
		t.Fatalf("expected 5 bound values, got %d", len(args))
	}
	if args[0] != "ACME" {
		t.Errorf("required param not bound first: %v", args[0])
	}
	if args[1] != "2025-01-01" || args[2] != "2025-01-01" {
		t.Errorf("optional param not double-bound: %v %v", args[1], args[2])
	}
	if args[3] != nil || args[4] != nil {
		t.Errorf("absent optional should bind NULL twice: %v %v", args[3], args[4])
	}
}

func TestRebindPositional(t *testing.T) {
	got := rebindPositional("SELECT * FROM t WHERE (? IS NULL OR a = ?) AND b = ?")
	want := "SELECT * FROM t WHERE ($1 IS NULL OR a = $2) AND b = $3"
	if got != want {
		t.Errorf("rebindPositional = %q, want %q", got, want)
	}
}

func TestScrubString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GARANTİ\x00\x00\x00", "GARANTİ"},
		{"  padded  ", "padded"},
		{"line1\nline2", "line1\nline2"},
		{"tab\there", "tab\there"},
		{"bell\a and escape\x1b", "bell and escape"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ScrubString(tt.in); got != tt.want {
			t.Errorf("ScrubString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
