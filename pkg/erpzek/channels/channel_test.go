package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := SplitMessage("hello", MaxMessageChars)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("short message should be one chunk: %v", chunks)
	}
}

func TestSplitMessageLong(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("🏦 GARANTİ BANKASI - 1.234.567,89 TL\n")
	}
	text := sb.String()

	chunks := SplitMessage(text, MaxMessageChars)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if len(c) > MaxMessageChars {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split inside a rune", i)
		}
	}
}

func TestSplitMessageNoWhitespace(t *testing.T) {
	text := strings.Repeat("ü", 3000) // 2 bytes each, no break points
	chunks := SplitMessage(text, MaxMessageChars)

	var rejoined strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d split inside a rune", i)
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != text {
		t.Error("chunks do not reassemble to the original text")
	}
}

func TestSplitMessageBreaksAtNewline(t *testing.T) {
	line := strings.Repeat("a", 100) + "\n"
	text := strings.Repeat(line, 50) // 5050 bytes

	chunks := SplitMessage(text, MaxMessageChars)
	for i, c := range chunks[:len(chunks)-1] {
		if strings.Contains(strings.TrimSpace(c), "\n") && len(c) == MaxMessageChars {
			t.Errorf("chunk %d was hard-cut despite newline break points", i)
		}
	}
}
