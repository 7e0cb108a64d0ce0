package content

import (
	"strings"
	"testing"
)

func TestTruncateUnderBudgetUnchanged(t *testing.T) {
	text := "short text."
	if got := Truncate(text, 100); got != text {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestTruncateCutsAtSentenceBoundary(t *testing.T) {
	// 100-token budget = 400 bytes. Build sentences so a period lands inside
	// the final 20% window of the slice.
	sentence := strings.Repeat("word ", 15) + "end. " // 80 bytes
	text := strings.Repeat(sentence, 10)              // 800 bytes

	got := Truncate(text, 100)
	if !strings.HasSuffix(got, TruncationNotice) {
		t.Fatalf("truncation notice missing: %q", got)
	}
	body := strings.TrimSuffix(got, TruncationNotice)
	if !strings.HasSuffix(body, "end.") {
		t.Fatalf("expected sentence-boundary cut, got tail %q", body[len(body)-20:])
	}
	if len(body) > 400 {
		t.Fatalf("body exceeds byte budget: %d", len(body))
	}
}

func TestTruncateWithoutSentenceInWindowKeepsRawSlice(t *testing.T) {
	text := strings.Repeat("x", 1000) // no period anywhere
	got := Truncate(text, 100)
	body := strings.TrimSuffix(got, TruncationNotice)
	if len(body) != 400 {
		t.Fatalf("expected raw 400-byte slice, got %d bytes", len(body))
	}
}

func TestTruncateIdempotent(t *testing.T) {
	texts := []string{
		strings.Repeat("some sentence here. ", 100),
		strings.Repeat("y", 2000),
		"tiny",
	}
	for _, text := range texts {
		once := Truncate(text, 100)
		if twice := Truncate(once, 100); twice != once {
			t.Fatalf("not idempotent: %d vs %d bytes", len(once), len(twice))
		}
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	text := strings.Repeat("é", 1000) // 2 bytes each; a naive cut can split a rune
	got := Truncate(text, 100)
	body := strings.TrimSuffix(got, TruncationNotice)
	if !strings.HasPrefix(text, body) {
		t.Fatal("body is not a prefix of the input")
	}
	for _, r := range body {
		if r == '�' {
			t.Fatal("truncation produced invalid UTF-8")
		}
	}
}

func TestTruncateEndToEndBudget(t *testing.T) {
	// A 20000-char blob against a 4000-token (16000-byte) budget.
	text := strings.Repeat(strings.Repeat("a", 99)+".", 200)
	got := Truncate(text, 4000)
	if len(got) > 16000+len(TruncationNotice) {
		t.Fatalf("output too long: %d", len(got))
	}
	if !strings.HasSuffix(got, TruncationNotice) {
		t.Fatal("expected truncation notice at the end")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("expected 1 token, got %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Fatalf("expected ceil division, got %d", got)
	}
}
