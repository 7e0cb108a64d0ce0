package content

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCapContentUnderLimitUnchanged(t *testing.T) {
	text := "short page body"
	if got := capContent(text, LocalPageCap); got != text {
		t.Fatalf("under-limit content must pass through, got %q", got)
	}
	if got := capContent(text, 0); got != text {
		t.Fatalf("zero limit must disable the cap, got %q", got)
	}
}

func TestCapContentMarksCappedContent(t *testing.T) {
	text := strings.Repeat("a", LocalPageCap+100)
	got := capContent(text, LocalPageCap)

	if !strings.HasSuffix(got, pageCapMarker) {
		t.Fatalf("capped content missing marker: %q", got[len(got)-40:])
	}
	if len(got) > LocalPageCap+len(pageCapMarker) {
		t.Fatalf("capped content too long: %d bytes", len(got))
	}
}

func TestCapContentKeepsValidUTF8(t *testing.T) {
	// 3-byte runes: a 4000-byte cap lands mid-rune and must back off.
	text := strings.Repeat("€", 2000)
	got := capContent(text, LocalPageCap)

	if !utf8.ValidString(got) {
		t.Fatal("capped content is not valid UTF-8")
	}
	if !strings.HasSuffix(got, pageCapMarker) {
		t.Fatal("capped content missing marker")
	}
	if len(got) > LocalPageCap+len(pageCapMarker) {
		t.Fatalf("capped content too long: %d bytes", len(got))
	}
}
