package relay

import (
	"strings"
	"testing"
)

func TestNewTagShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		tag, err := NewTag()
		if err != nil {
			t.Fatalf("NewTag: %v", err)
		}
		if len(tag) != 8 {
			t.Fatalf("unexpected length %q", tag)
		}
		for _, r := range tag {
			if !strings.ContainsRune(tagAlphabet, r) {
				t.Fatalf("unexpected rune %q in %q", r, tag)
			}
		}
		seen[tag] = true
	}
	if len(seen) < 190 {
		t.Fatalf("tags collide too often: %d unique of 200", len(seen))
	}
}

func TestAppendThenExtract(t *testing.T) {
	for _, text := range []string{"hello", "  padded  ", "", "multi\nline\ntext", "mentions [UID:FAKE] inline", "[UID:ZZZZ]"} {
		tag, err := NewTag()
		if err != nil {
			t.Fatal(err)
		}
		got, ok := ExtractTag(AppendTag(text, tag))
		if !ok || got != tag {
			t.Fatalf("text %q: extracted %q ok=%v, want %q", text, got, ok, tag)
		}
	}
}

func TestAppendTagFormat(t *testing.T) {
	if got := AppendTag("  hi there \n", "ABCD1234"); got != "hi there\n[UID:ABCD1234]" {
		t.Fatalf("unexpected %q", got)
	}
	if got := AppendTag("   ", "ABCD1234"); got != "[UID:ABCD1234]" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestExtractTag(t *testing.T) {
	cases := []struct {
		text string
		tag  string
		ok   bool
	}{
		{"hello\n[UID:ABCD1234]", "ABCD1234", true},
		{"[UID:AAAA] then [UID:BBBB]", "BBBB", true},
		{"[UID:BBBB] trailing words", "BBBB", true},
		{"[UID:abc12345]", "", false},
		{"[UID:ABC]", "", false},
		{"[UID:" + strings.Repeat("A", 33) + "]", "", false},
		{"[UID:" + strings.Repeat("A", 32) + "]", strings.Repeat("A", 32), true},
		{"x[UID:ABCD1234]", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		tag, ok := ExtractTag(tc.text)
		if ok != tc.ok || tag != tc.tag {
			t.Fatalf("ExtractTag(%q) = %q %v, want %q %v", tc.text, tag, ok, tc.tag, tc.ok)
		}
	}
}
