package knol

import (
	"strconv"
	"testing"
)

func TestNormalize(t *testing.T) {
	fields := []string{"  What is HTMX? \r\n", "A library for AJAX.", "Web Development"}
	expected := "what is htmx?\na library for ajax.\nweb development"
	normalized := Normalize(fields)

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		// Hash for "q\na\nc"
		expectedHash := "eb2456c1ee4f36305069dd0f63a30e92d5443129f5e8fd9a5ec490fbc4d4d8a2"
		hash := Hash([]string{"Q", "A", "C"})

		if hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("trailing empty fields are ignored", func(t *testing.T) {
		if Hash([]string{"Test", "Answer"}) != Hash([]string{"Test", "Answer", ""}) {
			t.Error("Expected an empty context field not to change the hash")
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		a := []string{"  what is go? ", "A programming language."}
		b := []string{"What Is Go?", "A programming language."}
		if Hash(a) != Hash(b) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different notes have different hashes", func(t *testing.T) {
		if Hash([]string{"Card 1"}) == Hash([]string{"Card 2"}) {
			t.Error("Expected hashes for different notes to be different")
		}
	})
}

func TestChecksum(t *testing.T) {
	// sha1("abc")
	if got := Checksum("abc"); got != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("Expected sha1 of abc, but got %s", got)
	}
}

func TestFieldChecksum(t *testing.T) {
	if got := FieldChecksum("abc"); got != 0xa9993e36 {
		t.Errorf("Expected 0xa9993e36, but got %#x", got)
	}
	for _, field := range []string{"", "abc", "What is a goroutine?", "ünïcode"} {
		want, err := strconv.ParseUint(Checksum(StripHTMLMedia(field))[:8], 16, 32)
		if err != nil {
			t.Fatalf("Expected a hex digest for %q, but got %v", field, err)
		}
		if got := FieldChecksum(field); got != uint32(want) {
			t.Errorf("Expected the first 8 hex digits %#x for %q, but got %#x", want, field, got)
		}
	}
	if FieldChecksum("<b>abc</b>") != FieldChecksum("abc") {
		t.Error("Expected markup to be ignored by the field checksum")
	}
	if StripHTMLMedia(`see <img src="cat.jpg"> here`) != "see  cat.jpg  here" {
		t.Errorf("Unexpected stripped media: %q", StripHTMLMedia(`see <img src="cat.jpg"> here`))
	}
}

func TestBase91(t *testing.T) {
	testCases := map[uint64]string{0: "a", 90: "~", 91: "ba", 91*91 + 1: "bab"}
	for n, expected := range testCases {
		if got := Base91(n); got != expected {
			t.Errorf("Base91(%d): expected %s, but got %s", n, expected, got)
		}
	}
	if GUID() == GUID() {
		t.Error("Expected two random guids to differ")
	}
}
