package knol

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Normalize concatenates note fields after cleaning each one.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = normalizePart(f)
	}
	// Trailing empty fields do not change a note's identity.
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	// Joined with a newline so "question" and "answer" never run together.
	return strings.Join(parts, "\n")
}

func normalizePart(part string) string {
	p := strings.ToLower(part)
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\r\n", "\n")
	return p
}

// Hash normalizes the fields and returns their SHA-256 hash as a hex string.
// Ingested notes use it as their guid, so re-scanning a source is idempotent.
func Hash(fields []string) string {
	sum := sha256.Sum256([]byte(Normalize(fields)))
	return fmt.Sprintf("%x", sum)
}

// Checksum returns the SHA-1 hex digest of data.
func Checksum(data string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(data)))
}

var (
	htmlTag   = regexp.MustCompile(`(?s)<.*?>`)
	mediaRefs = regexp.MustCompile(`(?i)<img[^>]+src=["']?([^"'>]+)["']?[^>]*>`)
)

// StripHTMLMedia removes markup, keeping the file names of embedded images.
func StripHTMLMedia(s string) string {
	s = mediaRefs.ReplaceAllString(s, " $1 ")
	return strings.TrimSpace(htmlTag.ReplaceAllString(s, ""))
}

// FieldChecksum is the first 4 bytes, big endian, of the SHA-1 of the
// stripped field, used to find duplicate notes quickly.
func FieldChecksum(field string) uint32 {
	sum := sha1.Sum([]byte(StripHTMLMedia(field)))
	return binary.BigEndian.Uint32(sum[:4])
}

const base91 = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#$%&()*+,-./:;<=>?@[]^_`{|}~"

// GUID returns a random 64 bit id in base 91, for notes that are not tied to
// a source file.
func GUID() string {
	var b [8]byte
	rand.Read(b[:])
	return Base91(binary.BigEndian.Uint64(b[:]))
}

// Base91 encodes n with the GUID alphabet.
func Base91(n uint64) string {
	if n == 0 {
		return base91[:1]
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, base91[n%91])
		n /= 91
	}
	slices.Reverse(buf)
	return string(buf)
}
