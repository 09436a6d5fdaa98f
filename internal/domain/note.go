package domain

import (
	"slices"
	"strings"
)

// FieldSeparator joins note fields in storage.
const FieldSeparator = "\x1f"

// Note is user-authored content that cards are generated from.
// Scheduling never mutates a note.
type Note struct {
	ID         NoteID   `json:"id"`
	GUID       string   `json:"guid"`
	Fields     []string `json:"fields"`
	Tags       []string `json:"tags"`
	Checksum   uint32   `json:"checksum"`
	ModifiedAt int64    `json:"modified_at"`
	USN        int64    `json:"usn"`
}

// Field returns the i-th field or an empty string.
func (n Note) Field(i int) string {
	if i < 0 || i >= len(n.Fields) {
		return ""
	}
	return n.Fields[i]
}

// JoinFields encodes fields for storage.
func JoinFields(fields []string) string {
	return strings.Join(fields, FieldSeparator)
}

// SplitFields decodes stored fields.
func SplitFields(s string) []string {
	return strings.Split(s, FieldSeparator)
}

// NormalizeTags lowercases, dedupes and sorts a tag set.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// UnionTags merges two tag sets.
func UnionTags(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return NormalizeTags(all)
}

// JoinTags encodes tags for storage, space separated with surrounding spaces.
func JoinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " " + strings.Join(tags, " ") + " "
}

// SplitTags decodes stored tags.
func SplitTags(s string) []string {
	return NormalizeTags(strings.Fields(s))
}
