package parser

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name            string
		input           string
		expectedEntries int
		expectedQ       string
		expectedA       string
		expectedC       string
		expectedTags    []string
	}{
		{
			name:            "Simple Q&A",
			input:           "Q: What is the capital of France?\nA: Paris",
			expectedEntries: 1,
			expectedQ:       "What is the capital of France?",
			expectedA:       "Paris",
		},
		{
			name:            "Simple Q, A, and C",
			input:           "Q: What is 1+1?\nA: 2\nC: Basic arithmetic",
			expectedEntries: 1,
			expectedQ:       "What is 1+1?",
			expectedA:       "2",
			expectedC:       "Basic arithmetic",
		},
		{
			name: "Multiline Answer",
			input: `
Q: What are the primary colors?
A: Red
Blue
Yellow
`,
			expectedEntries: 1,
			expectedQ:       "What are the primary colors?",
			expectedA:       "Red\nBlue\nYellow",
		},
		{
			name: "Two Entries",
			input: `
Q: First question
A: First answer

Q: Second question
A: Second answer
`,
			expectedEntries: 2,
		},
		{
			name: "Separator ends an entry",
			input: `
Q: First question
A: First answer
---
Stray text between entries.
Q: Second question
`,
			expectedEntries: 2,
		},
		{
			name:            "Tags separated by commas and spaces",
			input:           "Q: What is Go?\nA: A language\nT: lang, go  compiled",
			expectedEntries: 1,
			expectedQ:       "What is Go?",
			expectedA:       "A language",
			expectedTags:    []string{"lang", "go", "compiled"},
		},
		{
			name:            "Answer without a question",
			input:           "A: orphan answer\nmore text",
			expectedEntries: 0,
		},
		{
			name:            "No entries, just text",
			input:           "This is a file with no questions.",
			expectedEntries: 0,
		},
		{
			name:            "Prefixes with no space",
			input:           "Q:Question\nA:Answer",
			expectedEntries: 1,
			expectedQ:       "Question",
			expectedA:       "Answer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := strings.NewReader(tc.input)
			entries, err := Parse(r)
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(entries) != tc.expectedEntries {
				t.Fatalf("Expected %d entries, but got %d", tc.expectedEntries, len(entries))
			}

			if tc.expectedEntries == 1 {
				e := entries[0]
				if e.Question != tc.expectedQ {
					t.Errorf("Expected Question to be '%s', but got '%s'", tc.expectedQ, e.Question)
				}
				if e.Answer != tc.expectedA {
					t.Errorf("Expected Answer to be '%s', but got '%s'", tc.expectedA, e.Answer)
				}
				if e.Context != tc.expectedC {
					t.Errorf("Expected Context to be '%s', but got '%s'", tc.expectedC, e.Context)
				}
				if !slices.Equal(e.Tags, tc.expectedTags) {
					t.Errorf("Expected Tags to be %v, but got %v", tc.expectedTags, e.Tags)
				}
			}
		})
	}
}

func TestParseRecordsLines(t *testing.T) {
	input := "# Notes\n\nQ: one\nA: 1\n\nQ: two\n"
	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() returned an unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, but got %d", len(entries))
	}
	if entries[0].Line != 3 || entries[1].Line != 6 {
		t.Errorf("Expected lines 3 and 6, but got %d and %d", entries[0].Line, entries[1].Line)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.md")
	if err := os.WriteFile(path, []byte("Q: capital of Peru?\nA: Lima\nC: geography\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, but got %d", len(entries))
	}
	want := []string{"capital of Peru?", "Lima", "geography"}
	if got := entries[0].Fields(); !slices.Equal(got, want) {
		t.Errorf("Expected fields %q, but got %q", want, got)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
