package gitsource

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLocalPath(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
		wantErr  bool
	}{
		{url: "https://github.com/owner/notes.git", expected: filepath.Join("repos", "github.com", "owner", "notes")},
		{url: "http://example.com/team/deck", expected: filepath.Join("repos", "example.com", "team", "deck")},
		{url: "git@github.com:owner/notes.git", expected: filepath.Join("repos", "github.com", "owner", "notes")},
		{url: "ftp://example.com/x.git", wantErr: true},
		{url: "git@github.com", wantErr: true},
		{url: "https://github.com/", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := LocalPath("repos", tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Expected an error, but got path %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LocalPath() returned an unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected %s, but got %s", tc.expected, got)
			}
		})
	}
}

func TestIsURL(t *testing.T) {
	for path, want := range map[string]bool{
		"https://github.com/owner/notes": true,
		"git@github.com:owner/notes.git": true,
		"/home/me/notes.git":             true,
		"/home/me/notes":                 false,
		"notes":                          false,
	} {
		if got := IsURL(path); got != want {
			t.Errorf("IsURL(%q) = %v, expected %v", path, got, want)
		}
	}
}

func TestSyncRejectsNonRepository(t *testing.T) {
	s := New(nil, nil)
	if err := s.Sync(context.Background(), "https://example.com/x.git", t.TempDir()); err == nil {
		t.Error("Expected an error pulling into a directory that is not a repository")
	}
}
