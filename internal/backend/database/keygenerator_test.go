package database

import (
	"regexp"
	"strings"
	"testing"
)

func Test_generateID_FormatAndUniqueness(t *testing.T) {
	// UUID v4 pattern: 8-4-4-4-12 hex, version 4 and variant 10xx
	uuidV4Pattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	const n = 256
	seen := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		got, err := generateID()
		if err != nil {
			t.Fatalf("generateID() returned error: %v", err)
		}
		if !uuidV4Pattern.MatchString(got) {
			t.Fatalf("generateID() returned invalid UUID v4 format: %q", got)
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("generateID() returned duplicate UUID: %q", got)
		}
		seen[got] = struct{}{}
	}
}

func Test_generateSlug(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
	}{
		{name: "simple", input: "Acme Studio", wantPrefix: "acme-studio-"},
		{name: "punctuation", input: "  Hello, World!! ", wantPrefix: "hello-world-"},
		{name: "empty", input: "", wantPrefix: "org-"},
		{name: "only symbols", input: "***", wantPrefix: "org-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := generateSlug(tt.input)
			if err != nil {
				t.Fatalf("generateSlug(%q) error: %v", tt.input, err)
			}
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Fatalf("generateSlug(%q) = %q, want prefix %q", tt.input, got, tt.wantPrefix)
			}
			if len(got) != len(tt.wantPrefix)+8 {
				t.Fatalf("generateSlug(%q) = %q, want 8 character suffix", tt.input, got)
			}
		})
	}
}
