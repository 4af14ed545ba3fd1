package database

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// generateSlug derives a url-safe slug from name with a short random suffix,
// so two organizations with the same name never collide.
func generateSlug(name string) (string, error) {
	base := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if base == "" {
		base = "org"
	}
	if len(base) > 40 {
		base = strings.TrimRight(base[:40], "-")
	}
	id, err := generateID()
	if err != nil {
		return "", err
	}
	return base + "-" + id[:8], nil
}
