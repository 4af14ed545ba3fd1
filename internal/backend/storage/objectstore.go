package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPresignTTL is how long presigned URLs stay valid unless configured otherwise.
const DefaultPresignTTL = 15 * time.Minute

// ObjectStore keeps media blobs and hands out presigned URLs for direct browser access.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxFilenameLength = 100

// SanitizeFilename keeps the base name of a client-supplied file name and replaces
// everything outside [a-zA-Z0-9._-].
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if len(name) > maxFilenameLength {
		name = name[len(name)-maxFilenameLength:]
	}
	if name == "" {
		return "file"
	}
	return name
}

// UploadKey returns a fresh key for a user upload.
func UploadKey(userID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s-%s", userID, uuid.NewString(), SanitizeFilename(filename))
}

func GenerationOutputKey(jobID string) string {
	return fmt.Sprintf("generations/%s/output.png", jobID)
}

func GenerationThumbnailKey(jobID string) string {
	return fmt.Sprintf("generations/%s/thumb.png", jobID)
}

// AllowedUploadType reports whether browsers may upload contentType.
func AllowedUploadType(contentType string) bool {
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if rest, ok := strings.CutPrefix(contentType, prefix); ok && rest != "" {
			return true
		}
	}
	return false
}
