package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\My Photo (1).jpg`, "My-Photo-1-.jpg"},
		{"   ", "file"},
		{"..", "file"},
		{strings.Repeat("a", 120) + ".png", strings.Repeat("a", 96) + ".png"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	key := UploadKey("user_1", "my clip.mp4")
	if !strings.HasPrefix(key, "uploads/user_1/") || !strings.HasSuffix(key, "-my-clip.mp4") {
		t.Fatalf("unexpected upload key %q", key)
	}
	if key == UploadKey("user_1", "my clip.mp4") {
		t.Fatalf("upload keys must be unique")
	}
	if got := GenerationOutputKey("j1"); got != "generations/j1/output.png" {
		t.Errorf("GenerationOutputKey = %q", got)
	}
	if got := GenerationThumbnailKey("j1"); got != "generations/j1/thumb.png" {
		t.Errorf("GenerationThumbnailKey = %q", got)
	}
}

func TestAllowedUploadType(t *testing.T) {
	tests := map[string]bool{
		"image/png":                true,
		"video/mp4":                true,
		"audio/mpeg":               true,
		"image/":                   false,
		"application/pdf":          false,
		"text/html":                false,
		"":                         false,
		"application/x-msdownload": false,
	}
	for contentType, want := range tests {
		if got := AllowedUploadType(contentType); got != want {
			t.Errorf("AllowedUploadType(%q) = %v, want %v", contentType, got, want)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore("media")
	ctx := context.Background()

	data := []byte("png-bytes")
	if err := store.Put(ctx, "generations/j1/output.png", "image/png", data); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	data[0] = 'X'

	obj, ok := store.Get("generations/j1/output.png")
	if !ok {
		t.Fatalf("object not stored")
	}
	if string(obj.Data) != "png-bytes" || obj.ContentType != "image/png" {
		t.Fatalf("unexpected object %+v", obj)
	}

	u, err := store.PresignGet(ctx, "generations/j1/output.png", time.Minute)
	if err != nil {
		t.Fatalf("PresignGet error: %v", err)
	}
	if !strings.HasPrefix(u, "memory://media/generations/j1/output.png?expires=") {
		t.Fatalf("unexpected url %q", u)
	}
}

func TestS3Store_Presign(t *testing.T) {
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "media",
		Region:          "eu-central-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}

	raw, err := store.PresignPut(context.Background(), "uploads/u1/a.png", "image/png", 10*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("presigned url not parseable: %v", err)
	}
	if u.Host != "localhost:9000" || u.Path != "/media/uploads/u1/a.png" {
		t.Fatalf("unexpected presigned url %s", raw)
	}
	q := u.Query()
	if q.Get("X-Amz-Expires") != "600" || q.Get("X-Amz-Signature") == "" {
		t.Fatalf("presigned url lacks signature or expiry: %s", raw)
	}

	raw, err = store.PresignGet(context.Background(), "generations/j1/thumb.png", 0)
	if err != nil {
		t.Fatalf("PresignGet error: %v", err)
	}
	if !strings.Contains(raw, "X-Amz-Expires=900") {
		t.Fatalf("expected default expiry in %s", raw)
	}

	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
