package runpod

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const WebhookPath = "/api/webhooks/runpod"

// WebhookSigner builds and checks the callback URLs handed to the GPU service. The
// URL carries the job id and an HMAC of it, since the service does not sign calls.
type WebhookSigner struct {
	publicURL string
	secret    []byte
}

func NewWebhookSigner(publicURL, secret string) (*WebhookSigner, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("webhook secret must be at least 16 bytes")
	}
	if _, err := url.Parse(publicURL); err != nil {
		return nil, fmt.Errorf("invalid public url %q: %w", publicURL, err)
	}
	return &WebhookSigner{publicURL: strings.TrimSuffix(publicURL, "/"), secret: []byte(secret)}, nil
}

func (s *WebhookSigner) Sign(jobID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(jobID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSigner) Verify(jobID, signature string) bool {
	if jobID == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(jobID))
	return hmac.Equal(mac.Sum(nil), expected)
}

// URL returns the callback URL for jobID.
func (s *WebhookSigner) URL(jobID string) string {
	query := url.Values{}
	query.Set("jobId", jobID)
	query.Set("sig", s.Sign(jobID))
	return s.publicURL + WebhookPath + "?" + query.Encode()
}
