package runpod

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Output is the result a worker reports for a completed job. Workers return either
// a URL to the generated media or the image itself, base64 encoded.
type Output struct {
	ImageURL    string `json:"image_url"`
	VideoURL    string `json:"video_url"`
	AudioURL    string `json:"audio_url"`
	ImageBase64 string `json:"image"`
}

// URL returns the first media URL present.
func (o *Output) URL() string {
	for _, u := range []string{o.ImageURL, o.VideoURL, o.AudioURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Image decodes the inline image. A data URL prefix is accepted.
func (o *Output) Image() ([]byte, error) {
	data := o.ImageBase64
	if i := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+len(";base64,"):]
	}
	image, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inline image: %w", err)
	}
	return image, nil
}

// ParseOutput reads a job output. Workers that return a list of results are
// reduced to their first entry.
func ParseOutput(raw json.RawMessage) (*Output, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &Output{}, nil
	}
	var out Output
	if raw[0] == '[' {
		var list []Output
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to parse job output list: %w", err)
		}
		if len(list) > 0 {
			out = list[0]
		}
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse job output: %w", err)
	}
	return &out, nil
}
