package media

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
)

const AspectCropCommandName = "AspectCropCommand"

// Feed images of most social networks must lie between portrait 4:5 and
// landscape 1.91:1.
const (
	defaultMinRatio = 0.8
	defaultMaxRatio = 1.91
)

// AspectCropCommand center-crops a PNG whose width/height ratio lies outside
// [minRatio, maxRatio] to the nearest allowed ratio.
type AspectCropCommand struct {
	minRatio float64
	maxRatio float64
}

func NewAspectCropCommand(params map[string]any) (Command, error) {
	minRatio := floatParam(params, "minRatio", defaultMinRatio)
	maxRatio := floatParam(params, "maxRatio", defaultMaxRatio)
	if minRatio <= 0 || maxRatio < minRatio {
		return nil, fmt.Errorf("ratios must satisfy 0 < minRatio <= maxRatio, got %.2f and %.2f", minRatio, maxRatio)
	}
	return &AspectCropCommand{minRatio: minRatio, maxRatio: maxRatio}, nil
}

func (c *AspectCropCommand) Name() string {
	return AspectCropCommandName
}

func (c *AspectCropCommand) Execute(imageData []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	b := src.Bounds()
	cropW, cropH := c.cropSize(b.Dx(), b.Dy())
	if cropW == b.Dx() && cropH == b.Dy() {
		return imageData, nil
	}

	slog.Debug("AspectCropCommand: cropping", "width", b.Dx(), "height", b.Dy(), "crop_width", cropW, "crop_height", cropH)
	x0 := b.Min.X + (b.Dx()-cropW)/2
	y0 := b.Min.Y + (b.Dy()-cropH)/2
	dst := image.NewRGBA(image.Rect(0, 0, cropW, cropH))
	draw.Draw(dst, dst.Bounds(), src, image.Pt(x0, y0), draw.Src)
	return encodePNG(dst)
}

func (c *AspectCropCommand) cropSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	ratio := float64(w) / float64(h)
	switch {
	case ratio > c.maxRatio:
		return max(1, int(math.Round(float64(h)*c.maxRatio))), h
	case ratio < c.minRatio:
		return w, max(1, int(math.Round(float64(w)/c.minRatio)))
	}
	return w, h
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func init() {
	mustRegister(AspectCropCommandName, NewAspectCropCommand)
}
