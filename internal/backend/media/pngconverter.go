package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"regexp"
	"strconv"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const PngConverterCommandName = "PngConverterCommand"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

const svgSniffLength = 4096

var (
	svgTagPattern  = regexp.MustCompile(`(?is)<svg\b[^>]*>`)
	svgSizePattern = regexp.MustCompile(`(?i)\b(width|height)\s*=\s*["']\s*([0-9]+(?:\.[0-9]+)?)`)
)

// PngConverterCommand turns whatever the generator returned into PNG. PNG input is
// returned unchanged, raster formats are re-encoded and SVG is rendered on white.
type PngConverterCommand struct {
	svgFallbackWidth  int
	svgFallbackHeight int
}

func NewPngConverterCommand(params map[string]any) (Command, error) {
	w := intParam(params, "svgFallbackWidth", 1024)
	h := intParam(params, "svgFallbackHeight", 1024)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("svg fallback size must be positive, got %dx%d", w, h)
	}
	return &PngConverterCommand{svgFallbackWidth: w, svgFallbackHeight: h}, nil
}

func (c *PngConverterCommand) Name() string {
	return PngConverterCommandName
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if bytes.HasPrefix(imageData, pngSignature) {
		return imageData, nil
	}
	if tag, ok := findSVGTag(imageData); ok {
		w, h := svgSize(tag, c.svgFallbackWidth, c.svgFallbackHeight)
		slog.Debug("rendering svg", "width", w, "height", h)
		return renderSVG(imageData, w, h)
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	slog.Debug("converting raster image to png", "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return encodePNG(img)
}

func findSVGTag(data []byte) ([]byte, bool) {
	head := data[:min(len(data), svgSniffLength)]
	tag := svgTagPattern.Find(head)
	return tag, tag != nil
}

// svgSize reads explicit width and height attributes of the root tag. A viewBox
// alone does not define a pixel size, so the fallback is used then.
func svgSize(tag []byte, fallbackW, fallbackH int) (int, int) {
	w, h := 0, 0
	for _, m := range svgSizePattern.FindAllSubmatch(tag, -1) {
		v, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil || v < 1 {
			continue
		}
		if bytes.EqualFold(m[1], []byte("width")) {
			w = int(v)
		} else {
			h = int(v)
		}
	}
	if w <= 0 || h <= 0 {
		return fallbackW, fallbackH
	}
	return w, h
}

func renderSVG(data []byte, w, h int) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	canvas := newCanvas(w, h, color.White)
	scanner := rasterx.NewScannerGV(w, h, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return encodePNG(canvas)
}

func newCanvas(w, h int, bg color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return canvas
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func init() {
	mustRegister(PngConverterCommandName, NewPngConverterCommand)
}
