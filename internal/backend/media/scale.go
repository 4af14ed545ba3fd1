package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

const ScaleCommandName = "ScaleCommand"

// ScaleCommand fits a PNG into a width x height box keeping its aspect ratio.
// With pad set the result is exactly the box, the image centered on white;
// otherwise the result is the fitted image alone. Images are never enlarged
// unless upscale is set.
type ScaleCommand struct {
	width   int
	height  int
	pad     bool
	upscale bool
}

func NewScaleCommand(params map[string]any) (Command, error) {
	w := intParam(params, "width", 0)
	h := intParam(params, "height", 0)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("width and height must be positive, got %dx%d", w, h)
	}
	return &ScaleCommand{
		width:   w,
		height:  h,
		pad:     boolParam(params, "pad", false),
		upscale: boolParam(params, "upscale", false),
	}, nil
}

// NewThumbnailCommand returns a scale command producing a thumbnail that fits
// into width x height.
func NewThumbnailCommand(width, height int) (*ScaleCommand, error) {
	cmd, err := NewScaleCommand(map[string]any{"width": width, "height": height})
	if err != nil {
		return nil, err
	}
	return cmd.(*ScaleCommand), nil
}

func (c *ScaleCommand) Name() string {
	return ScaleCommandName
}

func (c *ScaleCommand) Execute(imageData []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	b := src.Bounds()
	fitW, fitH := fitInto(b.Dx(), b.Dy(), c.width, c.height, c.upscale)

	if !c.pad && fitW == b.Dx() && fitH == b.Dy() {
		return imageData, nil
	}

	canvasW, canvasH := fitW, fitH
	if c.pad {
		canvasW, canvasH = c.width, c.height
	}
	dst := newCanvas(canvasW, canvasH, color.White)
	offX, offY := (canvasW-fitW)/2, (canvasH-fitH)/2
	drawNearest(dst, src, image.Rect(offX, offY, offX+fitW, offY+fitH))
	return encodePNG(dst)
}

// fitInto returns the largest size with the aspect ratio of w x h that fits into
// boxW x boxH.
func fitInto(w, h, boxW, boxH int, upscale bool) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if !upscale && w <= boxW && h <= boxH {
		return w, h
	}
	// Compare w/h with boxW/boxH without floating point.
	if w*boxH >= h*boxW {
		return boxW, max(1, h*boxW/w)
	}
	return max(1, w*boxH/h), boxH
}

func drawNearest(dst *image.RGBA, src image.Image, target image.Rectangle) {
	sb := src.Bounds()
	tw, th := target.Dx(), target.Dy()
	srcX := make([]int, tw)
	for x := range srcX {
		srcX[x] = sb.Min.X + x*sb.Dx()/tw
	}
	parallelRows(th, func(y int) {
		sy := sb.Min.Y + y*sb.Dy()/th
		for x := 0; x < tw; x++ {
			dst.Set(target.Min.X+x, target.Min.Y+y, src.At(srcX[x], sy))
		}
	})
}

func init() {
	mustRegister(ScaleCommandName, NewScaleCommand)
}
