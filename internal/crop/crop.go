package crop

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// ErrDegenerate is returned when a region maps to an empty pixel rectangle.
var ErrDegenerate = errors.New("crop rectangle is empty")

// Crop cuts r out of an encoded page image and returns it as PNG.
// It has no side effects; callers fall back to the full page on error.
func Crop(data []byte, r Region) ([]byte, error) {
	return CropMax(data, r, 0)
}

// CropMax is Crop with an optional bound on the longest side of the output.
// maxDim <= 0 disables downscaling.
func CropMax(data []byte, r Region, maxDim int) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	b := src.Bounds()
	rect := r.Rect(b.Dx(), b.Dy()).Add(b.Min).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %v of %v", ErrDegenerate, rect, b)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, src, rect, draw.Src, nil)

	out := Downscale(dst, maxDim)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// Downscale shrinks img so its longest side is at most maxDim, keeping the
// aspect ratio. Images already within bounds are returned unchanged.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if maxDim <= 0 || longest <= maxDim {
		return img
	}

	w := b.Dx() * maxDim / longest
	h := b.Dy() * maxDim / longest
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Cropper applies a Manager's regions to pages.
type Cropper struct {
	regions *Manager
	maxDim  int
}

// NewCropper returns a Cropper. maxDim bounds the output's longest side (0 = unbounded).
func NewCropper(regions *Manager, maxDim int) *Cropper {
	return &Cropper{regions: regions, maxDim: maxDim}
}

// Apply crops the slot's region out of page.
func (c *Cropper) Apply(page []byte, slot Slot) ([]byte, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	return CropMax(page, c.regions.Get(slot), c.maxDim)
}

// Regions returns the underlying manager.
func (c *Cropper) Regions() *Manager {
	return c.regions
}
