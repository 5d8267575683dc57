package capture

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// Rect is a rectangle in the coordinate space of the displayed image
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Dimensions is the size of an image, either as displayed or native
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CropRegion is a rectangle in native pixel coordinates
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rectangle converts the region to an image.Rectangle anchored at origin
func (c CropRegion) Rectangle(origin image.Point) image.Rectangle {
	return image.Rect(origin.X+c.X, origin.Y+c.Y, origin.X+c.X+c.Width, origin.Y+c.Y+c.Height)
}

// SetRegion translates a rectangle drawn on a displayed (possibly scaled)
// image into native pixel coordinates. The result is clamped to the native
// bounds and must be at least one pixel in each direction.
func SetRegion(displayed Rect, displayedDims, nativeDims Dimensions) (CropRegion, error) {
	if displayedDims.Width <= 0 || displayedDims.Height <= 0 || nativeDims.Width <= 0 || nativeDims.Height <= 0 {
		return CropRegion{}, fmt.Errorf("%w: image dimensions must be positive", ErrInvalidRegion)
	}
	if !finite(displayed.X, displayed.Y, displayed.Width, displayed.Height) {
		return CropRegion{}, fmt.Errorf("%w: non-finite coordinates", ErrInvalidRegion)
	}

	// A rectangle dragged up or left has a negative extent
	if displayed.Width < 0 {
		displayed.X += displayed.Width
		displayed.Width = -displayed.Width
	}
	if displayed.Height < 0 {
		displayed.Y += displayed.Height
		displayed.Height = -displayed.Height
	}

	scaleX := nativeDims.Width / displayedDims.Width
	scaleY := nativeDims.Height / displayedDims.Height

	x0 := clamp(math.Round(displayed.X*scaleX), 0, nativeDims.Width)
	y0 := clamp(math.Round(displayed.Y*scaleY), 0, nativeDims.Height)
	x1 := clamp(math.Round((displayed.X+displayed.Width)*scaleX), 0, nativeDims.Width)
	y1 := clamp(math.Round((displayed.Y+displayed.Height)*scaleY), 0, nativeDims.Height)

	region := CropRegion{
		X:      int(x0),
		Y:      int(y0),
		Width:  int(x1 - x0),
		Height: int(y1 - y0),
	}
	if region.Width < 1 || region.Height < 1 {
		return CropRegion{}, fmt.Errorf("%w: %dx%d native pixels", ErrInvalidRegion, region.Width, region.Height)
	}
	return region, nil
}

// FullRegion returns the region covering the whole image
func FullRegion(r *RawImage) CropRegion {
	return CropRegion{Width: r.Width(), Height: r.Height()}
}

// Extract returns a new RawImage holding a copy of the pixels inside region,
// so later changes to the source never show through. The concrete image type
// is kept for the drawable standard types; anything else is copied to NRGBA.
func Extract(r *RawImage, region CropRegion) (*RawImage, error) {
	if region.Width < 1 || region.Height < 1 {
		return nil, fmt.Errorf("%w: %dx%d native pixels", ErrInvalidRegion, region.Width, region.Height)
	}

	bounds := r.img.Bounds()
	rect := region.Rectangle(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: region outside image bounds", ErrInvalidRegion)
	}

	if dst := blankLike(r.img, rect.Dx(), rect.Dy()); dst != nil {
		draw.Draw(dst, dst.Bounds(), r.img, rect.Min, draw.Src)
		return &RawImage{img: dst, format: r.format}, nil
	}

	return &RawImage{img: imaging.Crop(r.img, rect), format: r.format}, nil
}

// blankLike allocates an empty image of the same type as img, or returns nil
// when the type cannot be drawn into
func blankLike(img image.Image, width, height int) draw.Image {
	rect := image.Rect(0, 0, width, height)
	switch src := img.(type) {
	case *image.Gray:
		return image.NewGray(rect)
	case *image.Gray16:
		return image.NewGray16(rect)
	case *image.RGBA:
		return image.NewRGBA(rect)
	case *image.RGBA64:
		return image.NewRGBA64(rect)
	case *image.NRGBA:
		return image.NewNRGBA(rect)
	case *image.NRGBA64:
		return image.NewNRGBA64(rect)
	case *image.CMYK:
		return image.NewCMYK(rect)
	case *image.Paletted:
		return image.NewPaletted(rect, src.Palette)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
