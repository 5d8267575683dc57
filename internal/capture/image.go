package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var (
	// ErrUnsupportedFormat is returned when the input bytes are not a decodable raster image
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrInvalidRegion is returned when a crop region is smaller than one native pixel
	ErrInvalidRegion = errors.New("invalid crop region")
)

// RawImage is an immutable decoded bitmap. Nothing in this package writes to
// the pixels of a RawImage once it is created.
type RawImage struct {
	img    image.Image
	format string
}

// Image returns the decoded image
func (r *RawImage) Image() image.Image {
	return r.img
}

// Format returns the name of the source format, e.g. "jpeg", "heic" or "pdf"
func (r *RawImage) Format() string {
	return r.format
}

// Width returns the native width in pixels
func (r *RawImage) Width() int {
	return r.img.Bounds().Dx()
}

// Height returns the native height in pixels
func (r *RawImage) Height() int {
	return r.img.Bounds().Dy()
}

// Dimensions returns the native size of the image
func (r *RawImage) Dimensions() Dimensions {
	return Dimensions{Width: float64(r.Width()), Height: float64(r.Height())}
}

// PNG encodes the image as PNG
func (r *RawImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Load decodes a JPEG, PNG, GIF, WebP, BMP, TIFF, HEIC/HEIF image or the first
// page of a PDF. Pixels are not transformed.
func Load(data []byte) (*RawImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	switch {
	case isPDF(data):
		img, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return &RawImage{img: img, format: "pdf"}, nil
	case isHEICFormat(data):
		// Go's standard image package doesn't support HEIC
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding HEIC/HEIF image: %v", ErrUnsupportedFormat, err)
		}
		return &RawImage{img: img, format: "heic"}, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w. Supported formats: JPEG, PNG, GIF, WebP, BMP, TIFF, HEIC, HEIF, PDF", ErrUnsupportedFormat)
		}
		return nil, fmt.Errorf("%w: decoding %s image: %v", ErrUnsupportedFormat, format, err)
	}
	return &RawImage{img: img, format: format}, nil
}

// FromImage wraps an already decoded image
func FromImage(img image.Image, format string) *RawImage {
	return &RawImage{img: img, format: format}
}

// pdfToImage renders the first page of a PDF (most receipts are single page)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func isPDF(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heix" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// Enhance returns a grayscale, higher-contrast, sharpened copy of the image,
// which tends to improve OCR on thermal-paper receipts
func Enhance(r *RawImage) *RawImage {
	img := imaging.Grayscale(r.img)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	return &RawImage{img: img, format: r.format}
}
