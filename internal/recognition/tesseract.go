//go:build tesseract

package recognition

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Engine using the gosseract client. It needs cgo and
// libtesseract, so it is only built with the "tesseract" build tag.
type Tesseract struct {
	clientFactory func() *gosseract.Client
	client        *gosseract.Client
}

// NewTesseract constructs a Tesseract-backed engine
func NewTesseract() (Engine, error) {
	return &Tesseract{clientFactory: gosseract.NewClient}, nil
}

// Init creates the client and sets the language, e.g. "eng"
func (t *Tesseract) Init(ctx context.Context, languageHint string) error {
	if t.client != nil {
		return nil
	}
	c := t.clientFactory()
	if languageHint == "" {
		languageHint = "eng"
	}
	if err := c.SetLanguage(languageHint); err != nil {
		c.Close()
		return fmt.Errorf("set language: %w", err)
	}
	// Receipts read best as a single uniform block of text
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		c.Close()
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	t.client = c
	return nil
}

// Recognize runs Tesseract on the image. The underlying call cannot be
// interrupted; cancellation is observed before and after it.
func (t *Tesseract) Recognize(ctx context.Context, png []byte, progress func(int)) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("tesseract client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := t.client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	progress(10)

	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress(100)
	return text, nil
}

// Close releases the Tesseract client
func (t *Tesseract) Close() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
