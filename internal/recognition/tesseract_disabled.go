//go:build !tesseract

package recognition

import "errors"

// NewTesseract reports the engine as unavailable; build with -tags tesseract
// to enable it
func NewTesseract() (Engine, error) {
	return nil, newError("NewTesseract", ErrEngineUnavailable, errors.New("built without tesseract support"), "rebuild with -tags tesseract")
}
