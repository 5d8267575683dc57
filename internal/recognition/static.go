package recognition

import (
	"context"
	"time"
)

// Static is an Engine that returns fixed text. It is used for demos and in
// tests of the consuming flow.
type Static struct {
	Text    string
	Err     error
	InitErr error
	// Steps is the number of progress reports before the result
	Steps int
	// Delay is waited before each progress report
	Delay time.Duration

	Closed bool
}

// NewStatic creates a Static engine returning text
func NewStatic(text string) *Static {
	return &Static{Text: text, Steps: 4}
}

// Init returns InitErr
func (s *Static) Init(ctx context.Context, languageHint string) error {
	return s.InitErr
}

// Recognize reports Steps progress events then returns Text or Err
func (s *Static) Recognize(ctx context.Context, png []byte, progress func(int)) (string, error) {
	steps := max(s.Steps, 1)
	for i := 1; i <= steps; i++ {
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		progress(i * 100 / steps)
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Text, nil
}

// Close marks the engine closed
func (s *Static) Close() error {
	s.Closed = true
	return nil
}
