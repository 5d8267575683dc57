package recognition

import (
	"context"
	"fmt"
)

// Engine names accepted by NewFactory
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
	EngineGemini    = "gemini"
	EngineOllama    = "ollama"
	EngineStatic    = "static"
)

// Config selects and configures an engine
type Config struct {
	Engine      string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	// StaticText is returned by the static engine
	StaticText string
}

// NewFactory validates cfg and returns a Factory producing a fresh engine
// for every call, so no engine is shared between scan flows
func NewFactory(cfg Config) (Factory, error) {
	switch cfg.Engine {
	case EngineTesseract:
		// Fail at startup when the binary was built without tesseract
		engine, err := NewTesseract()
		if err != nil {
			return nil, err
		}
		if err := engine.Close(); err != nil {
			return nil, fmt.Errorf("closing tesseract engine: %w", err)
		}
		return func(ctx context.Context) (Engine, error) {
			return NewTesseract()
		}, nil
	case EngineVision:
		return func(ctx context.Context) (Engine, error) {
			return NewVision(), nil
		}, nil
	case EngineGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini api key is required")
		}
		return func(ctx context.Context) (Engine, error) {
			return NewGemini(cfg.GeminiKey, cfg.GeminiModel)
		}, nil
	case EngineOllama:
		if _, err := NewOllama(cfg.OllamaURL, cfg.OllamaModel); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Engine, error) {
			return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		}, nil
	case EngineStatic:
		return func(ctx context.Context) (Engine, error) {
			return NewStatic(cfg.StaticText), nil
		}, nil
	default:
		return nil, fmt.Errorf("invalid engine type %q: valid types are %s, %s, %s, %s or %s",
			cfg.Engine, EngineTesseract, EngineVision, EngineGemini, EngineOllama, EngineStatic)
	}
}
