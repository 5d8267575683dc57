package recognition

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Ollama implements Engine using a local Ollama vision model. The response
// is streamed and each chunk advances the reported progress.
//
// Recommended models for receipt transcription:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
type Ollama struct {
	baseURL *url.URL
	model   string
	prompt  string
	client  *api.Client
}

// NewOllama creates a new Ollama engine
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	return &Ollama{
		baseURL: &url.URL{Scheme: parsed.Scheme, Host: parsed.Host},
		model:   modelName,
	}, nil
}

// Init creates the client and checks the server is reachable
func (o *Ollama) Init(ctx context.Context, languageHint string) error {
	client := api.NewClient(o.baseURL, &http.Client{
		// Vision models can be slow, especially on CPU
		Timeout: 300 * time.Second,
	})
	if err := client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("contacting ollama at %s: %w", o.baseURL, err)
	}
	o.client = client
	o.prompt = promptFor(languageHint)
	return nil
}

// Recognize streams a transcription of the image
func (o *Ollama) Recognize(ctx context.Context, png []byte, progress func(int)) (string, error) {
	if o.client == nil {
		return "", fmt.Errorf("ollama client not initialized")
	}

	stream := true
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: "You are an expert at reading receipts. You transcribe printed text exactly.",
			},
			{
				Role:    "user",
				Content: o.prompt,
				Images:  []api.ImageData{api.ImageData(png)},
			},
		},
		Stream: &stream,
	}

	var text strings.Builder
	chunks := 0
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		chunks++
		// The length of the answer is unknown; creep towards 95
		progress(min(95, 10+chunks/2))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	progress(100)

	return cleanTranscript(text.String()), nil
}

// Close is a no-op; the HTTP client holds no resources of its own
func (o *Ollama) Close() error {
	o.client = nil
	return nil
}
