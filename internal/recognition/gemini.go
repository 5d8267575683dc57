package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Engine using Google Gemini as a transcriber
type Gemini struct {
	apiKey    string
	modelName string
	prompt    string
	client    *genai.Client
	model     *genai.GenerativeModel
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	return &Gemini{apiKey: apiKey, modelName: modelName}, nil
}

// Init creates the Gemini client
func (g *Gemini) Init(ctx context.Context, languageHint string) error {
	if g.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}
	g.client = client
	g.model = client.GenerativeModel(g.modelName)
	g.prompt = promptFor(languageHint)
	return nil
}

// Recognize asks the model to transcribe the receipt
func (g *Gemini) Recognize(ctx context.Context, png []byte, progress func(int)) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("gemini client not initialized")
	}

	// genai.ImageData expects just the format suffix (e.g., "png")
	parts := []genai.Part{
		genai.ImageData("png", png),
		genai.Text(g.prompt),
	}
	progress(10)

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	progress(100)

	return cleanTranscript(text.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	g.model = nil
	return err
}
