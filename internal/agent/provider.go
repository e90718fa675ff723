package agent

import (
	"context"
	"errors"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// ErrNoAPIKey is returned on any generation attempt when the service was
// started without a Google AI key.
var ErrNoAPIKey = errors.New("GOOGLE_AI_API_KEY is not set for the AI service.")

// Provider is the narrow model surface the orchestrator runs against.
// Tests substitute scripted fakes.
type Provider interface {
	Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type geminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider builds a Provider over the Gemini API. An empty key
// returns (nil, nil): the service starts and fails each request with
// ErrNoAPIKey instead.
func NewGeminiProvider(ctx context.Context, apiKey string) (Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return p.client.Models.GenerateContent(ctx, model, contents, cfg)
}

func (p *geminiProvider) GenerateStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return p.client.Models.GenerateContentStream(ctx, model, contents, cfg)
}
