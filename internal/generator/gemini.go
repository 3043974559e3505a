package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"goldenhour/internal/config"
)

const providerGemini = "gemini"

// Gemini calls the Gemini API directly through the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini returns a Gemini backend. It fails with ErrMissingAPIKey when no key is set.
func NewGemini(ctx context.Context, cfg config.GeneratorConfig, httpClient *http.Client) (*Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Generate sends the prompt and the photo as inline bytes and asks for TEXT+IMAGE output.
func (g *Gemini) Generate(ctx context.Context, in Input) (*Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(in.Prompt),
			genai.NewPartFromBytes(in.Image, in.MediaType),
		}, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(g.temperature),
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return nil, fromGenAIError(err)
	}

	// Round-trip through JSON so extraction sees the same wire shape as the REST API.
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode gemini response: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return &Response{Provider: providerGemini, Raw: raw}, nil
}

func fromGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Provider: providerGemini,
			Status:   apiErr.Code,
			Code:     apiErr.Status,
			Message:  apiErr.Message,
			Cause:    err,
		}
	}
	return fmt.Errorf("GenAI generate failed: %w", err)
}
