package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"goldenhour/internal/config"
)

const (
	providerGateway = "gateway"
	// maxResponseBytes bounds the upstream body; generated images arrive inline.
	maxResponseBytes = 64 << 20
)

// Gateway calls an OpenAI-compatible AI gateway chat completions endpoint that can
// return images alongside text.
type Gateway struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

// NewGateway returns a gateway backend. It fails with ErrMissingAPIKey when no key is set.
func NewGateway(cfg config.GeneratorConfig, client *http.Client) (*Gateway, error) {
	if cfg.GatewayAPIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		client:      client,
		baseURL:     strings.TrimRight(cfg.GatewayBaseURL, "/"),
		apiKey:      cfg.GatewayAPIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Modalities  []string      `json:"modalities"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Generate posts the prompt and the photo (as a base64 data URL) in a single user message.
func (g *Gateway) Generate(ctx context.Context, in Input) (*Response, error) {
	dataURL := "data:" + in.MediaType + ";base64," + base64.StdEncoding.EncodeToString(in.Image)

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: in.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		Modalities:  []string{"text", "image"},
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, msg := parseErrorBody(data)
		return nil, &Error{Provider: providerGateway, Status: resp.StatusCode, Code: code, Message: msg}
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &Response{Provider: providerGateway, Raw: raw}, nil
}

// parseErrorBody understands {"error":{"message","type"}} and {"error":"..."} bodies.
func parseErrorBody(data []byte) (code, msg string) {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		}
		if err := json.Unmarshal(body.Error, &obj); err == nil && obj.Message != "" {
			return obj.Type, obj.Message
		}
		var s string
		if err := json.Unmarshal(body.Error, &s); err == nil && s != "" {
			return "", s
		}
	}
	msg = strings.TrimSpace(string(data))
	if len(msg) > rawPreviewLen {
		msg = msg[:rawPreviewLen]
	}
	return "", msg
}
