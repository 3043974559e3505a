// Package generator talks to hosted generative-image APIs. Each backend returns the
// upstream body in loosely-typed form; ExtractImage normalises it to image bytes.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"goldenhour/internal/config"
)

var (
	ErrMissingAPIKey   = errors.New("generator api key is not configured")
	ErrUnknownProvider = errors.New("unknown generator provider")
)

// Input is one relighting request: the rendered prompt plus the source photo.
type Input struct {
	Prompt    string
	Image     []byte
	MediaType string
}

// Response holds the decoded upstream body. Its shape depends on the provider and
// on the provider's API revision, so it is kept as generic JSON.
type Response struct {
	Provider string
	Raw      map[string]any
}

// Generator sends one prompt + image to a generative model.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Response, error)
}

// Error is a non-success answer from an upstream provider.
type Error struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds the backend selected by cfg.Provider. httpClient carries timeouts and
// tracing for outbound calls.
func New(ctx context.Context, cfg config.GeneratorConfig, httpClient *http.Client) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGateway, "":
		g, err := NewGateway(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderGemini:
		g, err := NewGemini(ctx, cfg, httpClient)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
