package generator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented records request counts and latency of a wrapped Generator.
type Instrumented struct {
	next     Generator
	provider string
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewInstrumented wraps next and registers its collectors on reg.
func NewInstrumented(next Generator, provider string, reg prometheus.Registerer) (*Instrumented, error) {
	g := &Instrumented{
		next:     next,
		provider: provider,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "image_generation_requests_total",
				Help: "Total number of upstream image generation calls.",
			},
			[]string{"provider", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "image_generation_duration_seconds",
				Help:    "Latency of upstream image generation calls.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
			},
			[]string{"provider"},
		),
	}

	if err := reg.Register(g.requests); err != nil {
		return nil, err
	}
	if err := reg.Register(g.duration); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Instrumented) Generate(ctx context.Context, in Input) (*Response, error) {
	start := time.Now()
	resp, err := g.next.Generate(ctx, in)
	g.duration.WithLabelValues(g.provider).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.requests.WithLabelValues(g.provider, outcome).Inc()
	return resp, err
}
