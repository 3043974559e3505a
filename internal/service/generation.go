package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goldenhour/internal/generator"
	"goldenhour/internal/model"
	"goldenhour/internal/prompt"
	"goldenhour/internal/storage"
)

var (
	ErrNotConfigured    = errors.New("image generator is not configured")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrInvalidImageKind = errors.New("image kind must be original or result")
)

const (
	ImageOriginal = "original"
	ImageResult   = "result"

	// resultContentType is the declared type of every generated image.
	resultContentType = "image/jpeg"
)

var tracer = otel.Tracer("goldenhour/internal/service")

// Options tune a GenerationService.
type Options struct {
	MaxUploadBytes int64
	PresignExpiry  time.Duration
}

// GenerationService defines the golden-hour relighting use cases.
type GenerationService interface {
	// CheckConfig reports ErrNotConfigured when no generator is available.
	CheckConfig() error

	// Generate stores the original photo, asks the model for a relit version, stores it and
	// returns both public URLs. Every step runs in sequence; the first failure aborts the job.
	Generate(ctx context.Context, req model.GenerationRequest, up model.Upload) (*model.GenerationResult, error)

	// ImageURL returns a short-lived download URL for one image of a job.
	ImageURL(ctx context.Context, jobID, kind string) (string, error)
}

type generationService struct {
	store  storage.Storage
	gen    generator.Generator
	logger *zap.Logger
	opts   Options
}

// NewGenerationService constructs a GenerationService. gen may be nil when the generator
// is not configured; every generation then fails with ErrNotConfigured.
func NewGenerationService(store storage.Storage, gen generator.Generator, logger *zap.Logger, opts Options) GenerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 30 * 1024 * 1024
	}
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = 15 * time.Minute
	}
	return &generationService{store: store, gen: gen, logger: logger, opts: opts}
}

func (s *generationService) CheckConfig() error {
	if s.gen == nil {
		return ErrNotConfigured
	}
	return nil
}

func (s *generationService) Generate(ctx context.Context, req model.GenerationRequest, up model.Upload) (res *model.GenerationResult, err error) {
	if err := s.CheckConfig(); err != nil {
		return nil, err
	}
	if verrs := req.Validate(); verrs != nil {
		return nil, verrs
	}
	if err := model.ValidateUpload(up.ContentType, int64(len(up.Data)), s.opts.MaxUploadBytes); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	log := s.logger.With(zap.String("job_id", jobID))

	ctx, span := tracer.Start(ctx, "generation.Generate", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("image.content_type", up.ContentType),
		attribute.Int("image.size", len(up.Data)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log.Info("generation started",
		zap.String("filename", up.Filename),
		zap.Int("size_bytes", len(up.Data)),
		zap.String("address", req.Address),
		zap.String("date", req.Date),
		zap.String("bearing", string(req.Bearing)),
	)

	original, err := s.store.Put(ctx, storage.JobKey(jobID, ImageOriginal), bytes.NewReader(up.Data), storage.PutObjectOptions{
		Size:        int64(len(up.Data)),
		ContentType: up.ContentType,
		Metadata:    jobMetadata(jobID, req),
	})
	if err != nil {
		return nil, fmt.Errorf("store original image: %w", err)
	}
	log.Info("original image stored", zap.String("url", original.URL), zap.Int64("stored_bytes", original.Size))

	text, err := prompt.Build(prompt.Params{Address: req.Address, Date: req.Date, Bearing: req.Bearing})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.gen.Generate(ctx, generator.Input{Prompt: text, Image: up.Data, MediaType: up.ContentType})
	if err != nil {
		log.Error("image generation failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	img, where, err := generator.ExtractImage(resp.Raw)
	if err != nil {
		var noImg *generator.NoImageError
		if errors.As(err, &noImg) {
			log.Error("no image generated", zap.String("provider", resp.Provider), zap.String("raw_response", noImg.Raw))
		}
		return nil, err
	}
	span.AddEvent("image.extracted", trace.WithAttributes(
		attribute.String("provider", resp.Provider),
		attribute.String("location", where),
	))
	log.Info("generated image extracted",
		zap.String("provider", resp.Provider),
		zap.String("location", where),
		zap.Int("size_bytes", len(img)),
		zap.Duration("elapsed", time.Since(start)),
	)

	result, err := s.store.Put(ctx, storage.JobKey(jobID, ImageResult), bytes.NewReader(img), storage.PutObjectOptions{
		Size:        int64(len(img)),
		ContentType: resultContentType,
		Metadata:    jobMetadata(jobID, req),
	})
	if err != nil {
		return nil, fmt.Errorf("store generated image: %w", err)
	}
	log.Info("generation succeeded", zap.String("result_url", result.URL))

	return &model.GenerationResult{
		Success:     true,
		JobID:       jobID,
		OriginalURL: original.URL,
		ResultURL:   result.URL,
	}, nil
}

// jobMetadata tags both images of a job with the request that produced them.
// The address is query-escaped since object metadata travels as HTTP headers.
func jobMetadata(jobID string, req model.GenerationRequest) map[string]string {
	return map[string]string{
		"job-id":  jobID,
		"address": url.QueryEscape(req.Address),
		"date":    req.Date,
		"bearing": string(req.Bearing),
	}
}

func (s *generationService) ImageURL(ctx context.Context, jobID, kind string) (string, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", ErrInvalidJobID
	}
	if kind != ImageOriginal && kind != ImageResult {
		return "", ErrInvalidImageKind
	}
	u, err := s.store.PresignGet(ctx, storage.JobKey(jobID, kind), s.opts.PresignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign %s image: %w", kind, err)
	}
	return u, nil
}
