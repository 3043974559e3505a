package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"goldenhour/internal/generator"
	"goldenhour/internal/model"
	"goldenhour/internal/service"
)

// GenerateImage handles POST /api/generate (multipart/form-data: file, address, date, bearing).
//
// @Summary Relight a property photo at golden hour
// @Tags generation
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "JPEG or PNG photo"
// @Param address formData string true "Street address (5-200 characters)"
// @Param date formData string true "Capture date (YYYY-MM-DD)"
// @Param bearing formData string true "Camera bearing" Enums(N, NE, E, SE, S, SW, W, NW)
// @Success 200 {object} model.GenerationResult
// @Failure 400 {object} errorPayload
// @Failure 401 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 413 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Router /api/generate [post]
//
// Checks run cheapest first: configuration, then the text fields, then the file header.
// The photo body is only read once everything else is known to be valid.
func GenerateImage(svc service.GenerationService, maxUploadBytes int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.CheckConfig(); err != nil {
			return writeError(c, fiber.StatusInternalServerError, "CONFIG_ERROR", "API configuration error. Please check environment variables.")
		}

		req := model.GenerationRequest{
			Address: c.FormValue("address"),
			Date:    c.FormValue("date"),
			Bearing: model.Bearing(c.FormValue("bearing")),
		}
		if verrs := req.Validate(); verrs != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_INPUT", "Invalid input", verrs)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_FILE", "Please upload a valid image file")
		}
		ct := fh.Header.Get("Content-Type")
		if err := model.ValidateUpload(ct, fh.Size, maxUploadBytes); err != nil {
			return uploadError(c, err, maxUploadBytes)
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot read uploaded file")
		}

		res, err := svc.Generate(c.UserContext(), req, model.Upload{
			Filename:    fh.Filename,
			ContentType: ct,
			Data:        data,
		})
		if err != nil {
			return generationError(c, err, maxUploadBytes)
		}
		return c.JSON(res)
	}
}

func uploadError(c *fiber.Ctx, err error, maxUploadBytes int64) error {
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		return writeError(c, fiber.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File too large. Maximum size is %dMB.", maxUploadBytes/(1024*1024)))
	case errors.Is(err, model.ErrUnsupportedImageType):
		return writeError(c, fiber.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "Only JPEG and PNG images are supported")
	default:
		return writeError(c, fiber.StatusBadRequest, "INVALID_FILE", "Please upload a valid image file")
	}
}

// generationError maps service failures onto the public error taxonomy. Unclassified
// failures surface their message verbatim.
func generationError(c *fiber.Ctx, err error, maxUploadBytes int64) error {
	var verrs model.ValidationErrors
	if errors.As(err, &verrs) {
		return writeError(c, fiber.StatusBadRequest, "INVALID_INPUT", "Invalid input", verrs)
	}
	if errors.Is(err, model.ErrInvalidImage) || errors.Is(err, model.ErrFileTooLarge) || errors.Is(err, model.ErrUnsupportedImageType) {
		return uploadError(c, err, maxUploadBytes)
	}
	if errors.Is(err, service.ErrNotConfigured) {
		return writeError(c, fiber.StatusInternalServerError, "CONFIG_ERROR", "API configuration error. Please check environment variables.")
	}

	var noImg *generator.NoImageError
	if errors.As(err, &noImg) {
		return writeError(c, fiber.StatusInternalServerError, "NO_IMAGE_GENERATED", noImg.Error(), noImg.Raw)
	}

	status := 0
	var upstream *generator.Error
	if errors.As(err, &upstream) {
		status = upstream.Status
	}
	// Transport and SDK failures that never produced a typed status only carry a message.
	if status == 0 {
		status = statusFromMessage(err.Error())
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return writeError(c, fiber.StatusUnauthorized, "UPSTREAM_UNAUTHORIZED", "Authentication failed. Please check your AI gateway API key.")
	case http.StatusNotFound:
		return writeError(c, fiber.StatusNotFound, "MODEL_NOT_FOUND", "Model not available. Please check AI gateway access.")
	case http.StatusRequestEntityTooLarge:
		return writeError(c, fiber.StatusRequestEntityTooLarge, "UPSTREAM_PAYLOAD_TOO_LARGE", "Image is too large. Please use a smaller image (max ~20MB for best results).")
	}

	msg := err.Error()
	if msg == "" {
		msg = "Generation failed. Please try again."
	}
	return writeError(c, fiber.StatusInternalServerError, "GENERATION_FAILED", msg)
}

// messageStatuses is checked in order; the first rule with a matching substring wins.
var messageStatuses = []struct {
	status  int
	needles []string
}{
	{http.StatusUnauthorized, []string{"401", "unauthorized"}},
	{http.StatusNotFound, []string{"404", "not found"}},
	{http.StatusRequestEntityTooLarge, []string{"payload", "too large"}},
}

// statusFromMessage classifies an untyped upstream failure by its message, or returns 0.
func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	for _, rule := range messageStatuses {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.status
			}
		}
	}
	return 0
}

// JobImage handles GET /api/jobs/:jobId/:kind by redirecting to a short-lived download URL.
//
// @Summary Redirect to a stored job image
// @Tags generation
// @Param jobId path string true "Job ID (UUID)"
// @Param kind path string true "Image kind" Enums(original, result)
// @Success 302
// @Failure 400 {object} errorPayload
// @Router /api/jobs/{jobId}/{kind} [get]
func JobImage(svc service.GenerationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := svc.ImageURL(c.UserContext(), c.Params("jobId"), c.Params("kind"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidJobID):
				return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid job id format")
			case errors.Is(err, service.ErrInvalidImageKind):
				return writeError(c, fiber.StatusBadRequest, "INVALID_KIND", "image kind must be original or result")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.Redirect(u, fiber.StatusFound)
	}
}
