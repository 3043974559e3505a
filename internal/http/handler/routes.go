package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"goldenhour/internal/service"
)

// Pinger is a dependency whose reachability gates the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig returns the Fiber settings the API is served with.
//
// Request bodies are streamed and multipart forms parsed lazily, so a photo far above the
// upload cap still reaches GenerateImage and is rejected with a JSON 400 instead of having
// the connection dropped by the server. maxBodyBytes is enforced per route by
// RequestSizeLimit.
func ServerConfig(maxBodyBytes int64) fiber.Config {
	return fiber.Config{
		ErrorHandler:                 ErrorHandler(),
		BodyLimit:                    int(maxBodyBytes),
		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	}
}

// RequestSizeLimit rejects requests whose declared Content-Length exceeds maxBytes
// before any of the body is read.
func RequestSizeLimit(maxBytes int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if n := c.Request().Header.ContentLength(); n > 0 && int64(n) > maxBytes {
			// The unread body makes the connection unusable for another request.
			c.Context().SetConnectionClose()
			return writeError(c, fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request is too large. Please use a smaller image.")
		}
		return c.Next()
	}
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, store Pinger, genSvc service.GenerationService, maxUploadBytes, maxBodyBytes int64) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(store))
	app.Get("/healthz", LivenessProbe())

	api := app.Group("/api")
	api.Post("/generate", RequestSizeLimit(maxBodyBytes), GenerateImage(genSvc, maxUploadBytes))
	api.Get("/jobs/:jobId/:kind", JobImage(genSvc))
}

// HealthCheck reports healthy only while blob storage answers.
//
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(store Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a dependency-free liveness check.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}
