package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"goldenhour/internal/generator"
	"goldenhour/internal/model"
	"goldenhour/internal/service"
	serviceMocks "goldenhour/internal/service/mocks"
	storeMocks "goldenhour/internal/storage/mocks"
)

const testMaxUpload = 64

var validFields = map[string]string{
	"address": "742 Evergreen Terrace, Springfield",
	"date":    "2024-06-21",
	"bearing": "SW",
}

// multipartBody builds a form with the given text fields and, when filename is set, a
// file part with an explicit Content-Type.
func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func postGenerate(t *testing.T, app *fiber.App, fields map[string]string, filename, contentType string, data []byte) (*http.Response, errorPayload) {
	t.Helper()
	body, ct := multipartBody(t, fields, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)

	var payload errorPayload
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	}
	return resp, payload
}

func withField(key, value string) map[string]string {
	out := make(map[string]string, len(validFields))
	for k, v := range validFields {
		out[k] = v
	}
	out[key] = value
	return out
}

func newGenerateApp(svc service.GenerationService) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Post("/api/generate", GenerateImage(svc, testMaxUpload))
	return app
}

func TestHealthCheck(t *testing.T) {
	mStore := new(storeMocks.MockStorage)
	app := fiber.New()
	app.Get("/health", HealthCheck(mStore))

	t.Run("healthy", func(t *testing.T) {
		mStore.On("Ping", mock.Anything).Return(nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		mStore.On("Ping", mock.Anything).Return(errors.New("bucket gone")).Once()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Code)
	})

	mStore.AssertExpectations(t)
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateImage_Success(t *testing.T) {
	mockSvc := new(serviceMocks.MockGenerationService)
	app := newGenerateApp(mockSvc)

	jobID := uuid.NewString()
	expected := &model.GenerationResult{
		Success:     true,
		JobID:       jobID,
		OriginalURL: "https://blob.example.com/jobs/" + jobID + "/original.jpg",
		ResultURL:   "https://blob.example.com/jobs/" + jobID + "/result.jpg",
	}
	mockSvc.On("CheckConfig").Return(nil).Once()
	mockSvc.On("Generate", mock.Anything,
		model.GenerationRequest{Address: validFields["address"], Date: "2024-06-21", Bearing: model.BearingSW},
		model.Upload{Filename: "house.png", ContentType: "image/png", Data: []byte("png-bytes")},
	).Return(expected, nil).Once()

	resp, _ := postGenerate(t, app, validFields, "house.png", "image/png", []byte("png-bytes"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, jobID, body["jobId"])
	assert.Equal(t, expected.OriginalURL, body["originalUrl"])
	assert.Equal(t, expected.ResultURL, body["resultUrl"])
	mockSvc.AssertExpectations(t)
}

func TestGenerateImage_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		fields      map[string]string
		filename    string
		contentType string
		data        []byte
		wantCode    string
		wantFields  []string
	}{
		{name: "address too short", fields: withField("address", "1 A"), filename: "a.jpg", contentType: "image/jpeg", data: []byte("x"), wantCode: "INVALID_INPUT", wantFields: []string{"address"}},
		{name: "address too long", fields: withField("address", strings.Repeat("a", 201)), filename: "a.jpg", contentType: "image/jpeg", data: []byte("x"), wantCode: "INVALID_INPUT", wantFields: []string{"address"}},
		{name: "bad date", fields: withField("date", "21/06/2024"), filename: "a.jpg", contentType: "image/jpeg", data: []byte("x"), wantCode: "INVALID_INPUT", wantFields: []string{"date"}},
		{name: "bad bearing", fields: withField("bearing", "UP"), filename: "a.jpg", contentType: "image/jpeg", data: []byte("x"), wantCode: "INVALID_INPUT", wantFields: []string{"bearing"}},
		{name: "no fields", fields: map[string]string{}, wantCode: "INVALID_INPUT", wantFields: []string{"address", "date", "bearing"}},
		{name: "missing file", fields: validFields, wantCode: "INVALID_FILE"},
		{name: "not an image", fields: validFields, filename: "a.pdf", contentType: "application/pdf", data: []byte("%PDF"), wantCode: "INVALID_FILE"},
		{name: "gif declared", fields: validFields, filename: "a.gif", contentType: "image/gif", data: []byte("GIF89a"), wantCode: "UNSUPPORTED_FILE_TYPE"},
		{name: "jpeg bytes declared as webp", fields: validFields, filename: "a.webp", contentType: "image/webp", data: []byte{0xff, 0xd8, 0xff}, wantCode: "UNSUPPORTED_FILE_TYPE"},
		{name: "file too large", fields: validFields, filename: "big.jpg", contentType: "image/jpeg", data: bytes.Repeat([]byte{1}, testMaxUpload+1), wantCode: "FILE_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockGenerationService)
			mockSvc.On("CheckConfig").Return(nil)
			app := newGenerateApp(mockSvc)

			resp, payload := postGenerate(t, app, tt.fields, tt.filename, tt.contentType, tt.data)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantCode, payload.Code)
			assert.NotEmpty(t, payload.Error)
			if len(tt.wantFields) > 0 {
				details, ok := payload.Details.([]any)
				require.True(t, ok, "details should be an itemized list")
				var fields []string
				for _, d := range details {
					fields = append(fields, d.(map[string]any)["field"].(string))
				}
				assert.Equal(t, tt.wantFields, fields)
			}
			mockSvc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGenerateImage_NotConfigured(t *testing.T) {
	mockSvc := new(serviceMocks.MockGenerationService)
	mockSvc.On("CheckConfig").Return(service.ErrNotConfigured).Once()
	app := newGenerateApp(mockSvc)

	// Even an invalid form is answered with the configuration error first.
	resp, payload := postGenerate(t, app, map[string]string{}, "", "", nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "CONFIG_ERROR", payload.Code)
	assert.Equal(t, "API configuration error. Please check environment variables.", payload.Error)
	mockSvc.AssertExpectations(t)
}

func TestGenerateImage_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{name: "upstream unauthorized", err: &generator.Error{Provider: "gateway", Status: 401}, wantStatus: 401, wantCode: "UPSTREAM_UNAUTHORIZED"},
		{name: "upstream forbidden", err: &generator.Error{Provider: "gemini", Status: 403}, wantStatus: 401, wantCode: "UPSTREAM_UNAUTHORIZED"},
		{name: "model not found", err: &generator.Error{Provider: "gateway", Status: 404}, wantStatus: 404, wantCode: "MODEL_NOT_FOUND"},
		{name: "upstream payload too large", err: &generator.Error{Provider: "gateway", Status: 413}, wantStatus: 413, wantCode: "UPSTREAM_PAYLOAD_TOO_LARGE"},
		{name: "upstream server error", err: &generator.Error{Provider: "gateway", Status: 502, Message: "bad gateway"}, wantStatus: 500, wantCode: "GENERATION_FAILED", wantError: "gateway: 502 bad gateway"},
		{name: "untyped unauthorized", err: errors.New("Post \"https://gateway/v1\": 401 Unauthorized"), wantStatus: 401, wantCode: "UPSTREAM_UNAUTHORIZED"},
		{name: "untyped model not found", err: errors.New("rpc error: model Not Found"), wantStatus: 404, wantCode: "MODEL_NOT_FOUND"},
		{name: "typed status wins over message", err: &generator.Error{Provider: "gateway", Status: 502, Message: "upstream returned 404 page"}, wantStatus: 500, wantCode: "GENERATION_FAILED"},
		{name: "untyped payload rejection", err: errors.New("gemini: request payload size exceeds the limit"), wantStatus: 413, wantCode: "UPSTREAM_PAYLOAD_TOO_LARGE"},
		{name: "no image", err: &generator.NoImageError{Raw: `{"text":"sorry"}`}, wantStatus: 500, wantCode: "NO_IMAGE_GENERATED", wantError: "no image generated in the response"},
		{name: "storage failure surfaces message", err: errors.New("store original image: connection refused"), wantStatus: 500, wantCode: "GENERATION_FAILED", wantError: "store original image: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(serviceMocks.MockGenerationService)
			mockSvc.On("CheckConfig").Return(nil)
			mockSvc.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			app := newGenerateApp(mockSvc)

			resp, payload := postGenerate(t, app, validFields, "house.jpg", "image/jpeg", []byte("jpeg"))

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, payload.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, payload.Error)
			}
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestStatusFromMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"gemini: 401 invalid key", http.StatusUnauthorized},
		{"request UNAUTHORIZED", http.StatusUnauthorized},
		{"404 model gone", http.StatusNotFound},
		{"Not Found", http.StatusNotFound},
		{"request payload size exceeds the limit", http.StatusRequestEntityTooLarge},
		{"image too large", http.StatusRequestEntityTooLarge},
		{"401 and payload", http.StatusUnauthorized},
		{"connection refused", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFromMessage(tt.msg))
		})
	}
}

func TestGenerateImage_NoImageDetails(t *testing.T) {
	mockSvc := new(serviceMocks.MockGenerationService)
	mockSvc.On("CheckConfig").Return(nil)
	mockSvc.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &generator.NoImageError{Raw: `{"text":"sorry"}`}).Once()
	app := newGenerateApp(mockSvc)

	_, payload := postGenerate(t, app, validFields, "house.jpg", "image/jpeg", []byte("jpeg"))

	assert.Equal(t, `{"text":"sorry"}`, payload.Details)
}

func TestJobImage(t *testing.T) {
	mockSvc := new(serviceMocks.MockGenerationService)
	app := fiber.New()
	app.Get("/api/jobs/:jobId/:kind", JobImage(mockSvc))

	t.Run("redirects to signed url", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("ImageURL", mock.Anything, id, "result").Return("https://signed.example.com/result.jpg", nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/result", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://signed.example.com/result.jpg", resp.Header.Get("Location"))
	})

	t.Run("invalid id", func(t *testing.T) {
		mockSvc.On("ImageURL", mock.Anything, "nope", "result").Return("", service.ErrInvalidJobID).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope/result", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ID", res.Code)
	})

	t.Run("invalid kind", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("ImageURL", mock.Anything, id, "thumb").Return("", service.ErrInvalidImageKind).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/thumb", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_KIND", res.Code)
	})

	t.Run("service error", func(t *testing.T) {
		id := uuid.NewString()
		mockSvc.On("ImageURL", mock.Anything, id, "original").Return("", errors.New("presign failed")).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/original", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	mockSvc.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
		BodyLimit:    1024,
	})

	mockSvc := new(serviceMocks.MockGenerationService)
	mockSvc.On("CheckConfig").Return(nil)
	// Register all routes
	RegisterRoutes(app, new(storeMocks.MockStorage), mockSvc, testMaxUpload, 1024)
	app.Get("/too-large", func(c *fiber.Ctx) error {
		return fiber.ErrRequestEntityTooLarge
	})

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "METHOD_NOT_ALLOWED", res.Code)
	})

	t.Run("entity too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/too-large", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", res.Code)
	})
}

// serve runs app on a loopback listener so requests go through the real connection
// handling, including body streaming and limits.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })
	return "http://" + ln.Addr().String()
}

func postMultipart(t *testing.T, client *http.Client, baseURL string, fields map[string]string, filename, contentType string, data []byte) (int, errorPayload) {
	t.Helper()
	body, ct := multipartBody(t, fields, filename, contentType, data)
	resp, err := client.Post(baseURL+"/api/generate", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func TestServer_OversizedUploads(t *testing.T) {
	const (
		maxUpload = 1 << 10
		maxBody   = 64 << 10
	)

	cfg := ServerConfig(maxBody)
	cfg.DisableStartupMessage = true
	app := fiber.New(cfg)

	mockSvc := new(serviceMocks.MockGenerationService)
	mockSvc.On("CheckConfig").Return(nil)
	RegisterRoutes(app, new(storeMocks.MockStorage), mockSvc, maxUpload, maxBody)
	baseURL := serve(t, app)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	t.Run("file far above the upload cap gets a 400", func(t *testing.T) {
		status, payload := postMultipart(t, client, baseURL, validFields, "big.jpg", "image/jpeg", bytes.Repeat([]byte{1}, 48<<10))

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "FILE_TOO_LARGE", payload.Code)
	})

	t.Run("file within the cap reaches the service", func(t *testing.T) {
		mockSvc.On("Generate", mock.Anything, mock.Anything, mock.MatchedBy(func(up model.Upload) bool {
			return len(up.Data) == 512 && up.ContentType == "image/png"
		})).Return(&model.GenerationResult{Success: true, JobID: uuid.NewString()}, nil).Once()

		body, ct := multipartBody(t, validFields, "ok.png", "image/png", bytes.Repeat([]byte{2}, 512))
		resp, err := client.Post(baseURL+"/api/generate", ct, body)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	mockSvc.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRequestSizeLimit(t *testing.T) {
	const maxBody = 4 << 10

	app := fiber.New(ServerConfig(maxBody))
	mockSvc := new(serviceMocks.MockGenerationService)
	mockSvc.On("CheckConfig").Return(nil)
	RegisterRoutes(app, new(storeMocks.MockStorage), mockSvc, testMaxUpload, maxBody)

	body, ct := multipartBody(t, validFields, "huge.jpg", "image/jpeg", bytes.Repeat([]byte{1}, 3*maxBody))
	req := httptest.NewRequest(http.MethodPost, "/api/generate", body)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var res errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", res.Code)
	mockSvc.AssertNotCalled(t, "CheckConfig")
	mockSvc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

