package config

import (
	"os"
	"strconv"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base under which stored objects are publicly readable.
	// When empty it is derived from Endpoint, UseSSL and Bucket.
	PublicURL string
}

// GeneratorConfig holds settings for the generative image backend.
type GeneratorConfig struct {
	Provider       string
	GatewayAPIKey  string
	GatewayBaseURL string
	GeminiAPIKey   string
	Model          string
	Temperature    float64
	TimeoutSec     int
}

// APIKey returns the key for the selected provider.
func (g GeneratorConfig) APIKey() string {
	if g.Provider == ProviderGemini {
		return g.GeminiAPIKey
	}
	return g.GatewayAPIKey
}

const (
	ProviderGateway = "gateway"
	ProviderGemini  = "gemini"
)

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost     string
	Port        string
	LogLevel    string
	MaxUploadMB int
	MaxBodyMB   int
	MinIO       MinIOConfig
	Generator   GeneratorConfig
}

// MaxUploadBytes is the largest accepted photo in bytes.
func (c *AppConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// MaxBodyBytes is the largest request body the server accepts. Bodies between the upload
// cap and this limit still reach validation and get a proper 400.
func (c *AppConfig) MaxBodyBytes() int64 {
	return int64(c.MaxBodyMB) * 1024 * 1024
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	provider := getEnv("GENERATOR_PROVIDER", ProviderGateway)
	defaultModel := "google/gemini-2.5-flash-image-preview"
	if provider == ProviderGemini {
		defaultModel = "gemini-2.5-flash-image-preview"
	}

	maxUploadMB := getEnvInt("MAX_UPLOAD_MB", 30)
	maxBodyMB := getEnvInt("MAX_BODY_MB", 4*maxUploadMB)
	if maxBodyMB <= maxUploadMB {
		maxBodyMB = 4 * maxUploadMB
	}

	return &AppConfig{
		AppHost:     getEnv("APP_HOST", "localhost:8080"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MaxUploadMB: maxUploadMB,
		MaxBodyMB:   maxBodyMB,
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
		},
		Generator: GeneratorConfig{
			Provider:       provider,
			GatewayAPIKey:  getEnv("AI_GATEWAY_API_KEY", ""),
			GatewayBaseURL: getEnv("AI_GATEWAY_BASE_URL", "https://ai-gateway.vercel.sh/v1"),
			GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
			Model:          getEnv("GENERATOR_MODEL", defaultModel),
			Temperature:    getEnvFloat("GENERATOR_TEMPERATURE", 0.7),
			TimeoutSec:     getEnvInt("GENERATOR_TIMEOUT_SEC", 60),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
