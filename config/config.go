// Package config centralizes process configuration. Everything is resolved
// once at startup and passed down explicitly; nothing reads the environment
// after boot.
package config

import "os"

type Config struct {
	Addr                 string
	DatabaseURL          string
	JWTSecret            string
	VerifyBaseURL        string
	ArtifactsDir         string
	PaymentWebhookSecret string
}

// FromEnv resolves the configuration with development-friendly defaults.
func FromEnv() Config {
	return Config{
		Addr:                 getenv("ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            getenv("JWT_SECRET", "dev-secret"),
		VerifyBaseURL:        getenv("VERIFY_BASE_URL", "http://localhost:8080"),
		ArtifactsDir:         getenv("ARTIFACTS_DIR", "artifacts"),
		PaymentWebhookSecret: getenv("PAYMENT_WEBHOOK_SECRET", "test-secret"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
