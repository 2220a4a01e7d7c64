package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string
	MongoURI       string
	MongoDatabase  string
	CookieSecret   string
	SessionTTL     time.Duration
	CORSOrigin     string
	FrontendOrigin string
	Debug          bool
	// Uploaded file storage. MinIO is used when an endpoint is set,
	// local disk otherwise.
	UploadsDir     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis session backend, optional. Sessions live in Mongo when empty.
	RedisURL string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, relying on environment variables")
	}
	return Config{
		Addr:           getenv("API_ADDR", ":8788"),
		MongoURI:       getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getenv("MONGO_DB", "proofdeck"),
		CookieSecret:   getenv("PROOFDECK_COOKIE_SECRET", "proofdeck-dev-secret"),
		SessionTTL:     time.Duration(getenvInt("PROOFDECK_SESSION_TTL_SECONDS", 1209600)) * time.Second,
		CORSOrigin:     getenv("PROOFDECK_CORS_ORIGIN", "*"),
		FrontendOrigin: getenv("FRONTEND_ORIGIN", "http://localhost:5173"),
		Debug:          getenvBool("PROOFDECK_DEBUG", false),
		UploadsDir:     getenv("PROOFDECK_UPLOADS_DIR", "./data/uploads"),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "proofdeck-files"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		// SMTP - empty by default, mention emails disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Proofdeck"),
		RedisURL:     getenv("REDIS_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
