// Package config loads service configuration from the environment. A .env
// file in the working directory is picked up automatically.
package config

import (
	"os"
	"strconv"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	HTTPPort string

	// DatabaseURL is a postgres DSN. When empty, DBPath selects a sqlite
	// file (local development and tooling only; vector search needs
	// postgres + pgvector).
	DatabaseURL string
	DBPath      string

	RedisAddr string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// BlobDir selects the filesystem blob store when no minio endpoint is
	// configured.
	BlobDir string

	GenAIBaseURL string
	GenAIAPIKey  string
	EmbedModel   string
	LLMModel     string

	// TrustedServices may delegate the effective uploader through the
	// X-Service-Account header.
	TrustedServices []string
}

func LoadConfig() *Config {
	cnf := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBPath:         getEnv("DB_PATH", ".data/docsearch.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "docsearch-documents"),
		GenAIBaseURL:   os.Getenv("GENAI_BASE_URL"),
		GenAIAPIKey:    os.Getenv("GENAI_API_KEY"),
		EmbedModel:     os.Getenv("EMBED_MODEL"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		BlobDir:        getEnv("BLOB_DIR", ".data/blobs"),
	}

	if ssl, err := strconv.ParseBool(os.Getenv("MINIO_USE_SSL")); err == nil {
		cnf.MinioUseSSL = ssl
	}

	if services := os.Getenv("TRUSTED_SERVICES"); services != "" {
		for _, s := range strings.Split(services, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cnf.TrustedServices = append(cnf.TrustedServices, s)
			}
		}
	}

	return cnf
}

// GetDb opens the vector store database.
func GetDb(cnf *Config) *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	if cnf.DatabaseURL != "" {
		db, err = gorm.Open(postgres.Open(cnf.DatabaseURL), &gorm.Config{})
	} else {
		logrus.Warnf("DATABASE_URL not set, using sqlite at %s (vector search unavailable)", cnf.DBPath)
		db, err = gorm.Open(sqlite.Open(cnf.DBPath), &gorm.Config{})
	}
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}

	return db
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
