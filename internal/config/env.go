package config

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvS3AccessKey = "DIGEST_VERIFIER_S3_ACCESS_KEY"
	EnvS3SecretKey = "DIGEST_VERIFIER_S3_SECRET_KEY"
)

// LoadDotEnv reads variables from the given .env files (default: ./.env)
// into the process environment. Missing files are not an error, and
// variables already set are not overwritten.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv fills object-store credentials that the file leaves empty.
func (c *Config) ApplyEnv() {
	if c.SnapshotS3.AccessKey == "" {
		c.SnapshotS3.AccessKey = os.Getenv(EnvS3AccessKey)
	}
	if c.SnapshotS3.SecretKey == "" {
		c.SnapshotS3.SecretKey = os.Getenv(EnvS3SecretKey)
	}
}
