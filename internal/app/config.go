// Package app wires configuration for the process entrypoints. Config
// replaces manual getEnv/getEnvInt64 helpers with struct-tag
// driven loading (github.com/sethvargo/go-envconfig): there is no
// package-level mutable settings singleton anywhere in the core.
package app

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR, default=:8080"`

	MongoURI        string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGO_DB, default=mediafetch"`
	MongoCollection string `env:"MONGO_COLLECTION, default=jobs"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogFormat string `env:"LOG_FORMAT, default=text"`

	StorageBackend        string `env:"STORAGE_BACKEND, default=local"`
	StorageLocalRoot      string `env:"STORAGE_LOCAL_ROOT, default=data/storage"`
	StoragePublicBaseURL  string `env:"STORAGE_PUBLIC_BASE_URL, default=http://localhost:8080/files"`
	StorageBucket         string `env:"STORAGE_BUCKET"`
	StorageRegion         string `env:"STORAGE_REGION"`
	StorageEndpoint       string `env:"STORAGE_ENDPOINT"`
	StorageAccessKeyID    string `env:"STORAGE_ACCESS_KEY_ID"`
	StorageSecretKey      string `env:"STORAGE_SECRET_ACCESS_KEY"`

	QueueBackend   string `env:"QUEUE_BACKEND, default=memory"`
	QueueRedisAddr string `env:"QUEUE_REDIS_ADDR, default=localhost:6379"`

	WorkerConcurrency      int `env:"WORKER_CONCURRENCY, default=4"`
	JobTimeoutSeconds      int `env:"JOB_TIMEOUT_SECONDS, default=1800"`
	MaxAttempts            int `env:"MAX_ATTEMPTS, default=3"`
	ProgressHeartbeatSecs  int `env:"PROGRESS_HEARTBEAT_SECONDS, default=5"`
	ExpectedJobDurationSec int `env:"EXPECTED_JOB_DURATION_SECONDS, default=300"`

	CredentialRefreshInterval     string `env:"CREDENTIAL_REFRESH_INTERVAL, default=1h"`
	CredentialEncryptionKeyBase64 string `env:"CREDENTIAL_ENCRYPTION_KEY"`
	CredentialRateLimitPerMinute  int    `env:"CREDENTIAL_RATE_LIMIT_PER_MINUTE, default=10"`

	AllowedSourceHosts []string `env:"ALLOWED_SOURCE_HOSTS, delimiter=,"`
	ExtractorBinary    string   `env:"EXTRACTOR_BINARY, default=yt-dlp"`
	ScratchRoot        string   `env:"SCRATCH_ROOT, default=data/scratch"`

	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPSampleRate   float64 `env:"OTEL_TRACE_SAMPLE_RATE, default=0.1"`
}

// LoadConfig loads Config once at process start. Unknown environment
// variables are not an error (go-envconfig only looks up declared keys);
// an unparsable value for a declared key is a startup error, distinct from
// the per-request InvalidInput path used for unrecognized job options.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
