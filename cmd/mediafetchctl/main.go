// Command mediafetchctl is the operator CLI for the fetch service (spec
// §6): health, retry, and cancel, exactly as the Orchestrator would execute
// them in-process, against the same backends the server process is
// configured for.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mediafetch/internal/app"
	"mediafetch/internal/credentials"
	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	jobstorememory "mediafetch/internal/jobstore/memory"
	queuememory "mediafetch/internal/queue/memory"
	queueredis "mediafetch/internal/queue/redis"
	mongorepo "mediafetch/internal/repository/mongo"
	storagelocal "mediafetch/internal/storagebackend/local"
	storages3 "mediafetch/internal/storagebackend/s3"
	"mediafetch/internal/usecase"

	goredis "github.com/redis/go-redis/v9"
)

const (
	exitOK                 = 0
	exitInvalidArgs        = 2
	exitNotFound           = 3
	exitConflict           = 4
	exitBackendUnavailable = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mediafetchctl <health|retry|cancel> [id]")
		return exitInvalidArgs
	}

	cmd := args[0]
	rest := args[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitBackendUnavailable
	}

	switch cmd {
	case "health":
		return runHealth(ctx, cfg)
	case "retry":
		return runRetry(ctx, cfg, rest)
	case "cancel":
		return runCancel(ctx, cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return exitInvalidArgs
	}
}

func jobIDArg(fs *flag.FlagSet, args []string) (domain.JobID, int, bool) {
	if err := fs.Parse(args); err != nil {
		return "", exitInvalidArgs, false
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one job id argument")
		return "", exitInvalidArgs, false
	}
	return domain.JobID(fs.Arg(0)), 0, true
}

func runHealth(ctx context.Context, cfg app.Config) int {
	store, mongoClient, err := openJobStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "job store: %v\n", err)
		return exitBackendUnavailable
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	storageBackend, err := openStorage(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		return exitBackendUnavailable
	}

	queueBackend, redisClient, err := openQueue(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		return exitBackendUnavailable
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	credStore, err := openCredentialStore(cfg, storageBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "credentials: %v\n", err)
		return exitBackendUnavailable
	}

	checks := []struct {
		name   string
		status ports.HealthStatus
	}{
		{"job_store", store.Probe(ctx)},
		{"storage", storageBackend.Probe(ctx)},
		{"queue", queueBackend.Probe(ctx)},
		{"credentials", credStore.Probe(ctx)},
	}

	allHealthy := true
	for _, c := range checks {
		fmt.Printf("%-12s %s\n", c.name, c.status)
		if c.status != ports.HealthHealthy {
			allHealthy = false
		}
	}
	if !allHealthy {
		return exitBackendUnavailable
	}
	return exitOK
}

func runRetry(ctx context.Context, cfg app.Config, args []string) int {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	id, code, ok := jobIDArg(fs, args)
	if !ok {
		return code
	}

	store, mongoClient, err := openJobStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "job store: %v\n", err)
		return exitBackendUnavailable
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}
	queueBackend, redisClient, err := openQueue(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		return exitBackendUnavailable
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	uc := usecase.RetryJob{Store: store, Queue: queueBackend}
	job, err := uc.Execute(ctx, id)
	if err != nil {
		return exitForError(err)
	}
	fmt.Printf("job %s requeued (attempt %d/%d)\n", job.ID, job.Attempts, job.MaxAttempts)
	return exitOK
}

func runCancel(ctx context.Context, cfg app.Config, args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	id, code, ok := jobIDArg(fs, args)
	if !ok {
		return code
	}

	store, mongoClient, err := openJobStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "job store: %v\n", err)
		return exitBackendUnavailable
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	uc := usecase.CancelJob{Store: store, Registry: noopRegistry{}}
	outcome, err := uc.Execute(ctx, id)
	if err != nil {
		return exitForError(err)
	}
	fmt.Printf("job %s: %s\n", id, outcome)
	return exitOK
}

// noopRegistry satisfies ports.CancelRegistry for out-of-process CLI
// invocations: the running worker process, not this short-lived one, is
// what actually observes the flag via its own in-memory Registry. The
// cancel CLI path only needs the queued-job immediate-cancel branch to work
// standalone; the running-job branch requires the server's Registry and is
// out of scope for a separate process.
type noopRegistry struct{}

func (noopRegistry) Set(domain.JobID)        {}
func (noopRegistry) Clear(domain.JobID)      {}
func (noopRegistry) IsSet(domain.JobID) bool { return false }

func exitForError(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrNotFoundKind:
		return exitNotFound
	case domain.ErrConflictKind:
		return exitConflict
	case domain.ErrInvalidInput:
		return exitInvalidArgs
	default:
		if errors.Is(err, domain.ErrNotFound) {
			return exitNotFound
		}
		if errors.Is(err, domain.ErrConflict) {
			return exitConflict
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitBackendUnavailable
	}
}

func openJobStore(ctx context.Context, cfg app.Config) (ports.JobStore, *mongo.Client, error) {
	if cfg.MongoURI == "" {
		return jobstorememory.New(), nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, nil, err
	}
	return mongorepo.NewJobStore(client, cfg.MongoDatabase, cfg.MongoCollection), client, nil
}

func openStorage(ctx context.Context, cfg app.Config) (ports.Storage, error) {
	if cfg.StorageBackend == "object_store" {
		return storages3.New(ctx, storages3.Config{
			Bucket:          cfg.StorageBucket,
			Region:          cfg.StorageRegion,
			Endpoint:        cfg.StorageEndpoint,
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretKey,
		})
	}
	return storagelocal.New(cfg.StorageLocalRoot, cfg.StoragePublicBaseURL)
}

func openQueue(cfg app.Config) (ports.Queue, *goredis.Client, error) {
	if cfg.QueueBackend == "broker" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.QueueRedisAddr})
		return queueredis.New(client, "mediafetch"), client, nil
	}
	return queuememory.New(), nil, nil
}

func openCredentialStore(cfg app.Config, storageBackend ports.Storage) (ports.CredentialStore, error) {
	var key [32]byte
	if cfg.CredentialEncryptionKeyBase64 == "" {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is not set")
	}
	raw, err := base64.StdEncoding.DecodeString(cfg.CredentialEncryptionKeyBase64)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be 32 bytes, base64-encoded")
	}
	copy(key[:], raw)
	return credentials.New(storageBackend, os.TempDir()+"/mediafetch-credentials", key, cfg.CredentialRateLimitPerMinute), nil
}
