package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	goredis "github.com/redis/go-redis/v9"

	"mediafetch/internal/app"
	"mediafetch/internal/credentials"
	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/extractor"
	jobstorememory "mediafetch/internal/jobstore/memory"
	"mediafetch/internal/metrics"
	"mediafetch/internal/progressbus"
	queuememory "mediafetch/internal/queue/memory"
	queueredis "mediafetch/internal/queue/redis"
	mongorepo "mediafetch/internal/repository/mongo"
	storagelocal "mediafetch/internal/storagebackend/local"
	storages3 "mediafetch/internal/storagebackend/s3"
	"mediafetch/internal/telemetry"
	"mediafetch/internal/usecase"
	"mediafetch/internal/worker"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(rootCtx)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(rootCtx, "mediafetch")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("storageBackend", cfg.StorageBackend),
		slog.String("queueBackend", cfg.QueueBackend),
		slog.Int("workerConcurrency", cfg.WorkerConcurrency),
	)

	jobStore, mongoClient := buildJobStore(rootCtx, cfg, logger)
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	storageBackend := buildStorage(rootCtx, cfg, logger)
	queueBackend, redisClient := buildQueue(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	credStore := buildCredentialStore(cfg, storageBackend)
	extractorAdapter := extractor.New(cfg.ExtractorBinary, time.Duration(cfg.JobTimeoutSeconds)*time.Second, time.Duration(cfg.ProgressHeartbeatSecs)*time.Second)
	bus := progressbus.New()
	registry := worker.NewCancelRegistry()

	pool := &worker.Pool{
		Store:               jobStore,
		Queue:               queueBackend,
		Storage:             storageBackend,
		Credentials:         credStore,
		Extractor:           extractorAdapter,
		Bus:                 bus,
		Registry:            registry,
		Logger:              logger,
		ScratchRoot:         cfg.ScratchRoot,
		Concurrency:         cfg.WorkerConcurrency,
		ExpectedJobDuration: time.Duration(cfg.ExpectedJobDurationSec) * time.Second,
	}

	submitUC := usecase.Submit{
		Store:              jobStore,
		Queue:              queueBackend,
		AllowedHosts:       cfg.AllowedSourceHosts,
		DefaultMaxAttempts: cfg.MaxAttempts,
	}
	getUC := usecase.GetJob{Store: jobStore}
	listUC := usecase.ListJobs{Store: jobStore}
	cancelUC := usecase.CancelJob{Store: jobStore, Registry: registry}
	retryUC := usecase.RetryJob{Store: jobStore, Queue: queueBackend}

	go pool.Run(rootCtx)
	go reportQueueDepth(rootCtx, queueBackend, logger)

	api := &apiServer{
		submit: submitUC,
		get:    getUC,
		list:   listUC,
		cancel: cancelUC,
		retry:  retryUC,
		bus:    bus,
		health: healthProbes{store: jobStore, storage: storageBackend, queue: queueBackend, creds: credStore},
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/jobs", api.handleJobs)
	mux.HandleFunc("/jobs/", api.handleJobByID)

	handler := otelhttp.NewHandler(mux, "mediafetch")

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func buildJobStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.JobStore, *mongo.Client) {
	if cfg.MongoURI == "" {
		logger.Info("using in-memory job store")
		return jobstorememory.New(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	monitor := otelmongo.NewMonitor()
	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(monitor))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := mongorepo.NewJobStore(client, cfg.MongoDatabase, cfg.MongoCollection)
	if err := store.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return store, client
}

func buildStorage(ctx context.Context, cfg app.Config, logger *slog.Logger) ports.Storage {
	switch cfg.StorageBackend {
	case "object_store":
		s3Cfg := storages3.Config{
			Bucket:          cfg.StorageBucket,
			Region:          cfg.StorageRegion,
			Endpoint:        cfg.StorageEndpoint,
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretKey,
		}
		backend, err := storages3.New(ctx, s3Cfg)
		if err != nil {
			logger.Error("s3 storage init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return backend
	default:
		backend, err := storagelocal.New(cfg.StorageLocalRoot, cfg.StoragePublicBaseURL)
		if err != nil {
			logger.Error("local storage init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return backend
	}
}

func buildQueue(cfg app.Config, logger *slog.Logger) (ports.Queue, *goredis.Client) {
	if cfg.QueueBackend == "broker" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.QueueRedisAddr})
		return queueredis.New(client, "mediafetch"), client
	}
	logger.Info("using in-memory queue")
	return queuememory.New(), nil
}

func buildCredentialStore(cfg app.Config, storageBackend ports.Storage) ports.CredentialStore {
	var key [32]byte
	if cfg.CredentialEncryptionKeyBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.CredentialEncryptionKeyBase64)
		if err != nil || len(raw) != 32 {
			slog.Error("invalid CREDENTIAL_ENCRYPTION_KEY: must be 32 bytes, base64-encoded")
			os.Exit(1)
		}
		copy(key[:], raw)
	} else {
		_, _ = rand.Read(key[:]) // no bundle configured; bundle load will fail until one is provisioned
	}
	return credentials.New(storageBackend, os.TempDir()+"/mediafetch-credentials", key, cfg.CredentialRateLimitPerMinute)
}

func reportQueueDepth(ctx context.Context, q ports.Queue, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := q.Depth(ctx)
			if err != nil {
				continue
			}
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}

type healthProbes struct {
	store   ports.JobStore
	storage ports.Storage
	queue   ports.Queue
	creds   ports.CredentialStore
}

func (h healthProbes) allHealthy(ctx context.Context) bool {
	return h.store.Probe(ctx) == ports.HealthHealthy &&
		h.storage.Probe(ctx) == ports.HealthHealthy &&
		h.queue.Probe(ctx) == ports.HealthHealthy &&
		h.creds.Probe(ctx) == ports.HealthHealthy
}

type apiServer struct {
	submit usecase.Submit
	get    usecase.GetJob
	list   usecase.ListJobs
	cancel usecase.CancelJob
	retry  usecase.RetryJob
	bus    *progressbus.Bus
	health healthProbes
	logger *slog.Logger
}

func (a *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if a.health.allHealthy(r.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("unhealthy"))
}

func (a *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req usecase.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.NewError(domain.ErrInvalidInput, "malformed request body"))
			return
		}
		result, err := a.submit.Execute(r.Context(), req, callerFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, result)
	case http.MethodGet:
		var filter domain.Filter
		if status := r.URL.Query().Get("status"); status != "" {
			s := domain.Status(status)
			filter.Status = &s
		}
		page := domain.Page{Cursor: r.URL.Query().Get("cursor")}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			page.Limit = limit
		}
		result, err := a.list.Execute(r.Context(), filter, page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *apiServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.SplitN(rest, "/", 2)
	id := domain.JobID(parts[0])
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "cancel":
			outcome, err := a.cancel.Execute(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
			return
		case "retry":
			job, err := a.retry.Execute(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, job)
			return
		case "progress":
			a.handleProgressStream(w, r, id)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	job, err := a.get.Execute(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleProgressStream bridges the in-process Progress Bus to a websocket
// subscriber: one goroutine per connection, draining the bounded per-job
// channel until it's closed or the client disconnects.
func (a *apiServer) handleProgressStream(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := a.bus.Subscribe(id)
	defer a.bus.Unsubscribe(sub)

	if snap, ok := a.bus.Snapshot(id); ok {
		_ = conn.WriteJSON(snap)
	}

	for evt := range sub.Events {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

func callerFromRequest(r *http.Request) string {
	if c := r.Header.Get("X-Caller"); c != "" {
		return c
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.ErrInvalidInput:
		status = http.StatusBadRequest
	case domain.ErrNotFoundKind:
		status = http.StatusNotFound
	case domain.ErrConflictKind:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"kind": string(kind), "message": err.Error()})
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
