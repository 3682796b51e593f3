// Package worker implements the pool of goroutines that drain the Queue and
// drive each job through extraction, upload, and completion.
// The pool shape mirrors a "parallel long-lived execution
// contexts over cooperative concurrency," generalized from one torrent
// engine instance to N worker goroutines sharing one dispatcher and store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

const (
	minVisibility = 5 * time.Minute
	maxVisibility = time.Hour

	uploadMaxRetries  = 3
	uploadRetryBase   = 2 * time.Second
	backoffBase       = 30 * time.Second
	backoffFactor     = 2
	backoffCap        = 10 * time.Minute
)

// Pool runs WORKER_CONCURRENCY goroutines, each independently reserving,
// executing, and acking/nacking against one Queue and one JobStore.
type Pool struct {
	Store       ports.JobStore
	Queue       ports.Queue
	Storage     ports.Storage
	Credentials ports.CredentialStore
	Extractor   ports.Extractor
	Bus         ports.ProgressBus
	Registry    ports.CancelRegistry
	Logger      *slog.Logger
	ScratchRoot string

	Concurrency         int
	ExpectedJobDuration time.Duration
}

func (p *Pool) visibility() time.Duration {
	v := 2 * p.ExpectedJobDuration
	if v < minVisibility {
		v = minVisibility
	}
	if v > maxVisibility {
		v = maxVisibility
	}
	return v
}

// Run blocks, running Concurrency reservation loops until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	n := p.Concurrency
	if n <= 0 {
		n = 1
	}
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(id int) {
			p.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := p.Logger.With(slog.Int("worker_id", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lease, ok, err := p.Queue.Reserve(ctx, p.visibility())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("reserve failed", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		p.handle(ctx, logger, lease)
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, lease ports.Lease) {
	jobID := lease.Payload.JobID
	logger = logger.With(slog.String("job_id", string(jobID)))

	job, err := p.Store.Load(ctx, jobID)
	if err != nil {
		_ = p.Queue.Ack(ctx, lease)
		return
	}

	if job.Status == domain.StatusRunning {
		if job.Timestamps.StartedAt == nil || time.Since(*job.Timestamps.StartedAt) < p.visibility() {
			// Started recently enough that the original attempt may still
			// be alive; drop this redelivery rather than double-execute.
			_ = p.Queue.Ack(ctx, lease)
			return
		}
		if err := p.Store.Transition(ctx, jobID, []domain.Status{domain.StatusRunning}, domain.StatusRunning, ports.TransitionPatch{}); err != nil {
			_ = p.Queue.Ack(ctx, lease)
			return
		}
	} else if job.Status == domain.StatusQueued {
		now := time.Now()
		patch := ports.TransitionPatch{IncrementAttempts: true, StartedAt: &now}
		if err := p.Store.Transition(ctx, jobID, []domain.Status{domain.StatusQueued}, domain.StatusRunning, patch); err != nil {
			_ = p.Queue.Ack(ctx, lease)
			return
		}
	} else {
		// Terminal or cancelled already; this redelivery is stale.
		_ = p.Queue.Ack(ctx, lease)
		return
	}

	job, err = p.Store.Load(ctx, jobID)
	if err != nil {
		_ = p.Queue.Ack(ctx, lease)
		return
	}

	p.execute(ctx, logger, lease, job)
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, lease ports.Lease, job *domain.Job) {
	metrics.ActiveWorkers.Inc()
	metrics.JobsInFlight.Inc()
	defer metrics.ActiveWorkers.Dec()
	defer metrics.JobsInFlight.Dec()

	jobID := job.ID
	scratchDir := filepath.Join(p.ScratchRoot, string(jobID))
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		p.fail(ctx, lease, job, domain.Wrap(domain.ErrInternalKind, "create scratch dir", err), true)
		return
	}
	defer os.RemoveAll(scratchDir)

	p.publish(jobID, domain.StagePreparing, 2, "")

	var credHandle ports.CredentialHandle
	var credPath string
	if job.Options.UseCredentials {
		h, err := p.Credentials.GetActive(ctx)
		if err != nil {
			kind := domain.KindOf(err)
			p.fail(ctx, lease, job, domain.Wrap(kind, "no usable credential", err), domain.Retryable(kind))
			return
		}
		credHandle = h
		credPath = h.Path()
		defer credHandle.Release()
	}

	if p.Registry.IsSet(jobID) {
		p.cancelJob(ctx, lease, job)
		return
	}

	p.publish(jobID, domain.StageExtracting, 7, "")

	// extractCtx is cancelled independently of the worker loop's ctx so a
	// cancel request observed mid-run (via the progress callback, which also
	// fires on the extractor's own heartbeat ticker) can tear down just this
	// attempt's subprocess without killing the whole worker goroutine.
	extractCtx, cancelExtract := context.WithCancel(ctx)
	defer cancelExtract()

	result, err := p.Extractor.Run(extractCtx, job, credPath, scratchDir, func(evt domain.ProgressEvent) {
		mapped := mapExtractorProgress(evt.Percent)
		p.publish(jobID, domain.StageDownloading, mapped, evt.Message)
		_ = p.Store.TouchProgress(ctx, jobID, mapped)
		if p.Registry.IsSet(jobID) {
			cancelExtract()
		}
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrCancelledKind {
			p.cancelJob(ctx, lease, job)
			return
		}
		p.handleExtractFailure(ctx, lease, job, credHandle, err)
		return
	}

	if p.Registry.IsSet(jobID) {
		p.cancelJob(ctx, lease, job)
		return
	}

	p.publish(jobID, domain.StageUploading, 80, "")

	artifacts, uploadErr := p.uploadAll(ctx, jobID, result)
	if uploadErr != nil {
		p.fail(ctx, lease, job, uploadErr, domain.Retryable(domain.KindOf(uploadErr)))
		return
	}

	p.publish(jobID, domain.StageFinalizing, 99, "")

	now := time.Now()
	patch := ports.TransitionPatch{
		FinishedAt: &now,
		Metadata:   &result.Metadata,
		Artifacts:  &artifacts,
	}
	if err := p.Store.Transition(ctx, jobID, []domain.Status{domain.StatusRunning}, domain.StatusSucceeded, patch); err != nil {
		logger.Error("final transition failed", slog.String("error", err.Error()))
	}
	_ = p.Queue.Ack(ctx, lease)

	metrics.JobsTotal.WithLabelValues(string(domain.StatusSucceeded)).Inc()
	p.publish(jobID, domain.StageFinalizing, 100, "succeeded")
	p.Bus.Close(jobID)
}

func (p *Pool) handleExtractFailure(ctx context.Context, lease ports.Lease, job *domain.Job, credHandle ports.CredentialHandle, err error) {
	kind := domain.KindOf(err)
	if kind == domain.ErrAuthRequired && credHandle != nil {
		_ = p.Credentials.MarkBad(ctx, credHandle.Fingerprint(), "auth")
		// MarkBad may promote the backup bundle. The failure is treated as
		// retryable: the job is requeued for a later attempt, which uses
		// whichever bundle is active then; the extractor is not re-run
		// within this attempt.
		p.fail(ctx, lease, job, err, true)
		return
	}
	retryable := domain.Retryable(kind)
	p.fail(ctx, lease, job, err, retryable)
}

func (p *Pool) uploadAll(ctx context.Context, jobID domain.JobID, result ports.RunResult) (domain.Artifacts, error) {
	var artifacts domain.Artifacts
	for _, file := range result.Files {
		key := storageKeyFor(jobID, file)
		art, err := p.uploadWithRetry(ctx, key, file.Path)
		if err != nil {
			return domain.Artifacts{}, err
		}
		switch file.Kind {
		case ports.ExtractedVideo:
			artifacts.Video = art
		case ports.ExtractedThumbnail:
			artifacts.Thumbnail = art
		case ports.ExtractedSubtitle:
			if artifacts.Subtitles == nil {
				artifacts.Subtitles = make(map[string]*domain.Artifact)
			}
			artifacts.Subtitles[file.Lang] = art
		}
	}
	return artifacts, nil
}

func (p *Pool) uploadWithRetry(ctx context.Context, key, path string) (*domain.Artifact, error) {
	var lastErr error
	for attempt := 0; attempt < uploadMaxRetries; attempt++ {
		f, err := os.Open(path)
		if err != nil {
			return nil, domain.Wrap(domain.ErrInternalKind, "open produced file", err)
		}
		res, err := p.Storage.Put(ctx, key, f, contentTypeFor(path))
		f.Close()
		if err == nil {
			return &domain.Artifact{StorageKey: key, SizeBytes: res.SizeBytes, ContentType: contentTypeFor(path)}, nil
		}
		lastErr = err
		time.Sleep(uploadRetryBase * time.Duration(1<<attempt))
	}
	return nil, domain.Wrap(domain.ErrStorageUnavailable, "upload after retries", lastErr)
}

func storageKeyFor(jobID domain.JobID, file ports.ExtractedFile) string {
	name := filepath.Base(file.Path)
	switch file.Kind {
	case ports.ExtractedSubtitle:
		return fmt.Sprintf("jobs/%s/subtitles/%s%s", jobID, file.Lang, filepath.Ext(name))
	default:
		return fmt.Sprintf("jobs/%s/%s", jobID, name)
	}
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func mapExtractorProgress(raw float64) float64 {
	// Maps the extractor's own 0-100 download progress into the worker's
	// 10-80 downloading band.
	return 10 + (raw/100.0)*70
}

func (p *Pool) publish(jobID domain.JobID, stage domain.Stage, percent float64, message string) {
	p.Bus.Publish(domain.ProgressEvent{JobID: jobID, Stage: stage, Percent: percent, Message: message, At: time.Now()})
}

func (p *Pool) cancelJob(ctx context.Context, lease ports.Lease, job *domain.Job) {
	now := time.Now()
	patch := ports.TransitionPatch{FinishedAt: &now}
	_ = p.Store.Transition(ctx, job.ID, []domain.Status{domain.StatusRunning}, domain.StatusCancelled, patch)
	_ = p.Queue.Ack(ctx, lease)
	p.Registry.Clear(job.ID)
	metrics.JobsTotal.WithLabelValues(string(domain.StatusCancelled)).Inc()
	p.publish(job.ID, domain.StageFinalizing, 100, "cancelled")
	p.Bus.Close(job.ID)
}

func (p *Pool) fail(ctx context.Context, lease ports.Lease, job *domain.Job, cause error, retryable bool) {
	kind := domain.KindOf(cause)
	jobErr := &domain.JobError{Kind: kind, Message: cause.Error()}

	// Internal failures (pipe/process setup, credential decrypt/parse,
	// output discovery) are not in Retryable's set but still get one retry
	// before going terminal, bounded by Attempts rather than MaxAttempts.
	if kind == domain.ErrInternalKind {
		retryable = job.Attempts <= 1
	}

	if retryable && job.Attempts < job.MaxAttempts {
		_ = p.Store.Transition(ctx, job.ID, []domain.Status{domain.StatusRunning}, domain.StatusQueued, ports.TransitionPatch{})
		delay := backoffDelay(job.Attempts)
		_ = p.Queue.Nack(ctx, lease, delay)
		metrics.QueueRequeuesTotal.WithLabelValues(string(kind)).Inc()
		return
	}

	if retryable {
		_ = p.Queue.DeadLetter(ctx, lease.Payload, cause.Error())
	}

	now := time.Now()
	patch := ports.TransitionPatch{FinishedAt: &now, Error: jobErr}
	_ = p.Store.Transition(ctx, job.ID, []domain.Status{domain.StatusRunning}, domain.StatusFailed, patch)
	_ = p.Queue.Ack(ctx, lease)
	metrics.JobsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	p.publish(job.ID, domain.StageFinalizing, 100, "failed: "+cause.Error())
	p.Bus.Close(job.ID)
}

// backoffDelay computes the nack-requeue delay for a given attempt count
// using cenkalti/backoff/v5's exponential policy (with its built-in jitter)
// rather than a hand-rolled power-of-two ramp.
func backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = backoffFactor
	b.MaxInterval = backoffCap

	delay := b.InitialInterval
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
