package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	jobstorememory "mediafetch/internal/jobstore/memory"
	"mediafetch/internal/progressbus"
	queuememory "mediafetch/internal/queue/memory"
)

func TestMapExtractorProgressRescalesIntoDownloadingBand(t *testing.T) {
	require.Equal(t, float64(10), mapExtractorProgress(0))
	require.Equal(t, float64(80), mapExtractorProgress(100))
	require.Equal(t, float64(45), mapExtractorProgress(50))
}

func TestBackoffDelayIsBoundedAndIncreasing(t *testing.T) {
	first := backoffDelay(0)
	later := backoffDelay(5)

	require.GreaterOrEqual(t, first, backoffBase/2) // exponential backoff jitters around the base
	require.LessOrEqual(t, later, backoffCap)
	require.Greater(t, later, first)
}

func TestStorageKeyForVideoAndSubtitle(t *testing.T) {
	video := storageKeyFor("job-1", ports.ExtractedFile{Kind: ports.ExtractedVideo, Path: "/tmp/x/out.mp4"})
	require.Equal(t, "jobs/job-1/out.mp4", video)

	sub := storageKeyFor("job-1", ports.ExtractedFile{Kind: ports.ExtractedSubtitle, Path: "/tmp/x/out.srt", Lang: "en"})
	require.Equal(t, "jobs/job-1/subtitles/en.srt", sub)
}

func TestContentTypeForKnownExtensions(t *testing.T) {
	require.Equal(t, "video/mp4", contentTypeFor("out.mp4"))
	require.Equal(t, "text/vtt", contentTypeFor("out.vtt"))
	require.Equal(t, "application/octet-stream", contentTypeFor("out.bin"))
}

func TestFailRetriesInternalKindOnceThenTerminal(t *testing.T) {
	store := jobstorememory.New()
	queue := queuememory.New()
	p := &Pool{Store: store, Queue: queue, Bus: progressbus.New(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	job := &domain.Job{
		ID:          "job-1",
		SourceURL:   "https://example.com/v",
		Status:      domain.StatusRunning,
		Attempts:    1,
		MaxAttempts: 5,
	}
	_, err := store.Create(context.Background(), job)
	require.NoError(t, err)

	lease := ports.Lease{ID: "lease-1", Payload: ports.Payload{JobID: job.ID}}
	cause := domain.Wrap(domain.ErrInternalKind, "create stdout pipe", errors.New("boom"))

	p.fail(context.Background(), lease, job, cause, domain.Retryable(domain.KindOf(cause)))

	after, err := store.Load(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusQueued, after.Status, "first internal failure should be requeued, not terminal")

	// The redelivered payload starts the second attempt.
	require.NoError(t, store.Transition(context.Background(), job.ID, []domain.Status{domain.StatusQueued}, domain.StatusRunning, ports.TransitionPatch{IncrementAttempts: true}))
	after, err = store.Load(context.Background(), job.ID)
	require.NoError(t, err)
	p.fail(context.Background(), lease, after, cause, domain.Retryable(domain.KindOf(cause)))

	final, err := store.Load(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, final.Status, "second internal failure should go terminal")
}

func TestPoolVisibilityClampedToBounds(t *testing.T) {
	p := &Pool{ExpectedJobDuration: time.Second}
	require.Equal(t, minVisibility, p.visibility())

	p2 := &Pool{ExpectedJobDuration: 2 * time.Hour}
	require.Equal(t, maxVisibility, p2.visibility())

	p3 := &Pool{ExpectedJobDuration: 20 * time.Minute}
	require.Equal(t, 40*time.Minute, p3.visibility())
}
