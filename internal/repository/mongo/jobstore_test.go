package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain"
)

func TestToDocFromDocRoundTripsCoreFields(t *testing.T) {
	started := time.Unix(1700000100, 0).UTC()
	finished := time.Unix(1700000200, 0).UTC()
	job := domain.Job{
		ID:        "job-1",
		SourceURL: "https://example.com/watch?v=1",
		Status:    domain.StatusSucceeded,
		Progress:  100,
		Options: domain.Options{
			Quality:           domain.QualityBest,
			OutputFormat:      domain.FormatMP4,
			IncludeSubtitles:  true,
			SubtitleLanguages: []string{"en", "fr"},
		},
		Metadata: &domain.Metadata{Title: "A Video", Duration: 12.5, ViewCount: 42},
		Artifacts: domain.Artifacts{
			Video:     &domain.Artifact{StorageKey: "jobs/job-1/out.mp4", SizeBytes: 1024, ContentType: "video/mp4"},
			Subtitles: map[string]*domain.Artifact{"en": {StorageKey: "jobs/job-1/subtitles/en.srt", SizeBytes: 10}},
		},
		Timestamps: domain.Timestamps{
			CreatedAt:  time.Unix(1700000000, 0).UTC(),
			StartedAt:  &started,
			FinishedAt: &finished,
		},
		Attempts:    1,
		MaxAttempts: 3,
		Caller:      "api-key-123",
	}

	doc := toDoc(job)
	roundTripped := fromDoc(doc)

	require.Equal(t, job.ID, roundTripped.ID)
	require.Equal(t, job.SourceURL, roundTripped.SourceURL)
	require.Equal(t, job.Status, roundTripped.Status)
	require.Equal(t, job.Options, roundTripped.Options)
	require.Equal(t, job.Metadata, roundTripped.Metadata)
	require.Equal(t, job.Artifacts.Video, roundTripped.Artifacts.Video)
	require.Equal(t, job.Artifacts.Subtitles["en"], roundTripped.Artifacts.Subtitles["en"])
	require.Equal(t, job.Timestamps.CreatedAt, roundTripped.Timestamps.CreatedAt)
	require.Equal(t, job.Timestamps.StartedAt.Unix(), roundTripped.Timestamps.StartedAt.Unix())
	require.Equal(t, job.Timestamps.FinishedAt.Unix(), roundTripped.Timestamps.FinishedAt.Unix())
	require.Equal(t, job.Attempts, roundTripped.Attempts)
	require.Equal(t, job.Caller, roundTripped.Caller)
}

func TestToDocFromDocRoundTripsJobError(t *testing.T) {
	job := domain.Job{
		ID:          "job-2",
		Status:      domain.StatusFailed,
		MaxAttempts: 3,
		Error:       &domain.JobError{Kind: domain.ErrExtractorTransient, Message: "network blip"},
		Timestamps:  domain.Timestamps{CreatedAt: time.Unix(1700000000, 0).UTC()},
	}

	roundTripped := fromDoc(toDoc(job))
	require.Equal(t, job.Error, roundTripped.Error)
}

func TestFromDocHandlesNilOptionalFields(t *testing.T) {
	doc := jobDoc{
		ID:          "job-3",
		Status:      string(domain.StatusQueued),
		CreatedAt:   1700000000,
		MaxAttempts: 3,
	}

	job := fromDoc(doc)
	require.Nil(t, job.Metadata)
	require.Nil(t, job.Error)
	require.Nil(t, job.Timestamps.StartedAt)
	require.Nil(t, job.Timestamps.FinishedAt)
	require.Nil(t, job.Artifacts.Video)
	require.Empty(t, job.Artifacts.Subtitles)
}
