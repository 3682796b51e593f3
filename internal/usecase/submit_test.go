package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain"
	jobstorememory "mediafetch/internal/jobstore/memory"
	queuememory "mediafetch/internal/queue/memory"
)

func newSubmit(allowed []string) Submit {
	return Submit{
		Store:              jobstorememory.New(),
		Queue:              queuememory.New(),
		AllowedHosts:       allowed,
		DefaultMaxAttempts: 3,
	}
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	uc := newSubmit(nil)

	result, err := uc.Execute(context.Background(), SubmitRequest{SourceURL: "https://example.com/watch?v=1"}, "caller-a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusQueued, result.Job.Status)
	require.Equal(t, 3, result.Job.MaxAttempts)
	require.Equal(t, "caller-a", result.Job.Caller)
	require.NotEmpty(t, result.Job.ID)
}

func TestSubmitRejectsEmptyURL(t *testing.T) {
	uc := newSubmit(nil)
	_, err := uc.Execute(context.Background(), SubmitRequest{SourceURL: ""}, "caller")
	require.Error(t, err)
	require.Equal(t, domain.ErrInvalidInput, domain.KindOf(err))
}

func TestSubmitRejectsDisallowedHost(t *testing.T) {
	uc := newSubmit([]string{"allowed.example.com"})
	_, err := uc.Execute(context.Background(), SubmitRequest{SourceURL: "https://not-allowed.example.com/x"}, "caller")
	require.Error(t, err)
	require.Equal(t, domain.ErrInvalidInput, domain.KindOf(err))
}

func TestSubmitAllowsWildcardSubdomain(t *testing.T) {
	uc := newSubmit([]string{"*.example.com"})
	_, err := uc.Execute(context.Background(), SubmitRequest{SourceURL: "https://cdn.example.com/x"}, "caller")
	require.NoError(t, err)
}

func TestSubmitRejectsInvalidOutputFormat(t *testing.T) {
	uc := newSubmit(nil)
	_, err := uc.Execute(context.Background(), SubmitRequest{
		SourceURL: "https://example.com/x",
		Options:   domain.Options{OutputFormat: "avi"},
	}, "caller")
	require.Error(t, err)
	require.Equal(t, domain.ErrInvalidInput, domain.KindOf(err))
}

func TestSubmitCanonicalizesURL(t *testing.T) {
	uc := newSubmit(nil)
	result, err := uc.Execute(context.Background(), SubmitRequest{SourceURL: "HTTPS://Example.COM/watch#frag"}, "caller")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/watch", result.Job.SourceURL)
}
