package main

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain"
)

func TestExitForErrorMapsDomainKinds(t *testing.T) {
	require.Equal(t, exitNotFound, exitForError(domain.ErrNotFound))
	require.Equal(t, exitConflict, exitForError(domain.ErrConflict))
	require.Equal(t, exitInvalidArgs, exitForError(domain.NewError(domain.ErrInvalidInput, "bad id")))
	require.Equal(t, exitBackendUnavailable, exitForError(errors.New("boom")))
}

func TestJobIDArgParsesExactlyOnePositionalArgument(t *testing.T) {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	id, code, ok := jobIDArg(fs, []string{"job-123"})
	require.True(t, ok)
	require.Equal(t, 0, code)
	require.Equal(t, domain.JobID("job-123"), id)
}

func TestJobIDArgRejectsMissingOrExtraArguments(t *testing.T) {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	_, code, ok := jobIDArg(fs, []string{})
	require.False(t, ok)
	require.Equal(t, exitInvalidArgs, code)

	fs2 := flag.NewFlagSet("retry", flag.ContinueOnError)
	_, code, ok = jobIDArg(fs2, []string{"job-1", "job-2"})
	require.False(t, ok)
	require.Equal(t, exitInvalidArgs, code)
}
