package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
)

var validate = validator.New()

// EstimatedDurationSeconds is the fixed, informational time estimate
// returned alongside a freshly submitted job.
const EstimatedDurationSeconds = 300

// Submit is the Orchestrator's submit(request, caller) operation.
type Submit struct {
	Store              ports.JobStore
	Queue              ports.Queue
	AllowedHosts       []string // host allow-list patterns from configuration
	DefaultMaxAttempts int
	Now                func() time.Time
}

// SubmitRequest is the caller-supplied subset of fields recognized by the
// system; unrecognized fields are the API layer's concern, not ours.
type SubmitRequest struct {
	SourceURL string
	Options   domain.Options
}

type SubmitResult struct {
	Job                      domain.Job
	EstimatedDurationSeconds int
}

func (uc Submit) Execute(ctx context.Context, req SubmitRequest, caller string) (SubmitResult, error) {
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}

	canonical, err := canonicalizeURL(req.SourceURL)
	if err != nil {
		return SubmitResult{}, domain.NewError(domain.ErrInvalidInput, err.Error())
	}
	if !hostAllowed(canonical, uc.AllowedHosts) {
		return SubmitResult{}, domain.NewError(domain.ErrInvalidInput, "source host is not in the allow-list")
	}
	if err := validate.Struct(req.Options); err != nil {
		return SubmitResult{}, domain.Wrap(domain.ErrInvalidInput, "invalid options", err)
	}

	maxAttempts := uc.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	job := domain.Job{
		ID:          domain.JobID(uuid.NewString()),
		SourceURL:   canonical,
		Status:      domain.StatusQueued,
		Options:     req.Options,
		MaxAttempts: maxAttempts,
		Caller:      caller,
		Timestamps:  domain.Timestamps{CreatedAt: now()},
	}

	if _, err := uc.Store.Create(ctx, &job); err != nil {
		return SubmitResult{}, wrapStore(err)
	}

	if err := uc.Queue.Enqueue(ctx, ports.Payload{JobID: job.ID, Attempt: 0}, 0); err != nil {
		return SubmitResult{}, wrapQueue(err)
	}

	return SubmitResult{Job: job, EstimatedDurationSeconds: EstimatedDurationSeconds}, nil
}

func canonicalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("source_url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("source_url is not a valid URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("source_url must be an absolute URL")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}

func hostAllowed(rawURL string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // keep leading dot
			if strings.HasSuffix(host, suffix) || host == pattern[2:] {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}
