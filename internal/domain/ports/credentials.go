package ports

import (
	"context"
	"time"
)

// CredentialHandle owns a short-lived decrypted credential file on local
// scratch. Release erases the file; it is safe to call Release more than
// once.
type CredentialHandle interface {
	Path() string
	Fingerprint() string
	ExpiresAt() time.Time
	Release() error
}

// CredentialStatus reports the state of the active/backup bundle pair.
type CredentialStatus struct {
	ActiveFingerprint string
	BackupFingerprint string
	RotationDueAt     time.Time
}

// CredentialStore is the Credential Material Store.
type CredentialStore interface {
	GetActive(ctx context.Context) (CredentialHandle, error)
	MarkBad(ctx context.Context, fingerprint string, reason string) error
	Status(ctx context.Context) (CredentialStatus, error)

	// Probe confirms the underlying bundle is loadable and unexpired, for
	// the operator health check.
	Probe(ctx context.Context) HealthStatus
}
