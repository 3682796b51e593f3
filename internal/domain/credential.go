package domain

import "time"

// CredentialBundle is a decrypted-in-memory pair of cookie/session blobs for
// the Extractor Adapter to present to a source platform. Active is preferred;
// Backup exists so a flagged-bad active credential can be rotated without a
// full re-issue round trip.
type CredentialBundle struct {
	Active      []byte
	Backup      []byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Fingerprint string
	Domains     []string
}

// Expired reports whether the bundle is past its validity window as of now.
func (b CredentialBundle) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}
