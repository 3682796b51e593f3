// Package credentials implements the Credential Material Store:
// encrypted-at-rest bundles fetched from the Storage Abstraction, decrypted
// on demand to short-lived scratch files.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

const bundleKey = "credentials/bundle.enc"

// badFailureWindow is the rolling window over which consecutive auth
// failures are counted before backup is promoted to active.
const badFailureWindow = 10 * time.Minute

// promoteThreshold is N consecutive auth failures within badFailureWindow.
const promoteThreshold = 3

type bundleJSON struct {
	Active      []byte    `json:"active"`
	Backup      []byte    `json:"backup"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Fingerprint string    `json:"fingerprint"`
	Domains     []string  `json:"domains"`
}

// Store is the default ports.CredentialStore implementation.
type Store struct {
	storage ports.Storage
	scratch string
	key     [32]byte
	limiter *rate.Limiter

	mu             sync.Mutex
	bundle         *domain.CredentialBundle
	backupBundle   *domain.CredentialBundle
	consecutiveBad int
	firstBadAt     time.Time
}

// New constructs a Store. key must be exactly 32 bytes (AES-256).
func New(storage ports.Storage, scratchDir string, key [32]byte, lookupsPerMinute int) *Store {
	limit := rate.Limit(float64(lookupsPerMinute) / 60.0)
	return &Store{
		storage: storage,
		scratch: scratchDir,
		key:     key,
		limiter: rate.NewLimiter(limit, lookupsPerMinute),
	}
}

func (s *Store) loadBundle(ctx context.Context) (*domain.CredentialBundle, *domain.CredentialBundle, error) {
	rc, err := s.storage.Get(ctx, bundleKey)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrStorageUnavailable, "load credential bundle", err)
	}
	defer rc.Close()

	ciphertext, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrStorageUnavailable, "read credential bundle", err)
	}

	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrInternalKind, "decrypt credential bundle", err)
	}

	var raw bundleJSON
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, nil, domain.Wrap(domain.ErrInternalKind, "parse credential bundle", err)
	}

	filteredActive, err := filterCookieJar(raw.Active, time.Now())
	if err != nil {
		return nil, nil, domain.Wrap(domain.ErrAuthRequired, "active credential bundle has no unexpired cookies", err)
	}

	active := &domain.CredentialBundle{
		Active:      filteredActive,
		IssuedAt:    raw.IssuedAt,
		ExpiresAt:   raw.ExpiresAt,
		Fingerprint: raw.Fingerprint,
		Domains:     raw.Domains,
	}
	var backup *domain.CredentialBundle
	if len(raw.Backup) > 0 {
		if filteredBackup, err := filterCookieJar(raw.Backup, time.Now()); err == nil {
			backup = &domain.CredentialBundle{Active: filteredBackup, Domains: raw.Domains}
		}
	}
	return active, backup, nil
}

// filterCookieJar parses a Netscape cookie-jar TSV document (the format the
// extraction tool itself reads: domain, include_subdomains, path, secure,
// expiration_epoch, name, value, one record per line, "#"-prefixed comment
// lines allowed) and drops records whose expiration_epoch has already
// passed. expiration_epoch of 0 marks a session cookie and never expires
// this way. Returns an error if no records survive filtering.
func filterCookieJar(data []byte, now time.Time) ([]byte, error) {
	lines := strings.Split(string(data), "\n")
	kept := make([]string, 0, len(lines))
	live := 0

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			kept = append(kept, trimmed)
			continue
		}
		fields := strings.Split(trimmed, "\t")
		if len(fields) != 7 {
			continue
		}
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		if expiry != 0 && expiry < now.Unix() {
			continue
		}
		kept = append(kept, trimmed)
		live++
	}

	if live == 0 {
		return nil, fmt.Errorf("no unexpired cookie records after filtering")
	}
	return []byte(strings.Join(kept, "\n") + "\n"), nil
}

// GetActive returns a handle owning a short-lived decrypted file on local
// scratch, written with exclusive permissions and unlinked on release.
func (s *Store) GetActive(ctx context.Context) (ports.CredentialHandle, error) {
	if !s.limiter.Allow() {
		return nil, domain.NewError(domain.ErrInternalKind, "credential lookup rate limit exceeded")
	}

	s.mu.Lock()
	if s.bundle == nil {
		active, backup, err := s.loadBundle(ctx)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.bundle = active
		s.backupBundle = backup
		metrics.CredentialRotationsTotal.WithLabelValues("initial_load").Inc()
	}
	bundle := *s.bundle
	s.mu.Unlock()

	if bundle.Expired(time.Now()) {
		return nil, domain.NewError(domain.ErrAuthRequired, "active credential bundle expired")
	}

	if err := os.MkdirAll(s.scratch, 0o700); err != nil {
		return nil, domain.Wrap(domain.ErrInternalKind, "create scratch dir", err)
	}
	path := filepath.Join(s.scratch, fmt.Sprintf("cred-%s", randomSuffix()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, domain.Wrap(domain.ErrInternalKind, "open credential scratch file", err)
	}
	if _, err := f.Write(bundle.Active); err != nil {
		f.Close()
		os.Remove(path)
		return nil, domain.Wrap(domain.ErrInternalKind, "write credential scratch file", err)
	}
	f.Close()

	return &handle{path: path, fingerprint: bundle.Fingerprint, expiresAt: bundle.ExpiresAt}, nil
}

// MarkBad records a failure for the currently-active bundle. After
// promoteThreshold consecutive failures within badFailureWindow, the backup
// bundle is promoted to active.
func (s *Store) MarkBad(_ context.Context, fingerprint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bundle == nil || s.bundle.Fingerprint != fingerprint {
		return nil
	}

	now := time.Now()
	if s.firstBadAt.IsZero() || now.Sub(s.firstBadAt) > badFailureWindow {
		s.firstBadAt = now
		s.consecutiveBad = 0
	}
	s.consecutiveBad++

	if s.consecutiveBad >= promoteThreshold && s.backupBundle != nil {
		s.bundle = s.backupBundle
		s.backupBundle = nil
		s.consecutiveBad = 0
		metrics.CredentialRotationsTotal.WithLabelValues("backup_promoted").Inc()
	}
	return nil
}

func (s *Store) Status(_ context.Context) (ports.CredentialStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ports.CredentialStatus{}
	if s.bundle != nil {
		status.ActiveFingerprint = s.bundle.Fingerprint
		status.RotationDueAt = s.bundle.ExpiresAt
	}
	if s.backupBundle != nil {
		status.BackupFingerprint = s.backupBundle.Fingerprint
	}
	return status, nil
}

// Probe confirms the bundle is loadable (from cache or a fresh Storage.Get)
// and unexpired, without minting a scratch file or consuming rate-limit
// budget the way GetActive does.
func (s *Store) Probe(ctx context.Context) ports.HealthStatus {
	s.mu.Lock()
	bundle := s.bundle
	s.mu.Unlock()

	if bundle == nil {
		loaded, _, err := s.loadBundle(ctx)
		if err != nil {
			return ports.HealthUnhealthy
		}
		bundle = loaded
	}
	if bundle.Expired(time.Now()) {
		return ports.HealthUnhealthy
	}
	return ports.HealthHealthy
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func randomSuffix() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

// handle is the default ports.CredentialHandle implementation.
type handle struct {
	once        sync.Once
	path        string
	fingerprint string
	expiresAt   time.Time
}

func (h *handle) Path() string         { return h.path }
func (h *handle) Fingerprint() string  { return h.fingerprint }
func (h *handle) ExpiresAt() time.Time { return h.expiresAt }

func (h *handle) Release() error {
	var err error
	h.once.Do(func() {
		err = os.Remove(h.path)
		if os.IsNotExist(err) {
			err = nil
		}
	})
	return err
}
