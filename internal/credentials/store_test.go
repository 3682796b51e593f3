package credentials

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/domain/ports"
	"mediafetch/internal/storagebackend/local"
)

// cookieJarLine builds a single Netscape cookie-jar TSV record.
func cookieJarLine(name, value string, expiresAt time.Time) string {
	return fmt.Sprintf("example.com\tTRUE\t/\tTRUE\t%d\t%s\t%s", expiresAt.Unix(), name, value)
}

func seedBundle(t *testing.T, storage ports.Storage, key [32]byte, b bundleJSON) {
	t.Helper()
	plaintext, err := json.Marshal(b)
	require.NoError(t, err)

	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	_, err = storage.Put(context.Background(), bundleKey, bytes.NewReader(ciphertext), "application/octet-stream")
	require.NoError(t, err)
}

func newTestStore(t *testing.T, key [32]byte, limitPerMinute int) (*Store, ports.Storage) {
	t.Helper()
	storage, err := local.New(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)
	return New(storage, filepath.Join(t.TempDir(), "scratch"), key, limitPerMinute), storage
}

func testKey() [32]byte {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return key
}

func TestGetActiveDecryptsAndWritesScratchFile(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	line := cookieJarLine("sid", "cookie-bytes", time.Now().Add(24*time.Hour))
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(line),
		IssuedAt:    time.Now().Add(-time.Hour),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-1",
		Domains:     []string{"example.com"},
	})

	handle, err := store.GetActive(context.Background())
	require.NoError(t, err)
	defer handle.Release()

	require.Equal(t, "fp-1", handle.Fingerprint())
	data, err := os.ReadFile(handle.Path())
	require.NoError(t, err)
	require.Equal(t, line+"\n", string(data))
}

func TestGetActiveRejectsExpiredBundle(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "cookie-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(-time.Minute),
		Fingerprint: "fp-1",
	})

	_, err := store.GetActive(context.Background())
	require.Error(t, err)
}

func TestGetActiveRejectsBundleWithNoUnexpiredCookies(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "cookie-bytes", time.Now().Add(-time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-1",
	})

	_, err := store.GetActive(context.Background())
	require.Error(t, err)
}

func TestGetActiveEnforcesRateLimit(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 1)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "cookie-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-1",
	})

	_, err := store.GetActive(context.Background())
	require.NoError(t, err)

	_, err = store.GetActive(context.Background())
	require.Error(t, err)
}

func TestReleaseUnlinksScratchFileAndIsIdempotent(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "cookie-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-1",
	})

	handle, err := store.GetActive(context.Background())
	require.NoError(t, err)
	path := handle.Path()

	require.NoError(t, handle.Release())
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	require.NoError(t, handle.Release())
}

func TestMarkBadPromotesBackupAfterThreshold(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "active-bytes", time.Now().Add(24*time.Hour))),
		Backup:      []byte(cookieJarLine("sid", "backup-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-active",
	})

	handle, err := store.GetActive(context.Background())
	require.NoError(t, err)
	require.NoError(t, handle.Release())

	for i := 0; i < promoteThreshold; i++ {
		require.NoError(t, store.MarkBad(context.Background(), "fp-active", "auth rejected"))
	}

	status, err := store.Status(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, "fp-active", status.ActiveFingerprint)
}

func TestMarkBadIgnoresMismatchedFingerprint(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "active-bytes", time.Now().Add(24*time.Hour))),
		Backup:      []byte(cookieJarLine("sid", "backup-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-active",
	})

	handle, err := store.GetActive(context.Background())
	require.NoError(t, err)
	require.NoError(t, handle.Release())

	for i := 0; i < promoteThreshold+2; i++ {
		require.NoError(t, store.MarkBad(context.Background(), "some-other-fingerprint", "auth rejected"))
	}

	status, err := store.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fp-active", status.ActiveFingerprint)
}

func TestProbeReportsUnhealthyWhenBundleMissing(t *testing.T) {
	key := testKey()
	store, _ := newTestStore(t, key, 120)
	require.Equal(t, ports.HealthUnhealthy, store.Probe(context.Background()))
}

func TestProbeReportsHealthyForLoadableUnexpiredBundle(t *testing.T) {
	key := testKey()
	store, storage := newTestStore(t, key, 120)
	seedBundle(t, storage, key, bundleJSON{
		Active:      []byte(cookieJarLine("sid", "active-bytes", time.Now().Add(24*time.Hour))),
		ExpiresAt:   time.Now().Add(time.Hour),
		Fingerprint: "fp-active",
	})

	require.Equal(t, ports.HealthHealthy, store.Probe(context.Background()))
}
