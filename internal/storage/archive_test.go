package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.failPut != nil {
		return "", m.failPut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "s3://bucket/" + key, nil
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func dataURI(s string) string {
	return domain.ScreenshotPrefix + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecodeScreenshot(t *testing.T) {
	data, err := DecodeScreenshot(dataURI("\x89PNG"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)

	_, err = DecodeScreenshot("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURI)

	_, err = DecodeScreenshot(domain.ScreenshotPrefix + "%%%")
	assert.Error(t, err)
}

func TestScreenshotArchive_RoundTrip(t *testing.T) {
	store := newMemoryStore()
	archive := NewScreenshotArchive(store, "/screenshots/", observability.NewMetrics("test"), zaptest.NewLogger(t))

	uris, err := archive.Archive(context.Background(), "run-1", []string{dataURI("before"), dataURI("after")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"s3://bucket/screenshots/run-1/before.png",
		"s3://bucket/screenshots/run-1/after.png",
	}, uris)
	assert.Equal(t, []byte("after"), store.objects["screenshots/run-1/after.png"])

	loaded, err := archive.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{dataURI("before"), dataURI("after")}, loaded)
}

func TestScreenshotArchive_Errors(t *testing.T) {
	store := newMemoryStore()
	archive := NewScreenshotArchive(store, "", nil, zaptest.NewLogger(t))

	_, err := archive.Archive(context.Background(), "", nil)
	assert.Error(t, err)

	uris, err := archive.Archive(context.Background(), "run-2", []string{dataURI("ok"), "garbage"})
	assert.ErrorIs(t, err, ErrNotDataURI)
	assert.Len(t, uris, 1)

	store.failPut = errors.New("bucket gone")
	_, err = archive.Archive(context.Background(), "run-3", []string{dataURI("x")})
	assert.ErrorContains(t, err, "bucket gone")
}

func TestScreenshotArchive_Key(t *testing.T) {
	archive := NewScreenshotArchive(newMemoryStore(), "shots", nil, zaptest.NewLogger(t))
	assert.Equal(t, "shots/abc/before.png", archive.Key("abc", 0))
	assert.Equal(t, "shots/abc/after.png", archive.Key("abc", 1))
	assert.Equal(t, "shots/abc/screenshot-3.png", archive.Key("abc", 2))
}

// TestMinIOStore_Integration needs a running MinIO, e.g.
// STORAGE_TEST_ENDPOINT=localhost:9000.
func TestMinIOStore_Integration(t *testing.T) {
	endpoint := os.Getenv("STORAGE_TEST_ENDPOINT")
	if endpoint == "" || testing.Short() {
		t.Skip("STORAGE_TEST_ENDPOINT not set")
	}

	store, err := NewMinIOStore(config.StorageConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "trackingtester-test",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.Ping(ctx))

	archive := NewScreenshotArchive(store, "screenshots", nil, zaptest.NewLogger(t))
	runID := uuid.NewString()
	_, err = archive.Archive(ctx, runID, []string{dataURI("before"), dataURI("after")})
	require.NoError(t, err)

	loaded, err := archive.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []string{dataURI("before"), dataURI("after")}, loaded)

	url, err := store.PresignedURL(ctx, archive.Key(runID, 0), 0)
	require.NoError(t, err)
	assert.Contains(t, url, runID)

	for i := range loaded {
		require.NoError(t, store.Delete(ctx, archive.Key(runID, i)))
	}
}
