package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
)

// ScreenshotNames are the object names of a session's screenshots in order.
var ScreenshotNames = []string{"before.png", "after.png"}

// ErrNotDataURI is returned for screenshots without the PNG data prefix.
var ErrNotDataURI = errors.New("screenshot is not a base64 PNG data URI")

// DecodeScreenshot turns a data:image/png;base64 URI into PNG bytes.
func DecodeScreenshot(dataURI string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(dataURI, domain.ScreenshotPrefix)
	if !ok {
		return nil, ErrNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return data, nil
}

// ScreenshotArchive stores screenshots under <prefix>/<run-id>/.
type ScreenshotArchive struct {
	store   ObjectStore
	prefix  string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewScreenshotArchive creates an archive writing below prefix.
func NewScreenshotArchive(store ObjectStore, prefix string, metrics *observability.Metrics, logger *zap.Logger) *ScreenshotArchive {
	if prefix == "" {
		prefix = "screenshots"
	}
	return &ScreenshotArchive{store: store, prefix: strings.Trim(prefix, "/"), metrics: metrics, logger: logger}
}

// Key returns the object key of the i-th screenshot of a run.
func (a *ScreenshotArchive) Key(runID string, i int) string {
	name := fmt.Sprintf("screenshot-%d.png", i+1)
	if i < len(ScreenshotNames) {
		name = ScreenshotNames[i]
	}
	return path.Join(a.prefix, runID, name)
}

// Archive uploads the screenshots of a run and returns their URIs in order.
func (a *ScreenshotArchive) Archive(ctx context.Context, runID string, screenshots []string) ([]string, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	uris := make([]string, 0, len(screenshots))
	for i, s := range screenshots {
		data, err := DecodeScreenshot(s)
		if err != nil {
			a.metrics.RecordScreenshotArchive("error")
			return uris, fmt.Errorf("screenshot %d: %w", i+1, err)
		}
		uri, err := a.store.Put(ctx, a.Key(runID, i), data, "image/png")
		if err != nil {
			a.metrics.RecordScreenshotArchive("error")
			return uris, fmt.Errorf("screenshot %d: %w", i+1, err)
		}
		uris = append(uris, uri)
	}

	a.metrics.RecordScreenshotArchive("success")
	a.logger.Debug("screenshots archived", zap.String("run_id", runID), zap.Int("count", len(uris)))
	return uris, nil
}

// Load returns the screenshots of a run as data URIs.
func (a *ScreenshotArchive) Load(ctx context.Context, runID string) ([]string, error) {
	keys, err := a.store.List(ctx, path.Join(a.prefix, runID)+"/")
	if err != nil {
		return nil, fmt.Errorf("listing screenshots: %w", err)
	}

	out := make([]string, 0, len(keys))
	for i := range keys {
		data, err := a.store.Get(ctx, a.Key(runID, i))
		if err != nil {
			return nil, fmt.Errorf("loading screenshot %d: %w", i+1, err)
		}
		out = append(out, domain.ScreenshotPrefix+base64.StdEncoding.EncodeToString(data))
	}
	return out, nil
}
