package crawl

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/metrics"
)

const snapshotContentType = "text/html; charset=utf-8"

// SnapshotPath is where the markup of a listing page that yielded no cards
// is written.
func SnapshotPath(prefix, runID string, page int) string {
	return path.Join(prefix, runID, fmt.Sprintf("page_source_page_%d.html", page))
}

// Diagnostics captures page markup for post-mortem inspection. A nil
// store disables it.
type Diagnostics struct {
	store   jobs.BlobStore
	prefix  string
	runID   string
	surface browser.Surface
	logger  *zap.Logger
}

// NewDiagnostics writes snapshots of surface pages under prefix/runID.
func NewDiagnostics(store jobs.BlobStore, prefix, runID string, surface browser.Surface, logger *zap.Logger) *Diagnostics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostics{store: store, prefix: prefix, runID: runID, surface: surface, logger: logger}
}

// Snapshot writes the current page markup as the snapshot for page. Errors
// are logged; a missing snapshot never affects the crawl.
func (d *Diagnostics) Snapshot(ctx context.Context, page int) {
	if d == nil || d.store == nil {
		return
	}
	markup, err := d.surface.PageMarkup(ctx)
	if err != nil {
		d.logger.Warn("read markup for snapshot failed", zap.Int("page", page), zap.Error(err))
		return
	}
	p := SnapshotPath(d.prefix, d.runID, page)
	uri, err := d.store.PutObject(ctx, p, snapshotContentType, strings.NewReader(markup))
	if err != nil {
		d.logger.Warn("write snapshot failed", zap.Int("page", page), zap.String("path", p), zap.Error(err))
		return
	}
	metrics.ObserveDiagnostic()
	d.logger.Info("wrote listing snapshot", zap.Int("page", page), zap.String("uri", uri))
}
