// File: internal/screenshots/screenshots.go

// Package screenshots persists captured page images to disk and hands back
// stable references for the event stream and record store.
package screenshots

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
	"github.com/formcourier/formcourier/internal/config"
)

// Sink writes screenshots under a configured directory. Store returns the
// reference immediately and performs the disk write in the background, so
// a slow disk never extends an attempt.
type Sink struct {
	logger *zap.Logger
	dir    string
	wg     sync.WaitGroup
}

var _ schemas.ScreenshotSink = (*Sink)(nil)

// New creates the target directory up front.
func New(logger *zap.Logger, cfg config.ScreenshotConfig) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("screenshot directory is not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory %s: %w", cfg.Dir, err)
	}
	return &Sink{logger: logger.Named("screenshots"), dir: cfg.Dir}, nil
}

// Store schedules the write and returns the file reference. A failed write
// is logged; the reference then points at a missing file, which the
// operator tooling treats the same as no screenshot.
func (s *Sink) Store(ctx context.Context, targetID string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty screenshot for target %s", targetID)
	}
	name := fmt.Sprintf("%s_%s.png", sanitize(targetID), uuid.NewString())
	ref := filepath.Join(s.dir, name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := os.WriteFile(ref, png, 0o644); err != nil {
			s.logger.Error("Failed to write screenshot",
				zap.String("target_id", targetID),
				zap.String("ref", ref),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("Screenshot stored", zap.String("ref", ref))
	}()
	return ref, nil
}

// Flush waits for pending writes. Called at shutdown.
func (s *Sink) Flush() {
	s.wg.Wait()
}

// sanitize keeps references filesystem-safe whatever the target ID holds.
func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "target"
	}
	return string(out)
}
