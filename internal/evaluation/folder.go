package evaluation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
)

// FrameFunc handles one frame read from a folder.
type FrameFunc func(ctx context.Context, name string, frame []byte) error

// FolderSource replays frame files from a directory in name order. Files
// whose size differs from FrameLen are skipped.
type FolderSource struct {
	Dir      string
	FrameLen int
	Delay    time.Duration
	Log      logging.Logger
}

// Run reads every matching file and passes it to fn, pausing Delay between
// frames. It stops at the first error from fn or when ctx is done.
func (s FolderSource) Run(ctx context.Context, fn FrameFunc) (int, error) {
	log := s.Log
	if log == nil {
		log = logging.Noop()
	}
	if s.FrameLen <= 0 {
		return 0, fmt.Errorf("%w: frame length must be positive", ErrInvalidConfiguration)
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, fmt.Errorf("evaluation: read folder: %w", err)
	}

	read := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return read, fmt.Errorf("evaluation: stat %s: %w", entry.Name(), err)
		}
		if info.Size() != int64(s.FrameLen) {
			log.Debug(ctx, "skipping file of unexpected size",
				logging.String("file", entry.Name()),
				logging.Int("size", int(info.Size())),
				logging.Int("want", s.FrameLen),
			)
			continue
		}

		if read > 0 && s.Delay > 0 {
			timer := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return read, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return read, err
		}

		frame, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return read, fmt.Errorf("evaluation: read %s: %w", entry.Name(), err)
		}
		read++
		if err := fn(ctx, entry.Name(), frame); err != nil {
			return read, err
		}
	}
	return read, nil
}
