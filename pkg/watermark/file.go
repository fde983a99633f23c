package watermark

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// FileStore keeps one <kind>.state file per kind under dir.
type FileStore struct {
	dir    string
	logger ectologger.Logger
	mu     sync.Mutex
}

func NewFileStore(dir string, logger ectologger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watermark dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(kind models.Kind) string {
	return filepath.Join(s.dir, string(kind)+".state")
}

func (s *FileStore) Get(ctx context.Context, kind models.Kind) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithContext(ctx).WithField("kind", kind).Info("No watermark stored, starting from the beginning")
		if err := s.write(kind, Min); err != nil {
			return Min, err
		}
		return Min, nil
	}
	if err != nil {
		return Min, fmt.Errorf("failed to read watermark for %s: %w", kind, err)
	}

	return parse(kind, strings.TrimSpace(string(data)))
}

func (s *FileStore) Set(ctx context.Context, kind models.Kind, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(kind, ts)
}

// write replaces the state file atomically so a crash leaves either the old
// or the new watermark.
func (s *FileStore) write(kind models.Kind, ts time.Time) error {
	tmp, err := os.CreateTemp(s.dir, string(kind)+".state.*")
	if err != nil {
		return fmt.Errorf("failed to write watermark for %s: %w", kind, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(format(ts) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write watermark for %s: %w", kind, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync watermark for %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write watermark for %s: %w", kind, err)
	}

	if err := os.Rename(tmp.Name(), s.path(kind)); err != nil {
		return fmt.Errorf("failed to replace watermark for %s: %w", kind, err)
	}
	return nil
}
