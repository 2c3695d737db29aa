package assets

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tslm9/logostamp/internal/id"
)

// DiskStore keeps assets as files under a single scratch directory.
type DiskStore struct {
	dir    string
	logger *log.Logger
}

func NewDiskStore(dir string, logger *log.Logger) (*DiskStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "logostamp")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, logger: logger}, nil
}

func (s *DiskStore) Allocate(suffix string) Handle {
	return Handle(filepath.Join(s.dir, id.New()+normalizeSuffix(suffix)))
}

func (s *DiskStore) Write(_ context.Context, h Handle, data []byte) error {
	if err := os.WriteFile(string(h), data, 0o644); err != nil {
		return fmt.Errorf("write asset: %w", err)
	}
	return nil
}

func (s *DiskStore) Read(_ context.Context, h Handle) ([]byte, error) {
	data, err := os.ReadFile(string(h))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	return data, nil
}

func (s *DiskStore) Release(_ context.Context, h Handle) {
	if h == "" {
		return
	}
	if err := os.Remove(string(h)); err != nil && !errors.Is(err, os.ErrNotExist) {
		if s.logger != nil {
			s.logger.Printf("asset release failed handle=%s err=%v", h, err)
		}
	}
}

func normalizeSuffix(suffix string) string {
	suffix = strings.TrimSpace(strings.ToLower(suffix))
	if suffix == "" {
		return ".bin"
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return suffix
}
