// Package artifact keeps raw fetched pages on the local filesystem.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
)

var validName = regexp.MustCompile(`^[a-z0-9_.-]+\.html$`)

// FSStore writes every artifact to its own file in one directory. Names are
// "<site>-<kind>-<uuid>.html".
type FSStore struct {
	dir    string
	logger *zap.Logger
}

func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

func (s *FSStore) Put(_ context.Context, meta entity.Artifact, body []byte) (entity.Artifact, error) {
	meta.Name = fmt.Sprintf("%s-%s-%s.html", slug(meta.Site), slug(meta.Kind.String()), uuid.NewString())

	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return meta, fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return meta, fmt.Errorf("write artifact %s: %w", meta.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return meta, fmt.Errorf("close artifact %s: %w", meta.Name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, meta.Name)); err != nil {
		return meta, fmt.Errorf("store artifact %s: %w", meta.Name, err)
	}

	s.logger.Debug("artifact stored", zap.String("name", meta.Name), zap.String("url", meta.URL), zap.Int("bytes", len(body)))
	return meta, nil
}

func (s *FSStore) Get(_ context.Context, name string) ([]byte, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("artifact %q: %w", name, entity.ErrNotFound)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("artifact %q: %w", name, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return b, nil
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
