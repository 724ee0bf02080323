package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore reads secrets from files under a base directory.
// Development only.
type LocalStore struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalStore creates a filesystem secret store rooted at basePath
func NewLocalStore(basePath string, logger *zap.Logger) *LocalStore {
	return &LocalStore{basePath: basePath, logger: logger}
}

// GetSecret reads basePath/path. The file may hold the raw value or a JSON
// object {"value": "...", "tags": {...}, "created_at": "..."}.
func (s *LocalStore) GetSecret(ctx context.Context, path string) (*Secret, error) {
	clean := filepath.Clean("/" + path)
	data, err := os.ReadFile(filepath.Join(s.basePath, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read secret file: %w", err)
	}

	s.logger.Debug("secret read from filesystem", zap.String("path", path))

	var doc struct {
		Value     string            `json:"value"`
		Tags      map[string]string `json:"tags"`
		CreatedAt string            `json:"created_at"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Value != "" {
		return &Secret{Value: doc.Value, Version: "1", Metadata: doc.Tags, CreatedAt: doc.CreatedAt}, nil
	}
	return &Secret{Value: strings.TrimSpace(string(data)), Version: "1"}, nil
}
