package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MetadataSuffix is appended to an object's path for its metadata sidecar.
const MetadataSuffix = ".metadata.json"

// fileClient stores objects under baseDir/<container>/<name>.
type fileClient struct {
	baseDir string
}

func newFileClient(baseDir string) (Client, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &fileClient{baseDir: filepath.Clean(baseDir)}, nil
}

func (f *fileClient) path(container, name string) (string, error) {
	if container == "" || name == "" {
		return "", fmt.Errorf("container and object name are required")
	}
	p := filepath.Join(f.baseDir, container, name)
	if !strings.HasPrefix(p, f.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object path: path traversal detected")
	}
	return p, nil
}

func (f *fileClient) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := f.path(obj.Container, obj.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create container directory: %w", err)
	}

	meta, err := json.Marshal(obj.Metadata)
	if err != nil {
		return fmt.Errorf("marshal object metadata: %w", err)
	}
	// The object is committed first so a failure never leaves a sidecar
	// describing content that is not there.
	if err := writeFileAtomic(path, obj.Body); err != nil {
		return err
	}
	if err := writeFileAtomic(path+MetadataSuffix, bytes.NewReader(meta)); err != nil {
		os.Remove(path) //nolint:errcheck
		return err
	}
	return nil
}

func (f *fileClient) Close() error {
	return nil
}

func writeFileAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}
