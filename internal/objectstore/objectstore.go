package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sceneflow/internal/config"
)

// Kind partitions stored objects by their role in the pipeline.
type Kind string

const (
	KindAudio Kind = "audio"
	KindFrame Kind = "frames"
	KindImage Kind = "images"
	KindVideo Kind = "videos"
	KindFinal Kind = "final"
	KindDoc   Kind = "docs"
)

// Descriptor names one object without committing to a storage layout. The
// store owns the mapping from descriptor to path.
type Descriptor struct {
	ProjectID string
	Kind      Kind
	EntityID  string
	Filename  string
}

// Store is the blob storage surface the pipeline writes artifacts through.
type Store interface {
	UploadFile(ctx context.Context, localPath string, desc Descriptor) (string, error)
	UploadBuffer(ctx context.Context, data []byte, desc Descriptor) (string, error)
	UploadJSON(ctx context.Context, value any, desc Descriptor) (string, error)
	DownloadFile(ctx context.Context, uri, localPath string) error
	DownloadToBuffer(ctx context.Context, uri string) ([]byte, error)
	FileExists(ctx context.Context, uri string) (bool, error)
	ObjectPath(desc Descriptor) string
	StorageURL(desc Descriptor) string
	PublicURL(uri string) string
	NormalizeURL(uri string) string
}

const scheme = "store://"

// FS is a filesystem-backed Store. Objects live under a local bucket root
// with bucket-style paths, and URIs use a store:// scheme so callers handle
// them the same way they would remote object URLs.
type FS struct {
	bucketRoot    string
	bucketName    string
	publicBaseURL string
}

var _ Store = (*FS)(nil)

// NewFS builds a filesystem store rooted at the configured bucket directory.
func NewFS(cfg config.ObjectStore) (*FS, error) {
	root := strings.TrimSpace(cfg.Bucket)
	if root == "" {
		return nil, errors.New("object store bucket is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket root: %w", err)
	}
	return &FS{
		bucketRoot:    root,
		bucketName:    filepath.Base(root),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

// ObjectPath maps a descriptor to its bucket-relative path.
func (s *FS) ObjectPath(desc Descriptor) string {
	parts := []string{"projects", desc.ProjectID, string(desc.Kind)}
	if desc.EntityID != "" {
		parts = append(parts, desc.EntityID)
	}
	parts = append(parts, desc.Filename)
	return strings.Join(parts, "/")
}

// StorageURL returns the canonical store URI for a descriptor.
func (s *FS) StorageURL(desc Descriptor) string {
	return scheme + s.bucketName + "/" + s.ObjectPath(desc)
}

// NormalizeURL reduces any accepted URI form to the bucket-relative object
// path. Already-normalized paths pass through unchanged, so re-normalizing is
// a no-op.
func (s *FS) NormalizeURL(uri string) string {
	trimmed := strings.TrimSpace(uri)
	if strings.HasPrefix(trimmed, scheme) {
		trimmed = strings.TrimPrefix(trimmed, scheme)
		trimmed = strings.TrimPrefix(trimmed, s.bucketName)
		return strings.TrimLeft(trimmed, "/")
	}
	if s.publicBaseURL != "" && strings.HasPrefix(trimmed, s.publicBaseURL) {
		trimmed = strings.TrimPrefix(trimmed, s.publicBaseURL)
		return strings.TrimLeft(trimmed, "/")
	}
	return strings.TrimLeft(trimmed, "/")
}

// PublicURL maps a store URI to its externally reachable form. Without a
// configured public base the local file path is returned.
func (s *FS) PublicURL(uri string) string {
	objectPath := s.NormalizeURL(uri)
	if s.publicBaseURL == "" {
		return s.localPath(objectPath)
	}
	return s.publicBaseURL + "/" + objectPath
}

// UploadFile copies a local file into the bucket and returns its store URI.
func (s *FS) UploadFile(ctx context.Context, localPath string, desc Descriptor) (string, error) {
	if err := contextError(ctx); err != nil {
		return "", err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source %s: %w", localPath, err)
	}
	defer src.Close()
	return s.write(desc, src)
}

// UploadBuffer writes bytes into the bucket and returns their store URI.
func (s *FS) UploadBuffer(ctx context.Context, data []byte, desc Descriptor) (string, error) {
	if err := contextError(ctx); err != nil {
		return "", err
	}
	return s.write(desc, bytes.NewReader(data))
}

// UploadJSON serializes a value and writes it into the bucket.
func (s *FS) UploadJSON(ctx context.Context, value any, desc Descriptor) (string, error) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json object: %w", err)
	}
	return s.UploadBuffer(ctx, encoded, desc)
}

// DownloadFile copies an object to a local path, creating parent directories.
func (s *FS) DownloadFile(ctx context.Context, uri, localPath string) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	src, err := os.Open(s.localPath(s.NormalizeURL(uri)))
	if err != nil {
		return fmt.Errorf("open object %s: %w", uri, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create target %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy object %s: %w", uri, err)
	}
	return nil
}

// DownloadToBuffer reads an object fully into memory.
func (s *FS) DownloadToBuffer(ctx context.Context, uri string) ([]byte, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.localPath(s.NormalizeURL(uri)))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", uri, err)
	}
	return data, nil
}

// FileExists reports whether an object is present in the bucket.
func (s *FS) FileExists(ctx context.Context, uri string) (bool, error) {
	if err := contextError(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(s.localPath(s.NormalizeURL(uri)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", uri, err)
}

func (s *FS) write(desc Descriptor, src io.Reader) (string, error) {
	if desc.ProjectID == "" || desc.Filename == "" {
		return "", errors.New("object descriptor needs project id and filename")
	}
	objectPath := s.ObjectPath(desc)
	target := s.localPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create object %s: %w", objectPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("write object %s: %w", objectPath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", objectPath, err)
	}
	return scheme + s.bucketName + "/" + objectPath, nil
}

func (s *FS) localPath(objectPath string) string {
	return filepath.Join(s.bucketRoot, filepath.FromSlash(objectPath))
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
