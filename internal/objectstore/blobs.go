package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const (
	gcsScheme  = "gs://"
	fileScheme = "file://"
)

// BlobBackend stores content-addressed bytes and returns a location URI
type BlobBackend interface {
	Put(ctx context.Context, hash string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// GCSBlobs writes blobs as <prefix><hash> objects
type GCSBlobs struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSBlobs(client *storage.Client, bucket, prefix string) *GCSBlobs {
	return &GCSBlobs{client: client, bucket: bucket, prefix: prefix}
}

// Put writes data only if the object does not exist yet. A failed precondition
// means identical bytes are already stored, which counts as success.
func (g *GCSBlobs) Put(ctx context.Context, hash string, data []byte) (string, error) {
	name := g.prefix + hash
	location := gcsScheme + g.bucket + "/" + name

	writer := g.client.Bucket(g.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			return location, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			return location, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return location, nil
}

func (g *GCSBlobs) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, name, ok := strings.Cut(strings.TrimPrefix(location, gcsScheme), "/")
	if !strings.HasPrefix(location, gcsScheme) || !ok {
		return nil, fmt.Errorf("not a GCS location: %s", location)
	}
	reader, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// LocalBlobs is the disk fallback: <dir>/blobs/<hash[:2]>/<hash>
type LocalBlobs struct {
	dir string
}

func NewLocalBlobs(dir string) *LocalBlobs {
	return &LocalBlobs{dir: dir}
}

// PathFor returns where a blob with this hash lives on disk
func (l *LocalBlobs) PathFor(hash string) string {
	shard := hash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(l.dir, "blobs", shard, hash)
}

// LocationFor returns the location URI Put would produce for hash
func (l *LocalBlobs) LocationFor(hash string) string {
	path, err := filepath.Abs(l.PathFor(hash))
	if err != nil {
		path = l.PathFor(hash)
	}
	return fileScheme + filepath.ToSlash(path)
}

func (l *LocalBlobs) Put(_ context.Context, hash string, data []byte) (string, error) {
	path := l.PathFor(hash)
	location := l.LocationFor(hash)
	if _, err := os.Stat(path); err == nil {
		return location, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return location, nil
}

func (l *LocalBlobs) Get(_ context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, fileScheme) {
		return nil, fmt.Errorf("not a local location: %s", location)
	}
	return os.ReadFile(filepath.FromSlash(strings.TrimPrefix(location, fileScheme)))
}

// IsLocal reports whether location points at the disk fallback
func IsLocal(location string) bool {
	return strings.HasPrefix(location, fileScheme)
}
