package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// Object is one listed source file
type Object struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Page is one slice of a bucket listing. An empty NextToken means the listing is exhausted.
type Page struct {
	Objects   []Object
	NextToken string
}

// Bucket is the read-only view of the source object store
type Bucket struct {
	client *storage.Client
	name   string
}

func NewBucket(client *storage.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

func (b *Bucket) Name() string { return b.name }

// ListPage returns up to pageSize objects under prefix, continuing from token
func (b *Bucket) ListPage(ctx context.Context, prefix, token string, pageSize int) (Page, error) {
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	pager := iterator.NewPager(it, pageSize, token)

	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return Page{}, fmt.Errorf("list gs://%s/%s: %w", b.name, prefix, err)
	}

	page := Page{NextToken: next}
	for _, a := range attrs {
		if a.Name == "" || strings.HasSuffix(a.Name, "/") {
			continue
		}
		page.Objects = append(page.Objects, Object{Key: a.Name, Size: a.Size, Updated: a.Updated})
	}
	return page, nil
}

// Download copies the object at key into dst
func (b *Bucket) Download(ctx context.Context, key, dst string) error {
	reader, err := b.client.Bucket(b.name).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("open gs://%s/%s: %w", b.name, key, err)
	}
	defer reader.Close()

	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return fmt.Errorf("download gs://%s/%s: %w", b.name, key, err)
	}
	return file.Close()
}
