package objstore

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS implements Store against Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS-backed Store for bucket using application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) obj(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.obj(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCS) Put(ctx context.Context, key string, data []byte) error {
	w := g.obj(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (g *GCS) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	w := g.obj(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		if isGCSPrecondition(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (g *GCS) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	cond := storage.Conditions{}
	if etag == "" {
		cond.DoesNotExist = true
	} else {
		attrs, err := g.obj(key).Attrs(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return "", ErrPrecondition
			}
			return "", err
		}
		if attrs.Etag != etag {
			return "", ErrPrecondition
		}
		cond.GenerationMatch = attrs.Generation
	}

	w := g.obj(key).If(cond).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		if isGCSPrecondition(err) {
			return "", ErrPrecondition
		}
		return "", err
	}
	return w.Attrs().Etag, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.obj(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.obj(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (g *GCS) Head(ctx context.Context, key string) (ObjectMetadata, error) {
	attrs, err := g.obj(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ObjectMetadata{}, ErrNotFound
		}
		return ObjectMetadata{}, err
	}
	return ObjectMetadata{
		Key:          key,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated,
	}, nil
}

func (g *GCS) List(ctx context.Context, prefix string) (Lister, error) {
	return &gcsLister{it: g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})}, nil
}

type gcsLister struct {
	it *storage.ObjectIterator
}

func (l *gcsLister) Next() (string, error) {
	attrs, err := l.it.Next()
	if err == iterator.Done {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	return attrs.Name, nil
}

func isGCSPrecondition(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412
	}
	return false
}
