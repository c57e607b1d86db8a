package fixture

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pierrec/lz4/v4"
)

// ObjectStore fetches objects for s3:// fixture paths.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Options configures the S3-compatible endpoint used for s3:// paths.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type minioStore struct {
	client *minio.Client
}

// NewMinioStore returns an ObjectStore backed by minio-go.
func NewMinioStore(opts S3Options) (ObjectStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required for remote fixtures")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &minioStore{client: client}, nil
}

func (s *minioStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("stat s3://%s/%s: %w", bucket, key, err)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// splitS3 parses s3://bucket/key.
func splitS3(p string) (bucket, key string, err error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", "", err
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q", p)
	}
	return u.Host, key, nil
}

// openSource opens p from disk or object storage and wraps it in a decompressor chosen by extension.
func openSource(ctx context.Context, p string, store ObjectStore, opts S3Options) (io.ReadCloser, error) {
	var raw io.ReadCloser
	if strings.HasPrefix(p, "s3://") {
		bucket, key, err := splitS3(p)
		if err != nil {
			return nil, err
		}
		if store == nil {
			if store, err = NewMinioStore(opts); err != nil {
				return nil, err
			}
		}
		if raw, err = store.GetObject(ctx, bucket, key); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open fixture: %w", err)
		}
		raw = f
	}

	rc, err := decompress(raw, path.Ext(p))
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return rc, nil
}

type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func decompress(raw io.ReadCloser, ext string) (io.ReadCloser, error) {
	switch strings.ToLower(ext) {
	case ".gz", ".gzip":
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, err
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, raw.Close}}, nil
	case ".zst", ".zstd":
		dec, err := zstd.NewReader(raw)
		if err != nil {
			return nil, err
		}
		return &stackedReader{Reader: dec, closers: []func() error{func() error { dec.Close(); return nil }, raw.Close}}, nil
	case ".lz4":
		return &stackedReader{Reader: lz4.NewReader(raw), closers: []func() error{raw.Close}}, nil
	default:
		return raw, nil
	}
}
