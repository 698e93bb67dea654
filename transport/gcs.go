package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSFetcher implements Fetcher against a private GCS bucket using
// application-default credentials, for repositories whose root is a
// gs:// URL rather than a public https endpoint.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher wraps an existing storage client. Callers own the
// client's lifecycle (storage.Client.Close).
func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

func splitGCSURL(url string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(url, "gs://")
	if rest == url {
		return "", "", fmt.Errorf("transport: not a gs:// url: %s", url)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("transport: gs:// url missing object path: %s", url)
	}
	return bucket, object, nil
}

func (f *GCSFetcher) read(ctx context.Context, url string, offset, length int64) ([]byte, error) {
	bucket, object, err := splitGCSURL(url)
	if err != nil {
		return nil, &IOError{URL: url, Err: err}
	}
	r, err := f.client.Bucket(bucket).Object(object).NewRangeReader(ctx, offset, length)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{URL: url, Err: err}
		}
		return nil, &IOError{URL: url, Err: err}
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &IOError{URL: url, Err: err}
	}
	return body, nil
}

// Fetch implements Fetcher.
func (f *GCSFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.read(ctx, url, 0, -1)
}

// FetchRange implements Fetcher.
func (f *GCSFetcher) FetchRange(ctx context.Context, url string, offset, length uint64) ([]byte, error) {
	return f.read(ctx, url, int64(offset), int64(length))
}
