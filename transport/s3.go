package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher implements Fetcher against a private S3 bucket using the
// default AWS credential chain, for repositories whose root is an s3://
// URL rather than a public https endpoint.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher wraps an existing S3 client.
func NewS3Fetcher(client *s3.Client) *S3Fetcher {
	return &S3Fetcher{client: client}
}

func splitS3URL(url string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(url, "s3://")
	if rest == url {
		return "", "", fmt.Errorf("transport: not an s3:// url: %s", url)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("transport: s3:// url missing key: %s", url)
	}
	return bucket, key, nil
}

func (f *S3Fetcher) get(ctx context.Context, url, rangeHeader string) ([]byte, error) {
	bucket, key, err := splitS3URL(url)
	if err != nil {
		return nil, &IOError{URL: url, Err: err}
	}
	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}
	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{URL: url, Err: err}
		}
		return nil, &IOError{URL: url, Err: err}
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &IOError{URL: url, Err: err}
	}
	return body, nil
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url, "")
}

// FetchRange implements Fetcher.
func (f *S3Fetcher) FetchRange(ctx context.Context, url string, offset, length uint64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	return f.get(ctx, url, rangeHeader)
}
