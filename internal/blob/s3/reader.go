package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/avelinec/hlpipe/internal/domain"
)

// Reader implements domain.BlobReader against the raw data bucket. Every
// request carries the client's requester-pays setting.
type Reader struct {
	client *Client
}

// NewReader creates a Reader over the given client's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c}
}

// Get retrieves the object at the given key and returns its body. The
// caller must close the returned reader. Returns domain.ErrNotFound if the
// object does not exist.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := r.client.S3().GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(r.client.Bucket()),
		Key:          aws.String(path),
		RequestPayer: r.client.payer(),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return output.Body, nil
}

// List returns metadata for every object under the given prefix, following
// continuation tokens until the listing is exhausted.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo

	paginator := s3.NewListObjectsV2Paginator(r.client.S3(), &s3.ListObjectsV2Input{
		Bucket:       aws.String(r.client.Bucket()),
		Prefix:       aws.String(prefix),
		RequestPayer: r.client.payer(),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := domain.BlobInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Stat returns metadata for a single object via HeadObject. Returns
// domain.ErrNotFound if the object does not exist.
func (r *Reader) Stat(ctx context.Context, path string) (domain.BlobInfo, error) {
	head, err := r.client.S3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(r.client.Bucket()),
		Key:          aws.String(path),
		RequestPayer: r.client.payer(),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", path, domain.ErrNotFound)
		}
		return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", path, err)
	}
	info := domain.BlobInfo{
		Path: path,
		Size: aws.ToInt64(head.ContentLength),
	}
	if head.LastModified != nil {
		info.LastModified = *head.LastModified
	}
	return info, nil
}

// isNotFound reports whether the error indicates a missing S3 object. It
// checks the SDK typed errors and falls back to the HTTP 404 status because
// HeadObject returns a bare 404 rather than NoSuchKey.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
