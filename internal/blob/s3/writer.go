package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter with the S3 upload manager, which
// sends small bodies in one PutObject and splits large ones into parts.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for the client's bucket. partSize below the S3
// minimum is clamped.
func NewWriter(c *Client, partSize int64) *Writer {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return &Writer{
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: c.Bucket(),
	}
}

// Put uploads data to path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}
	if _, err := w.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
