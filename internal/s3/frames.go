package s3

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

var frameExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// FrameSource reads frames stored as individual image objects under a prefix.
// Objects are listed lazily in key order, so frame_0001.jpg comes before frame_0002.jpg.
// Objects that are not images or fail to decode are skipped.
type FrameSource struct {
	objects <-chan minio.ObjectInfo
	open    func(ctx context.Context, key string) (io.ReadCloser, error)
	cancel  context.CancelFunc
	logger  *zap.SugaredLogger
}

// OpenFrames checks that the bucket exists and starts listing fileURL
func (c *Client) OpenFrames(ctx context.Context, fileURL string, logger *zap.SugaredLogger) (*FrameSource, error) {
	bucket, prefix, err := ParseLocation(fileURL)
	if err != nil {
		return nil, fmt.Errorf("parse frames location: %w", err)
	}

	ok, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	listCtx, cancel := context.WithCancel(ctx)
	return &FrameSource{
		objects: c.client.ListObjects(listCtx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}),
		open: func(ctx context.Context, key string) (io.ReadCloser, error) {
			return c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		},
		cancel: cancel,
		logger: logger,
	}, nil
}

// Next downloads and decodes the next frame object, io.EOF after the last one
func (s *FrameSource) Next(ctx context.Context) (models.Frame, error) {
	for {
		var object minio.ObjectInfo
		var ok bool
		select {
		case object, ok = <-s.objects:
		case <-ctx.Done():
			return models.Frame{}, ctx.Err()
		}
		if !ok {
			return models.Frame{}, io.EOF
		}
		if object.Err != nil {
			return models.Frame{}, fmt.Errorf("error listing objects: %w", object.Err)
		}

		// Пропускаем саму папку и всё, что не похоже на кадр
		if !isFrameKey(object.Key) {
			continue
		}

		obj, err := s.open(ctx, object.Key)
		if err != nil {
			return models.Frame{}, fmt.Errorf("get %s: %w", object.Key, err)
		}
		img, _, err := image.Decode(obj)
		obj.Close()
		if err != nil {
			s.logger.Warnf("S3: skipping %s: %v", object.Key, err)
			continue
		}

		return models.Frame{Image: img, CapturedAt: object.LastModified}, nil
	}
}

func (s *FrameSource) Close() error {
	s.cancel()
	return nil
}

func isFrameKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	_, ok := frameExtensions[strings.ToLower(path.Ext(key))]
	return ok
}
