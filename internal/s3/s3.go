package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

const detectionLogObject = "detections.json"

type Client struct {
	client *minio.Client
	bucket string
}

// NewMinioClient creates a client; bucket is where detection logs are mirrored
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// ParseLocation splits a frames url such as http://minio:9000/frames/cam-1 or
// s3://frames/cam-1 into bucket and prefix
func ParseLocation(fileURL string) (bucket, prefix string, err error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", "", err
	}

	path := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "s3" {
		path = u.Host + "/" + path
	}

	parts := strings.SplitN(strings.Trim(path, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("no bucket in %q", fileURL)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// SaveDetectionLog сохраняет лог детекций одним объектом в бакет
// под именем {runID}/detections.json
func (c *Client) SaveDetectionLog(ctx context.Context, runID string, detections []models.Detection) error {
	if detections == nil {
		detections = []models.Detection{}
	}

	// Конвертируем детекции в JSON
	jsonData, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	objectPath := fmt.Sprintf("%s/%s", runID, detectionLogObject)

	// Загружаем данные в MinIO
	_, err = c.client.PutObject(
		ctx,
		c.bucket,
		objectPath,
		bytes.NewReader(jsonData),
		int64(len(jsonData)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to save detections to S3: %w", err)
	}

	return nil
}

func (c *Client) String() string {
	return "s3://" + c.bucket
}
