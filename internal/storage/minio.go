// Package storage keeps receipt images in MinIO (or any S3 endpoint).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured means no object storage endpoint or credentials were given
var ErrNotConfigured = errors.New("object storage not configured")

// PresignTTL is how long an image link stays valid
const PresignTTL = 24 * time.Hour

// Store uploads and serves receipt images
type Store struct {
	client *minio.Client
	bucket string
}

// InitFromEnv connects using MINIO_* variables and makes sure the bucket exists
func InitFromEnv(ctx context.Context) (*Store, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if endpoint == "" || accessKey == "" || secretKey == "" {
		return nil, ErrNotConfigured
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "receipts"
	}

	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// UploadReceiptImage stores an image under {owner}/YYYY/MM/{filename} and
// returns the bucket-qualified path kept with the receipt
func (s *Store) UploadReceiptImage(ctx context.Context, owner string, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := ObjectName(owner, filename, time.Now())

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return s.bucket + "/" + objectName, nil
}

// PresignedURL generates a temporary link for viewing an image
func (s *Store) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, stripBucket(s.bucket, objectPath), PresignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

// DeleteImage removes an image from storage
func (s *Store) DeleteImage(ctx context.Context, objectPath string) error {
	return s.client.RemoveObject(ctx, s.bucket, stripBucket(s.bucket, objectPath), minio.RemoveObjectOptions{})
}

// ObjectName builds the object key for an upload
func ObjectName(owner string, filename string, now time.Time) string {
	owner = strings.Trim(strings.TrimSpace(owner), "/")
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("%s/%d/%02d/%s", owner, now.Year(), now.Month(), filename)
}

// FileName returns a unique upload name such as 20260102_150405_1a2b3c4d.jpg
func FileName(contentType string, now time.Time) string {
	return fmt.Sprintf("%s_%s%s",
		now.Format("20060102_150405"),
		uuid.New().String()[:8],
		GetFileExtension(contentType),
	)
}

func stripBucket(bucket, objectPath string) string {
	return strings.TrimPrefix(objectPath, bucket+"/")
}

// GetFileExtension extracts file extension from content type
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".bin"
	}
}
