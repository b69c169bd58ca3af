package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config for the S3-compatible object storage (PSCloud).
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

// QRStorage mirrors provider-hosted QR images into our own bucket, so the
// stored reference keeps working after the provider link expires.
type QRStorage struct {
	bucket   string
	endpoint string
	client   *s3.S3
	fetch    *http.Client
}

func NewQRStorage(cfg S3Config) (*QRStorage, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: access_key/secret_key/bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Endpoint:    aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &QRStorage{
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		client:   s3.New(sess),
		fetch:    &http.Client{Timeout: 20 * time.Second},
	}, nil
}

// Mirror downloads srcURL and stores it under key with public-read access.
// Returns the URL of the stored copy.
func (q *QRStorage) Mirror(ctx context.Context, srcURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := q.fetch.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch qr image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch qr image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read qr image: %w", err)
	}

	_, err = q.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(q.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("image/png"),
		ACL:           aws.String("public-read"),
	})
	if err != nil {
		return "", fmt.Errorf("upload qr image: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", q.endpoint, q.bucket, key), nil
}
