package integrations

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"busline/backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the slice of the S3 API the image store needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Client stores rendered QR payment images.
type S3Client struct {
	bucket         string
	publicEndpoint string
	client         objectPutter
}

// NewS3 creates s3.
func NewS3(cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	publicEndpoint := normalizeEndpoint(cfg.PublicEndpoint, cfg.UseSSL)
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	options := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Client{
		bucket:         cfg.Bucket,
		publicEndpoint: publicEndpoint,
		client:         s3.New(options),
	}, nil
}

// UploadQRImage stores a PNG under a date-partitioned key and returns its public URL.
func (s *S3Client) UploadQRImage(ctx context.Context, orderID string, png []byte, at time.Time) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty qr image")
	}
	key := qrObjectKey(orderID, at)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(png),
		ContentType:   aws.String("image/png"),
		ContentLength: aws.Int64(int64(len(png))),
		CacheControl:  aws.String("private, max-age=3600"),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.publicURLForKey(key), nil
}

func (s *S3Client) publicURLForKey(key string) string {
	if s.publicEndpoint == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}

	endpoint := s.publicEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", endpoint, s.bucket, key)
	}
	u.Path = path.Join(u.Path, s.bucket, key)
	return u.String()
}

func qrObjectKey(orderID string, at time.Time) string {
	at = at.UTC()
	safeID := strings.NewReplacer("/", "-", " ", "-").Replace(strings.TrimSpace(orderID))
	return fmt.Sprintf("qr/%d/%02d/%02d/%s.png", at.Year(), at.Month(), at.Day(), safeID)
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}
