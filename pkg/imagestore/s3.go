/**
 * @description
 * This package uploads submission verification images to an S3-compatible bucket
 * (AWS S3, Cloudflare R2, MinIO) and returns the public reference stored on the
 * submission.
 *
 * @dependencies
 * - github.com/aws/aws-sdk-go-v2: config, static credentials and the S3 client.
 */
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const MaxImageBytes = 5 << 20

var (
	ErrImageTooLarge       = errors.New("image exceeds 5MB")
	ErrUnsupportedImage    = errors.New("only jpeg, png and webp images are accepted")
	ErrImageStoreDisabled  = errors.New("image store is not configured")
	allowedImageExtensions = map[string]string{
		"image/jpeg": "jpg",
		"image/png":  "png",
		"image/webp": "webp",
	}
)

// ObjectPutter is the subset of the S3 client used by Store.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 connection.
type Options struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// Store writes images under submissions/<uuid>.<ext>.
type Store struct {
	client        ObjectPutter
	bucket        string
	publicBaseURL string
}

// New builds an S3 client from static credentials and an optional custom endpoint.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, ErrImageStoreDisabled
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	publicBaseURL := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if publicBaseURL == "" && endpoint != "" {
		publicBaseURL = strings.TrimRight(endpoint, "/") + "/" + opts.Bucket
	}
	return NewWithClient(client, opts.Bucket, publicBaseURL), nil
}

func NewWithClient(client ObjectPutter, bucket, publicBaseURL string) *Store {
	return &Store{client: client, bucket: bucket, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Upload validates and stores an image, returning its public reference.
func (s *Store) Upload(ctx context.Context, r io.Reader) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrImageStoreDisabled
	}

	body, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(body) > MaxImageBytes {
		return "", ErrImageTooLarge
	}

	contentType := DetectImageType(body)
	ext, ok := allowedImageExtensions[contentType]
	if !ok {
		return "", ErrUnsupportedImage
	}

	key := fmt.Sprintf("submissions/%s.%s", uuid.NewString(), ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	if s.publicBaseURL == "" {
		return key, nil
	}
	return s.publicBaseURL + "/" + key, nil
}

// DetectImageType sniffs the content type from the leading bytes.
func DetectImageType(body []byte) string {
	// http.DetectContentType recognises RIFF/WEBP as well as jpeg and png.
	return http.DetectContentType(body)
}
