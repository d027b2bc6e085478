package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"chaos-organizer/internal/idgen"
)

// S3Store keeps blobs as objects in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3 blob store. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewS3Store(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(name string) string {
	return s.prefix + name
}

func (s *S3Store) Save(ctx context.Context, data []byte, originalName, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name, err := idgen.Name()
		if err != nil {
			return "", err
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.key(name)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
			IfNoneMatch:   aws.String("*"),
		})
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("s3 put object: %w", err)
		}

		slog.Info("[BLOB] Stored upload in S3", "bucket", s.bucket, "key", s.key(name), "original", originalName, "bytes", len(data))
		return name, nil
	}
	return "", fmt.Errorf("no free blob name after %d attempts", maxNameAttempts)
}

func (s *S3Store) Retrieve(ctx context.Context, name string) (*Object, error) {
	if !validName(name) {
		return nil, notFound(name)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &Object{ReadCloser: out.Body, Size: size}, nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	if !validName(name) {
		return notFound(name)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	slog.Info("[BLOB] Removed upload from S3", "bucket", s.bucket, "key", s.key(name))
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed
}
