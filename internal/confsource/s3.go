package confsource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var ErrConfigObjectMissing = errf("config object not found")

// s3API is the part of *s3.Client the source needs.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func newS3API(ctx context.Context) (s3API, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

type S3Source struct {
	api    s3API
	bucket string
	key    string
}

func NewS3Source(api s3API, bucket, key string) *S3Source {
	return &S3Source{api: api, bucket: bucket, key: key}
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrConfigObjectMissing, s)
		}
		return nil, fmt.Errorf("get %s: %w", s, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s, err)
	}
	return b, nil
}

func (s *S3Source) String() string { return "s3://" + s.bucket + "/" + s.key }
