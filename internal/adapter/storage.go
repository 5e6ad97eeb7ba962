package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/retry"
)

// S3API is the subset of the S3 client ObjectStore needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client with the SDK's own retries disabled, the
// retry package owns them.
func NewS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

// ObjectStore keeps user uploads in a bucket under a fixed prefix.
type ObjectStore struct {
	api    S3API
	bucket string
	prefix string
	retry  retry.Options
}

func NewObjectStore(api S3API, bucket, prefix string, opts retry.Options) (*ObjectStore, error) {
	if bucket == "" {
		return nil, errors.New("object store: bucket is required")
	}
	return &ObjectStore{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/"), retry: opts}, nil
}

func (s *ObjectStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Put stores body under name and returns the full object key.
func (s *ObjectStore) Put(ctx context.Context, name, contentType string, body []byte) (string, error) {
	key := s.key(name)
	opts := s.retry
	opts.Name = "s3.put_object"

	err := retry.Run(ctx, opts, func(ctx context.Context) error {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(body))),
		})
		return err
	})
	if err != nil {
		return "", apperr.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return key, nil
}

// Get reads the object stored under name. A missing object is a NotFound.
func (s *ObjectStore) Get(ctx context.Context, name string) ([]byte, string, error) {
	key := s.key(name)
	opts := s.retry
	opts.Name = "s3.get_object"

	type object struct {
		body        []byte
		contentType string
	}
	obj, err := retry.Do(ctx, opts, func(ctx context.Context) (object, error) {
		out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return object{}, err
		}
		defer out.Body.Close()
		b, err := io.ReadAll(out.Body)
		if err != nil {
			return object{}, err
		}
		return object{body: b, contentType: aws.ToString(out.ContentType)}, nil
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", apperr.From(err, apperr.KindNotFound, fmt.Sprintf("Object %s not found", name))
		}
		return nil, "", apperr.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	return obj.body, obj.contentType, nil
}
