package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by the backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend persists sessions as JSON objects in an S3 bucket.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// S3Option configures an S3Backend.
type S3Option func(*S3Backend)

// WithS3Prefix overrides the default object key prefix.
func WithS3Prefix(prefix string) S3Option {
	return func(b *S3Backend) { b.prefix = prefix }
}

// NewS3Backend creates a backend over an existing S3 client.
func NewS3Backend(client S3API, bucket string, opts ...S3Option) *S3Backend {
	b := &S3Backend{
		client: client,
		bucket: bucket,
		prefix: "agent-sessions/",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewS3BackendFromConfig loads AWS configuration from the environment and
// creates a backend for the given bucket.
func NewS3BackendFromConfig(ctx context.Context, bucket string, opts ...S3Option) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, unavailable("aws config", err)
	}
	return NewS3Backend(s3.NewFromConfig(cfg), bucket, opts...), nil
}

func (b *S3Backend) objectKey(id string) string {
	return b.prefix + id + ".json"
}

// Put uploads data as a JSON object.
func (b *S3Backend) Put(ctx context.Context, id string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.objectKey(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return unavailable("put object", err)
	}
	return nil
}

// Get downloads the object stored under id.
func (b *S3Backend) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, unavailable("get object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, unavailable("read object", err)
	}
	return data, nil
}

// List pages through the bucket prefix and returns stored IDs.
func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	var (
		ids   []string
		token *string
	)
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(b.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, unavailable("list objects", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, b.prefix), ".json"))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the object stored under id. S3 treats deleting a missing
// key as success, which matches the contract.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		return unavailable("delete object", err)
	}
	return nil
}

// Exists issues a HEAD request for the object.
func (b *S3Backend) Exists(ctx context.Context, id string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return false, nil
		}
		return false, unavailable("head object", err)
	}
	return true, nil
}
