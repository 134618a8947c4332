package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	s3config "github.com/aws/aws-sdk-go-v2/config"

	"github.com/cerdastangkas/gdrive-uploader/config"
)

var _ Backend = (*S3Backend)(nil)

// S3API is the part of the S3 client the backend uses, so tests can provide their own
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend maps folders to key prefixes. A folder id is its prefix ending in "/",
// materialized as a zero-byte marker object; a file id is its key.
type S3Backend struct {
	client S3API
	bucket string
	root   string
}

func NewS3Backend(ctx context.Context, cfg *config.S3Config) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	// For S3-compatible storage, region is often just a placeholder
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	s3cfg, err := s3config.LoadDefaultConfig(
		ctx,
		s3config.WithRegion(region),
		s3config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		// Suppress AWS SDK logging warnings about missing checksums
		s3config.WithClientLogMode(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := s3.NewFromConfig(s3cfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Use path-style addressing for S3-compatible storage
			o.UsePathStyle = true
		}
	})

	return NewS3BackendWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3BackendWithClient builds a backend on an existing client
func NewS3BackendWithClient(client S3API, bucket, prefix string) *S3Backend {
	root := strings.Trim(prefix, "/")
	if root != "" {
		root += "/"
	}
	return &S3Backend{client: client, bucket: bucket, root: root}
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Close() error { return nil }

func (b *S3Backend) RootID(ctx context.Context) (string, error) {
	return b.root, nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (b *S3Backend) head(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *S3Backend) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	id := parentID + name + "/"
	ok, err := b.head(ctx, id)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	// a prefix without marker still counts as a folder
	resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(id),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Contents) > 0 {
		return id, nil
	}
	return "", ErrNotFound
}

func (b *S3Backend) ListFolders(ctx context.Context, parentID string) (map[string]string, error) {
	out := make(map[string]string)
	var token *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(parentID),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, cp := range resp.CommonPrefixes {
			id := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(id, parentID), "/")
			if name != "" {
				out[name] = id
			}
		}
		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			return out, nil
		}
		token = resp.NextContinuationToken
	}
}

func (b *S3Backend) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	id := parentID + name + "/"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(id),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *S3Backend) FindFile(ctx context.Context, name, parentID string) (string, error) {
	key := parentID + name
	ok, err := b.head(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

func (b *S3Backend) CreateFile(ctx context.Context, req FileRequest) (string, error) {
	key := req.ParentID + req.Name
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          req.Body,
		ContentLength: aws.Int64(req.Size),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	return key, nil
}
