package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"cloudsync/internal/syncer"
)

// S3API is the subset of the S3 client used by S3Backend. It allows the
// client to be replaced in tests.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the service endpoint (MinIO, LocalStack) and
	// switches to path-style addressing.
	Endpoint string
	// Static credentials; the default credential chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend stores objects in an S3 bucket under an optional key prefix.
// The content hash and logical modification time travel as user metadata.
type S3Backend struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend creates an S3 backend using the default AWS configuration
// chain, overridden by opts.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BackendWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3BackendWithClient creates an S3 backend around an existing client.
func NewS3BackendWithClient(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (b *S3Backend) Kind() syncer.BackendKind { return syncer.BackendS3 }

func (b *S3Backend) key(objectPath string) string {
	if b.prefix == "" {
		return objectPath
	}
	return path.Join(b.prefix, objectPath)
}

func (b *S3Backend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	key := b.key(req.Path)
	modified := uploadTime(req.ModifiedAt)
	body := newHashingReader(req.Body)

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
		Metadata: map[string]string{
			metaSHA256: req.ContentHash,
			metaMTime:  formatMTime(modified),
		},
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return nil, b.wrap("upload", err)
	}

	return &syncer.UploadResult{
		ExternalID: key,
		Hash:       body.Sum(),
		ModifiedAt: modified,
	}, nil
}

func (b *S3Backend) FetchState(ctx context.Context, externalID string) (*syncer.RemoteState, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(externalID),
	})
	if err != nil {
		if isS3NotFound(err) {
			return &syncer.RemoteState{Exists: false}, nil
		}
		return nil, b.wrap("fetch state", err)
	}

	state := &syncer.RemoteState{
		Exists:     true,
		Hash:       out.Metadata[metaSHA256],
		ModifiedAt: parseMTime(out.Metadata[metaMTime], aws.ToTime(out.LastModified)),
	}

	// Objects rewritten out of band carry no hash metadata.
	if state.Hash == "" {
		rc, err := b.Open(ctx, externalID)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		if state.Hash, err = hashStream(rc); err != nil {
			return nil, b.wrap("fetch state", err)
		}
	}
	return state, nil
}

func (b *S3Backend) Open(ctx context.Context, externalID string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(externalID),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, syncer.PermanentError(syncer.BackendS3, "open", fmt.Errorf("object not found: %s", externalID))
		}
		return nil, b.wrap("open", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report whether anything was removed.
func (b *S3Backend) Delete(ctx context.Context, externalID string) (bool, error) {
	state, err := b.FetchState(ctx, externalID)
	if err != nil {
		return false, err
	}
	if !state.Exists {
		return false, nil
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(externalID),
	})
	if err != nil {
		return false, b.wrap("delete", err)
	}
	return true, nil
}

func (b *S3Backend) ValidateSetup(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", b.bucket, b.wrap("validate", err))
	}
	return nil
}

func (b *S3Backend) wrap(op string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(syncer.BackendS3, op, respErr.HTTPStatusCode(), err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return syncer.PermanentError(syncer.BackendS3, op, err)
	}
	return classify(syncer.BackendS3, op, err)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

// Compile-time check that S3Backend implements syncer.Backend interface
var _ syncer.Backend = (*S3Backend)(nil)
