package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// S3Config configures the S3 checkpoint backend.
type S3Config struct {
	Bucket string

	// Prefix is prepended to all record keys (e.g., "runs/")
	Prefix string
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	Timeout              time.Duration
	ServerSideEncryption bool
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "runs/",
		Timeout: 30 * time.Second,
	}
}

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend stores run records as JSON objects in S3.
type S3Backend struct {
	cfg    S3Config
	client S3API
}

// NewS3Backend loads the AWS configuration and creates the S3 client.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewS3BackendWithClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewS3BackendWithClient uses an existing client.
func NewS3BackendWithClient(cfg S3Config, client S3API) *S3Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &S3Backend{cfg: cfg, client: client}
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save persists a record to S3.
func (b *S3Backend) Save(ctx context.Context, r *Record) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := r.marshal()
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.key(r.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if b.cfg.ServerSideEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to save run record to S3").
			WithContext("bucket", b.cfg.Bucket).
			WithContext("id", r.ID)
	}
	return nil
}

// Load retrieves a record from S3.
func (b *S3Backend) Load(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(id)
		}
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to load run record from S3").
			WithContext("id", id)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to read run record").
			WithContext("id", id)
	}
	return unmarshal(data, id)
}

// Delete removes a record from S3.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to delete run record from S3").
			WithContext("id", id)
	}
	return nil
}

// List returns the records whose id starts with prefix, newest first.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var out []*Record
	var token *string
	for {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix + prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to list run records").
				WithContext("bucket", b.cfg.Bucket)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, b.cfg.Prefix), ".json")
			r, err := b.Load(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, r)
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	sortByStart(out)
	return out, nil
}

// ListIncomplete returns the records of runs that never finished.
func (b *S3Backend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	return incomplete(b.List(ctx, ""))
}

// Cleanup removes finished records older than maxAge.
func (b *S3Backend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return cleanup(ctx, b, maxAge)
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
