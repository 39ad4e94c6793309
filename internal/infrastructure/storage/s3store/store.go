package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/resilience"
)

type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Prefix       string
	UsePathStyle bool
	// MaxObjectBytes rejects fetched objects larger than the upload ceiling; zero disables the check.
	MaxObjectBytes int64
}

type Options struct {
	ResilienceExecutor *resilience.Executor
}

// Store issues presigned PUT grants and reads uploaded objects back from one bucket.
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	prefix   string
	maxBytes int64
	executor *resilience.Executor
}

func New(ctx context.Context, cfg Config, opts Options) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewFromConfig(awsCfg, cfg, opts), nil
}

func NewFromConfig(awsCfg aws.Config, cfg Config, opts Options) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		maxBytes: cfg.MaxObjectBytes,
		executor: opts.ResilienceExecutor,
	}
}

// IssueUploadGrant presigns a PUT scoped to exactly one key. Content type and length are part
// of the request the client must replay.
func (s *Store) IssueUploadGrant(ctx context.Context, req ports.UploadGrantRequest, ttl time.Duration) (domain.UploadCredential, error) {
	if strings.TrimSpace(req.ObjectKey) == "" {
		return domain.UploadCredential{}, domain.WrapError(domain.ErrInvalidInput, "issue upload grant", errors.New("object key is required"))
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.storageKey(req.ObjectKey)),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if req.ContentLength > 0 {
		input.ContentLength = aws.Int64(req.ContentLength)
	}

	out, err := s.presign.PresignPutObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return domain.UploadCredential{}, domain.WrapError(domain.ErrTemporary, "presign put object", err)
	}

	headers := make(map[string][]string, len(out.SignedHeader))
	for name, values := range out.SignedHeader {
		if strings.EqualFold(name, "host") {
			continue
		}
		headers[http.CanonicalHeaderKey(name)] = values
	}

	return domain.UploadCredential{
		URL:       out.URL,
		Method:    out.Method,
		Headers:   headers,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *Store) GetObject(ctx context.Context, objectKey string) ([]byte, error) {
	var data []byte
	call := func(callCtx context.Context) error {
		out, err := s.client.GetObject(callCtx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.storageKey(objectKey)),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		if s.maxBytes > 0 && aws.ToInt64(out.ContentLength) > s.maxBytes {
			return errObjectTooLarge
		}
		reader := io.Reader(out.Body)
		if s.maxBytes > 0 {
			reader = io.LimitReader(out.Body, s.maxBytes+1)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, reader); err != nil {
			return fmt.Errorf("read object body: %w", err)
		}
		if s.maxBytes > 0 && int64(buf.Len()) > s.maxBytes {
			return errObjectTooLarge
		}
		data = buf.Bytes()
		return nil
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, "s3.get_object", call, classifyS3Error)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, mapS3Error("get object "+objectKey, err)
	}
	return data, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return domain.WrapError(domain.ErrTemporary, "s3 ping", err)
	}
	return nil
}

func (s *Store) storageKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return path.Join(s.prefix, objectKey)
}

var errObjectTooLarge = errors.New("object exceeds upload size limit")

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func classifyS3Error(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if isNotFound(err) || errors.Is(err, errObjectTooLarge) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func mapS3Error(operation string, err error) error {
	switch {
	case isNotFound(err):
		return domain.WrapError(domain.ErrDocumentNotFound, operation, err)
	case errors.Is(err, errObjectTooLarge):
		return domain.WrapError(domain.ErrInvalidInput, operation, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
}
