package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/cache"
	"github.com/project-studying-dotnet/Streetcode-Server-May-2025-sub000/pkg/xerrors"
)

// S3Options tunes an S3Backend.
type S3Options struct {
	// Timeout bounds every network call; zero relies on ctx alone.
	Timeout time.Duration
	// CacheBytes enables a read cache of ciphertext payloads when positive.
	CacheBytes int64
	Logger     *slog.Logger
}

// S3Backend persists objects in an S3-compatible bucket (the container).
type S3Backend struct {
	client  s3iface.S3API
	bucket  string
	region  string
	timeout time.Duration
	cache   *cache.Cache
	log     *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

var _ CacheReporter = (*S3Backend)(nil)

// NewS3Session builds an AWS session from a parsed connection string.
func NewS3Session(conn Connection, httpClient *http.Client) (*session.Session, error) {
	cfg := aws.NewConfig().
		WithRegion(conn.Region).
		WithS3ForcePathStyle(conn.PathStyle).
		WithDisableSSL(conn.DisableSSL)
	if conn.Endpoint != "" {
		cfg = cfg.WithEndpoint(conn.Endpoint)
	}
	if conn.AccessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(conn.AccessKey, conn.SecretKey, conn.SessionToken))
	}
	if httpClient != nil {
		cfg = cfg.WithHTTPClient(httpClient)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfiguration, "blob.NewS3Session", conn.Endpoint, err)
	}
	return sess, nil
}

// NewS3Backend wraps client for bucket. The bucket is created on first use
// when absent.
func NewS3Backend(client s3iface.S3API, bucket, region string, opts S3Options) (*S3Backend, error) {
	if client == nil {
		return nil, xerrors.E(xerrors.KindConfiguration, "S3Backend", "client")
	}
	if bucket == "" {
		return nil, xerrors.E(xerrors.KindConfiguration, "S3Backend", "container name")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &S3Backend{
		client:  client,
		bucket:  bucket,
		region:  region,
		timeout: opts.Timeout,
		log:     logger,
	}
	if opts.CacheBytes > 0 {
		b.cache = cache.New(opts.CacheBytes)
	}
	return b, nil
}

func (b *S3Backend) Name() string { return "s3://" + b.bucket }

// EnsureBucket creates the bucket if it does not exist yet. It is idempotent
// and remembers success for the lifetime of the backend.
func (b *S3Backend) EnsureBucket(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bucketReady {
		return nil
	}
	ctx, cancel := b.callContext(ctx)
	defer cancel()
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		b.bucketReady = true
		return nil
	}
	if !isNotFound(err) {
		return b.wrap("S3Backend.EnsureBucket", b.bucket, err)
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(b.region),
		}
	}
	if _, err := b.client.CreateBucketWithContext(ctx, input); err != nil && !isBucketOwned(err) {
		return b.wrap("S3Backend.EnsureBucket", b.bucket, err)
	}
	b.log.Info("created container", slog.String("bucket", b.bucket))
	b.bucketReady = true
	return nil
}

// Put uploads payload, overwriting any existing object (last writer wins).
func (b *S3Backend) Put(ctx context.Context, key string, payload []byte) error {
	if err := checkKey("S3Backend.Put", key); err != nil {
		return err
	}
	if err := b.EnsureBucket(ctx); err != nil {
		return err
	}
	start := time.Now()
	cctx, cancel := b.callContext(ctx)
	defer cancel()
	_, err := b.client.PutObjectWithContext(cctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		if isNoSuchBucket(err) {
			b.resetBucket()
			return xerrors.Wrap(xerrors.KindStorageIO, "S3Backend.Put", key, err)
		}
		return b.wrap("S3Backend.Put", key, err)
	}
	if b.cache != nil {
		b.cache.Set(key, payload)
	}
	b.log.Debug("stored object",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.Int("size", len(payload)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Get checks that the object exists, then downloads it.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey("S3Backend.Get", key); err != nil {
		return nil, err
	}
	if b.cache != nil {
		if data, ok := b.cache.Get(key); ok {
			return data, nil
		}
	}
	ok, err := b.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.E(xerrors.KindNotFound, "S3Backend.Get", key)
	}
	cctx, cancel := b.callContext(ctx)
	defer cancel()
	out, err := b.client.GetObjectWithContext(cctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.wrap("S3Backend.Get", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorageIO, "S3Backend.Get", key, err)
	}
	if b.cache != nil {
		b.cache.Set(key, data)
	}
	return data, nil
}

// Delete checks that the object exists, then removes it. Missing objects
// fail with KindNotFound, matching PathBackend.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := checkKey("S3Backend.Delete", key); err != nil {
		return err
	}
	ok, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.E(xerrors.KindNotFound, "S3Backend.Delete", key)
	}
	cctx, cancel := b.callContext(ctx)
	defer cancel()
	if _, err := b.client.DeleteObjectWithContext(cctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return b.wrap("S3Backend.Delete", key, err)
	}
	if b.cache != nil {
		b.cache.Delete(key)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey("S3Backend.Exists", key); err != nil {
		return false, err
	}
	cctx, cancel := b.callContext(ctx)
	defer cancel()
	_, err := b.client.HeadObjectWithContext(cctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		if b.cache != nil {
			b.cache.Delete(key)
		}
		return false, nil
	}
	return false, b.wrap("S3Backend.Exists", key, err)
}

// List pages through every object in the bucket. A missing bucket lists as
// empty.
func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	cctx, cancel := b.callContext(ctx)
	defer cancel()
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(cctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		if isNoSuchBucket(err) {
			return nil, nil
		}
		return nil, b.wrap("S3Backend.List", b.bucket, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *S3Backend) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return context.WithCancel(ctx)
}

// CacheStats reports read cache counters. ok is false when caching is off.
func (b *S3Backend) CacheStats() (stats cache.Stats, ok bool) {
	if b.cache == nil {
		return cache.Stats{}, false
	}
	return b.cache.Stats(), true
}

// resetBucket forgets the bucket after it vanished underneath us. Cached
// payloads went with it.
func (b *S3Backend) resetBucket() {
	b.mu.Lock()
	b.bucketReady = false
	b.mu.Unlock()
	if b.cache != nil {
		b.cache.Clear()
	}
}

func (b *S3Backend) wrap(op, key string, err error) error {
	if isNotFound(err) {
		return xerrors.Wrap(xerrors.KindNotFound, op, key, err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == request.CanceledErrorCode {
		// OrigErr carries ctx.Err() of the call context.
		cause := context.Canceled
		if errors.Is(aerr.OrigErr(), context.DeadlineExceeded) {
			cause = context.DeadlineExceeded
		}
		return xerrors.Wrap(xerrors.KindStorageIO, op, key, fmt.Errorf("%w: %v", cause, err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return xerrors.Wrap(xerrors.KindStorageIO, op, key, err)
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

func isNoSuchBucket(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchBucket
}

func isBucketOwned(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou
}
