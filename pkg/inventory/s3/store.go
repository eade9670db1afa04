// Package s3 stores the inventory flat text as a single S3 object.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittoloan/pkg/inventory"
)

// Client is the subset of the S3 API the store needs. *s3.Client satisfies it.
type Client interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Config configures an S3 store.
type Config struct {
	Client Client
	Bucket string

	// Key is the object key holding the catalogue
	Key string

	// Timeout bounds each request. Zero leaves the caller's context alone.
	Timeout time.Duration
}

// Store implements inventory.Store on a single S3 object.
type Store struct {
	client  Client
	bucket  string
	key     string
	timeout time.Duration
}

// New creates an S3 store. No request is made until Load or Persist.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 inventory store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 inventory store: bucket is required")
	}
	key := cfg.Key
	if key == "" {
		key = "inventory.txt"
	}
	return &Store{client: cfg.Client, bucket: cfg.Bucket, key: key, timeout: cfg.Timeout}, nil
}

func (s *Store) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Load downloads and parses the object. A missing object is reported as a
// *fs.PathError wrapping fs.ErrNotExist.
func (s *Store) Load(ctx context.Context) ([]*inventory.Title, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &fs.PathError{Op: "get", Path: s.location(), Err: fs.ErrNotExist}
		}
		return nil, fmt.Errorf("get %s: %w", s.location(), err)
	}
	defer out.Body.Close()

	titles, err := inventory.Decode(out.Body)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", s.location(), err)
	}
	return titles, nil
}

// Persist uploads the whole catalogue, replacing the object.
func (s *Store) Persist(ctx context.Context, titles []*inventory.Title) error {
	var buf bytes.Buffer
	if err := inventory.Encode(&buf, titles); err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}

	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.location(), err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error {
	return nil
}
