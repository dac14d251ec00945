// Package archive keeps original message bytes in an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNoSuchObject = errors.New("archive: no such object")

type Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	Region    string
	Secure    bool
}

type S3 struct {
	cl     *minio.Client
	bucket string
	prefix string
}

func New(opts Options) (*S3, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint not set")
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket not set")
	}
	cl, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &S3{cl: cl, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Check verifies that the bucket exists.
func (s *S3) Check(ctx context.Context) error {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if !ok {
		return fmt.Errorf("archive: bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *S3) key(id string) string {
	return s.prefix + id + ".eml"
}

func (s *S3) PutBlob(ctx context.Context, id string, data []byte) error {
	_, err := s.cl.PutObject(ctx, s.bucket, s.key(id), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "message/rfc822",
	})
	if err != nil {
		return fmt.Errorf("s3 PutObject: %w", err)
	}
	return nil
}

func (s *S3) GetBlob(ctx context.Context, id string) ([]byte, error) {
	obj, err := s.cl.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapErr(id, err)
	}
	return data, nil
}

func (s *S3) DeleteBlob(ctx context.Context, id string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, s.key(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 RemoveObject: %w", err)
	}
	return nil
}

func mapErr(id string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", id, ErrNoSuchObject)
	}
	return fmt.Errorf("s3 GetObject: %w", err)
}
