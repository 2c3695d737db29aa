package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tslm9/logostamp/internal/id"
)

type ObjectConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Prefix   string
	UseSSL   bool
}

// ObjectStore keeps assets in a MinIO/S3 bucket. Same contract as DiskStore;
// handles are object keys.
type ObjectStore struct {
	minio  *minio.Client
	bucket string
	prefix string
	logger *log.Logger
}

func NewObjectStore(cfg ObjectConfig, logger *log.Logger) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = "scratch"
	}

	return &ObjectStore{
		minio:  mc,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}

	return nil
}

func (s *ObjectStore) Allocate(suffix string) Handle {
	return Handle(path.Join(s.prefix, id.New()+normalizeSuffix(suffix)))
}

func (s *ObjectStore) Write(ctx context.Context, h Handle, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.minio.PutObject(
		ctx,
		s.bucket,
		string(h),
		reader,
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeForHandle(h)},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", h, err)
	}
	return nil
}

func (s *ObjectStore) Read(ctx context.Context, h Handle) ([]byte, error) {
	obj, err := s.minio.GetObject(ctx, s.bucket, string(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", h, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", h, err)
	}
	return data, nil
}

func (s *ObjectStore) Release(ctx context.Context, h Handle) {
	if h == "" {
		return
	}
	err := s.minio.RemoveObject(ctx, s.bucket, string(h), minio.RemoveObjectOptions{})
	if err == nil {
		return
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return
	}
	if s.logger != nil {
		s.logger.Printf("asset release failed handle=%s err=%v", h, err)
	}
}

func contentTypeForHandle(h Handle) string {
	switch strings.ToLower(path.Ext(string(h))) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
