package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"google.golang.org/api/option"
)

const csvContentType = "text/csv"

// Destination is an object storage location for the finished report.
type Destination struct {
	Scheme string
	Bucket string
	Key    string
}

func (d Destination) String() string {
	return fmt.Sprintf("%s://%s/%s", d.Scheme, d.Bucket, d.Key)
}

// ParseDestination parses gs://bucket/key or s3://bucket/key. When the key
// is empty or ends in "/", the base name of localPath is appended.
func ParseDestination(raw, localPath string) (Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid upload destination %q: %w", raw, err)
	}

	switch u.Scheme {
	case "gs", "s3":
	default:
		return Destination{}, fmt.Errorf("invalid upload destination %q: scheme must be gs or s3", raw)
	}
	if u.Host == "" {
		return Destination{}, fmt.Errorf("invalid upload destination %q: missing bucket", raw)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		key = path.Join(key, filepath.Base(localPath))
	}

	return Destination{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}

// Uploader copies a local file to object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath string, dst Destination) error
	Close() error
}

// NewUploader returns the uploader for dst's scheme.
func NewUploader(ctx context.Context, dst Destination, credentialsFile string) (Uploader, error) {
	switch dst.Scheme {
	case "gs":
		return NewGCSUploader(ctx, credentialsFile)
	case "s3":
		return NewS3Uploader(ctx)
	default:
		return nil, fmt.Errorf("unsupported upload scheme %q", dst.Scheme)
	}
}

// GCSUploader writes reports to Cloud Storage.
type GCSUploader struct {
	client *storage.Client
}

// NewGCSUploader creates a Cloud Storage client.
func NewGCSUploader(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GCSUploader, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{client: client}, nil
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, dst Destination) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	w := u.client.Bucket(dst.Bucket).Object(dst.Key).NewWriter(ctx)
	w.ContentType = csvContentType

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

// Close implements Uploader.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// S3Uploader writes reports to Amazon S3 using the default AWS credential chain.
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader loads the default AWS config and creates an S3 client.
func NewS3Uploader(ctx context.Context, optFns ...func(*s3.Options)) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Uploader{client: s3.NewFromConfig(cfg, optFns...)}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, dst Destination) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(dst.Bucket),
		Key:         aws.String(dst.Key),
		Body:        f,
		ContentType: aws.String(csvContentType),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to write %s: %s: %s", dst, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// Close implements Uploader.
func (u *S3Uploader) Close() error {
	return nil
}
