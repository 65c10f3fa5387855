// Package storage fetches OS images from an S3 bucket into the local images directory.
package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/piflash/piflash/pkg/errors"
)

// ChecksumSuffix names the sidecar object holding an image's sha256,
// in the "<hex>  <file>" format published next to Raspberry Pi OS images.
const ChecksumSuffix = ".sha256"

// API is the subset of the S3 client used here.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	api    API
	bucket string
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewClientWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
	Verified  bool
}

// Download downloads an object and computes its SHA256. The object lands in
// a temporary file first and is renamed into place only once complete, so an
// interrupted pull never leaves a truncated image the installer would accept.
func (c *Client) Download(ctx context.Context, key, localPath string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", key)

	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to flush local file")
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, errors.Wrap(err, "failed to move download into place")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", key,
		"size_mb", size/1024/1024,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Pull downloads key into dir and, when a checksum sidecar object exists,
// verifies the download against it. A mismatching file is removed.
func (c *Client) Pull(ctx context.Context, key, dir string) (*DownloadResult, error) {
	localPath := filepath.Join(dir, filepath.Base(key))

	expected, err := c.expectedChecksum(ctx, key)
	if err != nil {
		return nil, err
	}

	res, err := c.Download(ctx, key, localPath)
	if err != nil {
		return nil, err
	}

	if expected == "" {
		slog.Warn("s3_checksum_unavailable", "s3_key", key)
		return res, nil
	}
	if !strings.EqualFold(expected, res.SHA256) {
		os.Remove(localPath)
		slog.Error("s3_checksum_mismatch", "s3_key", key, "expected", expected, "actual", res.SHA256)
		return nil, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", key, expected, res.SHA256)
	}

	res.Verified = true
	slog.Info("s3_checksum_verified", "s3_key", key)
	return res, nil
}

func (c *Client) expectedChecksum(ctx context.Context, key string) (string, error) {
	sumKey := key + ChecksumSuffix
	ok, err := c.Exists(ctx, sumKey)
	if err != nil || !ok {
		return "", err
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(sumKey),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get checksum object")
	}
	defer out.Body.Close()

	line, err := bufio.NewReader(io.LimitReader(out.Body, 4096)).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "failed to read checksum object")
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum object %s", sumKey)
	}
	return fields[0], nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			slog.Debug("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}
