// Package bucket talks to the S3-compatible object store: a thin client over
// the AWS SDK, the per-user lease lock and the case storage layout on top of
// it.
package bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"caseflow/config"
)

// ErrNotFound marks a missing object on Get.
var ErrNotFound = errors.New("bucket: object not found")

// ObjectInfo is one listing entry. LastModified is normalized to unix epoch
// seconds at this boundary; nothing above it touches SDK time types.
type ObjectInfo struct {
	Key          string
	LastModified float64
}

// ObjectStore is the store surface the lock and storage layers consume.
// *Client implements it against S3; tests implement it in memory.
type ObjectStore interface {
	Head(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	PutJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	ListDirectories(ctx context.Context, prefix string) ([]string, error)
}

// Client wraps one bucket on an S3-compatible endpoint, virtual-host
// addressed.
type Client struct {
	api       *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewClient builds the store client from static credentials.
func NewClient(cfg config.BucketConfig) *Client {
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.KeySecret, ""),
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	})
	return &Client{
		api:       api,
		presigner: s3.NewPresignClient(api),
		bucket:    cfg.Name,
	}
}

// Head reports whether key exists.
func (c *Client) Head(ctx context.Context, key string) bool {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if !isNotFound(err) {
			logrus.WithError(err).Warnf("[BUCKET] head failed for %s", key)
		}
		return false
	}
	return true
}

// Get fetches the object body. Missing keys return ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put uploads body under key.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PutJSON serializes v deterministically (indented, sorted map keys) and
// uploads it as application/json.
func (c *Client) PutJSON(ctx context.Context, key string, v any) error {
	data, err := MarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Put(ctx, key, data, "application/json")
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListObjects returns every object under prefix, paginated, ordered by key.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				info.LastModified = float64(obj.LastModified.UnixNano()) / float64(time.Second)
			}
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// ListDirectories returns the immediate child "directories" of prefix, bare
// names without the prefix or trailing slash.
func (c *Client) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	var dirs []string
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list dirs %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				dirs = append(dirs, name)
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ClearPrefix deletes everything under prefix in batches of up to 1000 keys.
func (c *Client) ClearPrefix(ctx context.Context, prefix string) error {
	infos, err := c.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(infos); start += 1000 {
		end := start + 1000
		if end > len(infos) {
			end = len(infos)
		}
		batch := make([]types.ObjectIdentifier, 0, end-start)
		for _, info := range infos[start:end] {
			batch = append(batch, types.ObjectIdentifier{Key: aws.String(info.Key)})
		}
		_, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("clear %s: %w", prefix, err)
		}
	}
	logrus.Debugf("[BUCKET] cleared %d objects under %s", len(infos), prefix)
	return nil
}

// PresignGet returns a time-limited download URL for key.
func (c *Client) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignPut returns a time-limited upload URL for key.
func (c *Client) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// MarshalStable is the canonical serialization of stored JSON documents:
// two-space indent, map keys sorted (encoding/json guarantees the order).
func MarshalStable(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}
