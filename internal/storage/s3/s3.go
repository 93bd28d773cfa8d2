// Package s3 provides an S3-compatible directory lister with metrics.
package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
)

// API is the subset of the S3 client used for listing.
type API interface {
	s3.ListObjectsV2APIClient
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// Lister lists buckets and bucket folders.
type Lister struct {
	client        API
	defaultBucket string
}

// New creates a Lister for cfg.
func New(ctx context.Context, cfg Config) (*Lister, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.DefaultBucket), nil
}

// NewWithClient creates a Lister over an existing client.
func NewWithClient(client API, defaultBucket string) *Lister {
	return &Lister{client: client, defaultBucket: defaultBucket}
}

// List lists folder, given as "/<bucket>/<prefix>". An empty bucket falls
// back to the default bucket; with neither, the buckets are listed.
func (l *Lister) List(ctx context.Context, folder string) ([]browser.FileEntry, error) {
	parts := strings.SplitN(strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/"), "/", 2)
	bucket := parts[0]
	if bucket == "" {
		bucket = l.defaultBucket
	}
	prefix := ""
	if len(parts) > 1 && strings.Trim(parts[1], "/") != "" {
		prefix = strings.Trim(parts[1], "/") + "/"
	}

	if bucket == "" {
		return l.listBuckets(ctx)
	}
	return l.listFolder(ctx, bucket, prefix)
}

func (l *Lister) listBuckets(ctx context.Context) ([]browser.FileEntry, error) {
	start := time.Now()
	out, err := l.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		metrics.RecordS3Operation("list_buckets", time.Since(start), false)
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	metrics.RecordS3Operation("list_buckets", time.Since(start), true)

	entries := make([]browser.FileEntry, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		e := browser.FileEntry{"id": "/" + name, "name": name, "isDir": true}
		if b.CreationDate != nil {
			e["modDate"] = b.CreationDate.Unix()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *Lister) listFolder(ctx context.Context, bucket, prefix string) ([]browser.FileEntry, error) {
	start := time.Now()
	var entries []browser.FileEntry

	p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket:     aws.String(bucket),
		Prefix:     aws.String(prefix),
		Delimiter:  aws.String("/"),
		FetchOwner: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			metrics.RecordS3Operation("list_objects", time.Since(start), false)
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			entries = append(entries, browser.FileEntry{
				"id":    "/" + bucket + "/" + key,
				"name":  baseName(key),
				"isDir": true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			e := browser.FileEntry{
				"id":    "/" + bucket + "/" + key,
				"name":  baseName(key),
				"size":  aws.ToInt64(obj.Size),
				"isDir": false,
			}
			if obj.LastModified != nil {
				e["modDate"] = obj.LastModified.Unix()
			}
			if obj.Owner != nil {
				e["owner"] = aws.ToString(obj.Owner.DisplayName)
			}
			entries = append(entries, e)
		}
	}
	metrics.RecordS3Operation("list_objects", time.Since(start), true)

	logging.Debug("S3 folder listed",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.Int("entries", len(entries)))
	if entries == nil {
		entries = []browser.FileEntry{}
	}
	return entries, nil
}

func baseName(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	return parts[len(parts)-1]
}

// Type returns "s3".
func (l *Lister) Type() string { return "s3" }

// Close is a no-op for S3 listers.
func (l *Lister) Close() error { return nil }
