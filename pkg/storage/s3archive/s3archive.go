// Package s3archive implements the retention archive sink on object
// storage. Purged events land as gzipped NDJSON objects, one object
// per cleanup run, keyed by purge date.
package s3archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shellquest/telemetry/pkg/analytics"
)

// Config holds the object storage settings. Endpoint and path style
// are for MinIO-compatible local deployments.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	KeyPrefix    string
}

// Archiver implements analytics.Archiver against S3-compatible
// object storage.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an archiver from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var awsConfig aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "telemetry/archive"
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// ArchiveEvents writes the batch as one gzipped NDJSON object. The key
// embeds the purge date and the retention cutoff so runs never collide
// and objects sort chronologically.
func (a *Archiver) ArchiveEvents(ctx context.Context, cutoff float64, events []*analytics.Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/events-%d-%d.ndjson.gz",
		a.prefix, now.Format("2006-01-02"), int64(cutoff), now.Unix())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"event-count": fmt.Sprintf("%d", len(events)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	return nil
}
