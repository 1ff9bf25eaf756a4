// Package s3archive stores items removed by retention in an S3 bucket.
//
// Each Archive call writes one JSON Lines object under
// <prefix><source>/<yyyy-mm-dd>/<uuid>.jsonl. Embeddings are not archived.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/pipeline"
)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// record is the archived form of a content item.
type record struct {
	Identity    string            `json:"identity"`
	Source      string            `json:"source"`
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	Text        string            `json:"text"`
	PublishedAt time.Time         `json:"published_at"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ArchivedAt  time.Time         `json:"archived_at"`
}

// Archiver implements pipeline.Archiver.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var _ pipeline.Archiver = (*Archiver)(nil)

// New creates an archiver writing to bucket under prefix.
func New(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 client required")
	}
	if bucket == "" {
		return nil, errors.New("bucket required")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With("component", "s3-archive", "bucket", bucket),
	}, nil
}

// Open loads the default AWS configuration for region and creates an
// archiver. A non-empty endpoint selects an S3 compatible service with path
// style addressing.
func Open(ctx context.Context, bucket, prefix, region, endpoint string, logger *slog.Logger) (*Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, bucket, prefix, logger)
}

// Archive uploads items as one object.
func (a *Archiver) Archive(ctx context.Context, source core.Source, items []*core.ContentItem) error {
	if len(items) == 0 {
		return nil
	}
	now := a.now().UTC()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, item := range items {
		err := enc.Encode(record{
			Identity:    item.Identity,
			Source:      string(item.Source),
			Title:       item.Title,
			URL:         item.URL,
			Text:        item.Text,
			PublishedAt: item.PublishedAt,
			Status:      item.Status.String(),
			Metadata:    item.Metadata,
			ArchivedAt:  now,
		})
		if err != nil {
			return err
		}
	}

	key := fmt.Sprintf("%s%s/%s/%s.jsonl", a.prefix, source, now.Format(time.DateOnly), uuid.NewString())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	a.logger.Info("archived items", "source", source, "items", len(items), "key", key)
	return nil
}
