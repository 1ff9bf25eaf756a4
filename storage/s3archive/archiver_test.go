package s3archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/poiesic/contentpulse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	err    error
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func items() []*core.ContentItem {
	published := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	return []*core.ContentItem{
		{Identity: "news:a", Source: core.SourceNews, Title: "A", Text: "body a", PublishedAt: published, Status: core.StatusEmbedded, Embedding: []float32{1, 2}},
		{Identity: "news:b", Source: core.SourceNews, Text: "body b", PublishedAt: published, Status: core.StatusIngested, Metadata: map[string]string{"author": "x"}},
	}
}

func TestArchive(t *testing.T) {
	client := &fakeS3{}
	archiver, err := New(client, "archive", "contentpulse", nil)
	require.NoError(t, err)
	archiver.now = func() time.Time { return time.Date(2025, 6, 20, 4, 0, 0, 0, time.UTC) }

	require.NoError(t, archiver.Archive(context.Background(), core.SourceNews, items()))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "archive", aws.ToString(in.Bucket))
	assert.True(t, strings.HasPrefix(aws.ToString(in.Key), "contentpulse/news/2025-06-20/"))
	assert.True(t, strings.HasSuffix(aws.ToString(in.Key), ".jsonl"))

	scanner := bufio.NewScanner(bytes.NewReader(client.bodies[0]))
	var got []record
	for scanner.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "news:a", got[0].Identity)
	assert.Equal(t, "embedded", got[0].Status)
	assert.Equal(t, "x", got[1].Metadata["author"])
	assert.NotContains(t, string(client.bodies[0]), "embedding")
}

func TestArchive_Empty(t *testing.T) {
	client := &fakeS3{}
	archiver, err := New(client, "archive", "", nil)
	require.NoError(t, err)

	require.NoError(t, archiver.Archive(context.Background(), core.SourceSocial, nil))
	assert.Empty(t, client.inputs)
}

func TestArchive_UploadError(t *testing.T) {
	archiver, err := New(&fakeS3{err: errors.New("access denied")}, "archive", "", nil)
	require.NoError(t, err)

	err = archiver.Archive(context.Background(), core.SourceNews, items())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "bucket", "", nil)
	assert.Error(t, err)

	_, err = New(&fakeS3{}, "", "", nil)
	assert.Error(t, err)
}
