package ingestion

import (
	"context"
	"iter"
	"time"

	"github.com/poiesic/contentpulse/core"
)

// RawItem is what an adapter hands to the pipeline before normalization.
type RawItem struct {
	SourceID    string // Source-native identifier, e.g. a feed GUID
	URL         string
	Title       string
	Text        string // May contain HTML
	PublishedAt time.Time
	RawMetadata map[string]string
}

// SourceConfig configures one fetch of an adapter.
type SourceConfig struct {
	// Name identifies this configuration in logs and SourceErrors.
	Name string
	// Category is the topic label attached to every item, e.g. "technology".
	Category string
	// FeedURLs lists the endpoints to read.
	FeedURLs []string
	// Subreddits lists community names for adapters that read them.
	Subreddits []string
	// MaxItems caps items per feed. Zero means no cap.
	MaxItems int
	// FullText asks adapters that support it to fetch the linked page body.
	FullText bool
}

// Adapter reads raw items from one kind of source.
type Adapter interface {
	// Name identifies the adapter, e.g. "rss".
	Name() string

	// Source is the item source every yielded item belongs to.
	Source() core.Source

	// Fetch lazily yields the items described by cfg. A failing endpoint
	// yields an error wrapping ErrSourceUnavailable or ErrAuthentication and
	// the sequence continues with the next endpoint. Iterating the sequence
	// again fetches again.
	Fetch(ctx context.Context, cfg SourceConfig) iter.Seq2[RawItem, error]
}

// Feed binds an adapter to one of its configurations.
type Feed struct {
	Adapter Adapter
	Config  SourceConfig
}

// Key names the feed in IngestResult.SourceErrors.
func (f Feed) Key() string {
	return f.Adapter.Name() + "/" + f.Config.Name
}
