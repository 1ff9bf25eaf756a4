// Package reddit reads community posts from subreddit Atom feeds.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/ingestion"
	"github.com/poiesic/contentpulse/ingestion/rss"
)

// DefaultBaseURL is where subreddit feeds are read from.
const DefaultBaseURL = "https://www.reddit.com"

// Adapter yields social posts from the subreddits of a SourceConfig.
type Adapter struct {
	baseURL string
	reader  *rss.Reader
	logger  *slog.Logger
}

var _ ingestion.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter) error

// WithBaseURL changes the host subreddit feeds are read from.
func WithBaseURL(base string) Option {
	return func(a *Adapter) error {
		if _, err := url.Parse(base); err != nil || base == "" {
			return fmt.Errorf("reddit: invalid base URL %q", base)
		}
		a.baseURL = strings.TrimRight(base, "/")
		return nil
	}
}

// WithReader replaces the default feed reader.
func WithReader(reader *rss.Reader) Option {
	return func(a *Adapter) error {
		if reader == nil {
			return errors.New("reddit: reader cannot be nil")
		}
		a.reader = reader
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// New creates a subreddit adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		baseURL: DefaultBaseURL,
		reader:  rss.NewReader(nil, ""),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "reddit")
	return a, nil
}

// Name returns "reddit".
func (a *Adapter) Name() string {
	return "reddit"
}

// Source returns core.SourceSocial.
func (a *Adapter) Source() core.Source {
	return core.SourceSocial
}

// FeedURL returns the feed address of a subreddit.
func (a *Adapter) FeedURL(subreddit string) string {
	name := strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	return a.baseURL + "/r/" + url.PathEscape(name) + "/.rss"
}

// Fetch yields the posts of every subreddit in cfg.Subreddits.
func (a *Adapter) Fetch(ctx context.Context, cfg ingestion.SourceConfig) iter.Seq2[ingestion.RawItem, error] {
	return func(yield func(ingestion.RawItem, error) bool) {
		for _, subreddit := range cfg.Subreddits {
			if ctx.Err() != nil {
				return
			}

			feed, err := a.reader.Read(ctx, a.FeedURL(subreddit))
			if err != nil {
				if !yield(ingestion.RawItem{}, fmt.Errorf("r/%s: %w", subreddit, err)) {
					return
				}
				continue
			}

			items := feed.Items
			if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
				items = items[:cfg.MaxItems]
			}

			a.logger.Debug("read subreddit", "subreddit", subreddit, "posts", len(items))
			for _, item := range items {
				text := item.Content
				if text == "" {
					text = item.Description
				}
				raw := ingestion.RawItem{
					SourceID:    item.GUID,
					URL:         item.Link,
					Title:       item.Title,
					Text:        text,
					PublishedAt: rss.Published(item),
					RawMetadata: map[string]string{
						"category":  cfg.Category,
						"subreddit": subreddit,
						"author":    strings.TrimPrefix(rss.Author(item), "/u/"),
						"permalink": item.Link,
					},
				}
				if !yield(raw, nil) {
					return
				}
			}
		}
	}
}
