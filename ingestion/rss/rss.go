// Package rss reads news articles from RSS and Atom feeds.
package rss

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/ingestion"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "contentpulse/1.0 (+https://github.com/poiesic/contentpulse)"
)

// Reader fetches and parses feeds over HTTP.
type Reader struct {
	client    *http.Client
	userAgent string
}

// NewReader creates a Reader. A nil client gets a 30 second timeout.
func NewReader(client *http.Client, userAgent string) *Reader {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Reader{client: client, userAgent: userAgent}
}

// Read fetches and parses the feed at feedURL. Failures wrap
// ingestion.ErrAuthentication for 401/403 answers and
// ingestion.ErrSourceUnavailable otherwise.
func (r *Reader) Read(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	parser := gofeed.NewParser()
	parser.Client = r.client
	parser.UserAgent = r.userAgent

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", feedURL, classify(err))
	}
	return feed, nil
}

func classify(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ingestion.ErrAuthentication, err)
		}
	}
	return fmt.Errorf("%w: %w", ingestion.ErrSourceUnavailable, err)
}

// Published returns the publish time of item, falling back to its update time.
func Published(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	default:
		return time.Time{}
	}
}

// Author returns the first author name of item, if any.
func Author(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

// Adapter yields news articles from the feeds of a SourceConfig.
type Adapter struct {
	reader *Reader
	logger *slog.Logger
}

var _ ingestion.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter) error

// WithReader replaces the default feed reader.
func WithReader(reader *Reader) Option {
	return func(a *Adapter) error {
		if reader == nil {
			return errors.New("rss: reader cannot be nil")
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

// New creates a news feed adapter.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		reader: NewReader(nil, ""),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "rss")
	return a, nil
}

// Name returns "rss".
func (a *Adapter) Name() string {
	return "rss"
}

// Source returns core.SourceNews.
func (a *Adapter) Source() core.Source {
	return core.SourceNews
}

// Fetch yields the entries of every feed in cfg.FeedURLs. With cfg.FullText
// set, the linked page is fetched and its readable body replaces the feed
// summary when extraction succeeds.
func (a *Adapter) Fetch(ctx context.Context, cfg ingestion.SourceConfig) iter.Seq2[ingestion.RawItem, error] {
	return func(yield func(ingestion.RawItem, error) bool) {
		for _, feedURL := range cfg.FeedURLs {
			if ctx.Err() != nil {
				return
			}

			feed, err := a.reader.Read(ctx, feedURL)
			if err != nil {
				if !yield(ingestion.RawItem{}, err) {
					return
				}
				continue
			}

			items := feed.Items
			if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
				items = items[:cfg.MaxItems]
			}

			for _, item := range items {
				raw := ingestion.RawItem{
					SourceID:    item.GUID,
					URL:         item.Link,
					Title:       item.Title,
					Text:        item.Content,
					PublishedAt: Published(item),
					RawMetadata: map[string]string{
						"category":    cfg.Category,
						"source_name": feed.Title,
						"author":      Author(item),
					},
				}
				if raw.Text == "" {
					raw.Text = item.Description
				}
				if cfg.FullText && item.Link != "" {
					if body, err := a.reader.Extract(ctx, item.Link); err != nil {
						a.logger.Debug("full text extraction failed", "url", item.Link, "err", err)
					} else if body != "" {
						raw.Text = body
					}
				}
				if !yield(raw, nil) {
					return
				}
			}
		}
	}
}

// Extract downloads pageURL and returns its main readable text.
func (r *Reader) Extract(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ingestion.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %s", ingestion.ErrSourceUnavailable, pageURL, resp.Status)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}
