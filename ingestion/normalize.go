package ingestion

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/contentpulse/core"
)

// CanonicalURL returns a stable form of raw for identity hashing: lower-case
// scheme and host, no fragment, no utm_* tracking parameters, sorted query
// and no trailing slash. It returns "" if raw is not an absolute URL.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// CleanText strips markup from s and collapses whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style, noscript").Remove()
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// Normalize converts raw into a content item of the given source.
//
// The identity key is the canonical URL when there is one, else the
// source-native id, else the cleaned title and text. Status is left unset so
// re-ingesting an item never regresses an already embedded one; the store
// assigns StatusIngested to new items.
func Normalize(source core.Source, raw RawItem, now time.Time) (*core.ContentItem, error) {
	if err := core.ValidateSource(source); err != nil {
		return nil, err
	}

	title := CleanText(raw.Title)
	text := CleanText(raw.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, firstNonEmpty(raw.URL, raw.SourceID, title))
	}

	canonical := CanonicalURL(raw.URL)
	key := canonical
	if key == "" {
		key = strings.TrimSpace(raw.SourceID)
	}
	if key == "" {
		key = title + "\n" + text
	}

	published := raw.PublishedAt
	if published.IsZero() {
		published = now
	}

	var metadata map[string]string
	if len(raw.RawMetadata) > 0 {
		metadata = maps.Clone(raw.RawMetadata)
		maps.DeleteFunc(metadata, func(_, v string) bool { return v == "" })
	}

	return &core.ContentItem{
		Identity:    core.IdentityFor(source, key),
		Source:      source,
		Title:       title,
		URL:         firstNonEmpty(canonical, strings.TrimSpace(raw.URL)),
		Text:        text,
		PublishedAt: published.UTC(),
		Metadata:    metadata,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
