package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/contentpulse/core"
	"github.com/poiesic/contentpulse/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>technology</title>
  <entry>
    <author><name>/u/gadgetfan</name><uri>https://www.reddit.com/user/gadgetfan</uri></author>
    <category term="technology" label="r/technology"/>
    <content type="html">&lt;div class="md"&gt;&lt;p&gt;Anyone tried the new foldable yet?&lt;/p&gt;&lt;/div&gt; submitted by /u/gadgetfan</content>
    <id>t3_abc123</id>
    <link href="https://www.reddit.com/r/technology/comments/abc123/foldables/"/>
    <updated>2025-06-02T10:00:00+00:00</updated>
    <published>2025-06-02T09:30:00+00:00</published>
    <title>Foldables in 2025</title>
  </entry>
</feed>`

func TestAdapter_Fetch(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/r/technology/.rss":
			w.Header().Set("Content-Type", "application/atom+xml")
			fmt.Fprint(w, atomFeed)
		default:
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	adapter, err := New(WithBaseURL(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "reddit", adapter.Name())
	assert.Equal(t, core.SourceSocial, adapter.Source())
	assert.Equal(t, server.URL+"/r/gadgets/.rss", adapter.FeedURL("r/gadgets"))

	var items []ingestion.RawItem
	var errs []error
	cfg := ingestion.SourceConfig{Name: "technology", Category: "technology", Subreddits: []string{"technology", "gadgets"}}
	for item, err := range adapter.Fetch(context.Background(), cfg) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}

	require.Len(t, items, 1)
	post := items[0]
	assert.Equal(t, "t3_abc123", post.SourceID)
	assert.Equal(t, "Foldables in 2025", post.Title)
	assert.Equal(t, "technology", post.RawMetadata["subreddit"])
	assert.Equal(t, "gadgetfan", post.RawMetadata["author"])
	assert.Equal(t, "https://www.reddit.com/r/technology/comments/abc123/foldables/", post.RawMetadata["permalink"])
	assert.NotEmpty(t, userAgent)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ingestion.ErrSourceUnavailable)
	assert.Contains(t, errs[0].Error(), "r/gadgets")

	item, err := ingestion.Normalize(adapter.Source(), post, post.PublishedAt)
	require.NoError(t, err)
	assert.Equal(t, "Anyone tried the new foldable yet? submitted by /u/gadgetfan", item.Text)
	assert.Equal(t, "https://www.reddit.com/r/technology/comments/abc123/foldables", item.URL)
}

func TestWithBaseURL_Invalid(t *testing.T) {
	_, err := New(WithBaseURL(""))
	assert.Error(t, err)
}
