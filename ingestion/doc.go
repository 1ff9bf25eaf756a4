// Package ingestion turns fetched source content into stored content items.
//
// An Adapter knows how to read one kind of source (news feeds, subreddit
// feeds) and yields RawItems. The Ingester runs every configured adapter,
// normalizes each raw item into a core.ContentItem with a stable identity,
// drops duplicates seen earlier in the same run and upserts the rest into the
// item store.
//
// A failing source does not stop the run; it is recorded in
// IngestResult.SourceErrors and the remaining sources are processed.
package ingestion
