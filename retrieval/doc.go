// Package retrieval gathers the items most similar to a query across sources.
//
// A Retriever searches each source separately through the item store, then
// merges the hits into one ranking: highest score first, one entry per item
// identity, nothing below the minimum similarity, at most MaxCandidates
// entries. The result is the candidate set handed to suggestion synthesis.
package retrieval
