// Package retrieve fans a query out to several ranked retrieval sources
// in parallel and merges their lists with Reciprocal Rank Fusion.
//
// Fusion looks only at ranks. Raw scores from BM25, cosine similarity and
// sparse expansion live on different scales and are kept for provenance,
// never compared. A source that fails or times out is left out of the
// fusion and reported in Response.Unavailable; the call itself fails only
// when every queried source failed.
package retrieve
