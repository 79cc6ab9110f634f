// Package vectorstore stores and searches the per-site FAQ and Pages vectors.
//
// Two backends implement Store:
//   - QdrantStore: external Qdrant over the native gRPC client
//   - ChromemStore: embedded chromem-go, in memory or persisted to disk
//
// Both use cosine similarity, so scores are in [-1, 1] with 1 meaning
// identical direction. Transient backend failures are retried with
// exponential backoff and surface as mirror.ErrServiceUnavailable once
// the retry budget is exhausted.
package vectorstore
