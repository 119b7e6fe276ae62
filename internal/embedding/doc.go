// Package embedding holds the semantic-vector side of search: the Embedder
// collaborator interface, the per-language model registry, vector encoding,
// and the content hash that decides whether a cached item vector is stale.
//
// A deterministic feature-hashing word model is built in so semantic
// reranking works without any external model installed.
package embedding
