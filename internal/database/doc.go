// Package database provides SQLite storage for the capture library.
//
// It handles storage and retrieval of:
//   - Capture item metadata, asset paths and per-tier byte counts
//   - Tags, kept both as a normalized join table and a denormalized cache
//   - OCR text and cached semantic embeddings
//   - Full-text search indexing (FTS5, unicode61 tokenizer)
//   - Process-wide settings such as the reindex cursor
//
// A Database owns exactly one connection and is not safe for concurrent use;
// the library worker serializes all access. Schema changes are applied from
// an ordered migration list recorded in schema_migrations.
package database
