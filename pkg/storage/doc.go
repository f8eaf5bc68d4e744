/*
Package storage provides the pluggable storage abstraction for TinyLens.

# Storage Interface

Two concerns share one backend:

  - Storage holds raw documents per index. The aggregation engine in
    pkg/query scans them to build time buckets, index stats, field
    mappings and filter-value suggestions.
  - KV holds small keyed blobs: annotations, saved form state and
    persisted color mappings.

Backends:

  - memory: In-memory storage for testing and ephemeral workloads
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

# Key Layout (badger)

Documents are keyed so that one index is a contiguous, time-ordered range:

	'd' | xxhash64(index) (8 bytes) | unix nanos (8 bytes) | sequence (8 bytes)

A query for one index seeks to the index prefix plus the start time and
stops at the first key past the end time, as long as the range applies to
the primary timestamp. Ranges on other date fields fall back to scanning
the index prefix.

KV entries live under the 'k' prefix followed by the raw key, and index
names are registered under 'i' so Indices never has to scan documents.

# Context Handling

Every badger operation runs inside a goroutine and races the caller's
context, so a cancelled request returns promptly even if badger is busy.
*/
package storage
