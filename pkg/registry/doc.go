// Package registry provides the core of a versioned content registry:
// users publish file-bearing items (skills and personas) under unique
// slugs; consumers browse, search, star, comment on, and download them.
//
// It exposes a single Service interface that orchestrates the publish
// pipeline (slug resolution, ownership, version uniqueness, content
// fingerprinting), hybrid semantic+lexical discovery, and social and
// moderation operations. Stat counters are event-sourced: operations
// append to an event log and the Aggregator drains it into denormalized
// counters, daily rollups, and leaderboards under a resumable cursor.
// Embedding refreshes flow through a durable outbox drained by the
// EmbedWorker.
//
// Implementations of the Store (memory, Postgres) and BlobStore (memory,
// S3) are provided under subpackages; the embedding provider lives in
// the embed subpackage.
package registry
