// Package agentmemdb is an embeddable episodic memory store for LLM
// agents: fixed-dimension state embeddings plus categorical and scalar
// metadata, retrieved by vector similarity subject to filter predicates.
//
// Store provides an in-memory variant backed by either an approximate
// graph index (sublinear query, <100% recall) or an exact brute-force
// index (O(n·dim) query, 100% recall and deterministic ordering).
// DiskStore layers an append-only JSONL log and optional checkpointing
// on top of the same in-memory machinery for durability across process
// restarts.
//
// The package performs no internal concurrency and expects single-writer,
// single-reader-at-a-time access; callers needing concurrent access must
// wrap a Store or DiskStore in an external mutual-exclusion primitive.
package agentmemdb
