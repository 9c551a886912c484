// Package storage implements a versioned time-series point store with
// write-ahead durability and a columnar archive tier.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Commit    │────▶│     WAL     │────▶│ Point Store │
//	│ Coordinator │     │ (segments)  │     │ (snapshots) │
//	└─────────────┘     └─────────────┘     └──────┬──────┘
//	                                               │
//	                    ┌─────────────┐     ┌──────▼──────┐
//	                    │   DuckDB    │◀────│   Parquet   │
//	                    │ SQL queries │     │   Archive   │
//	                    └─────────────┘     └─────────────┘
//
// The storage system provides:
//   - Per-stream version chains: every commit produces a new immutable
//     snapshot, and historical versions stay queryable
//   - Snapshot-isolated range, nearest, statistical, window, and
//     changed-range queries
//   - Synchronous and asynchronous commit durability via the WAL
//   - Parquet-based columnar archive queried through DuckDB
//   - DDSketch-based percentile calculation
package storage
