// Package parquet implements Parquet file reading and writing for the
// point archive.
//
// The package provides:
//   - PointWriter/PointReader for archived stream points
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage types and Parquet rows
package parquet
