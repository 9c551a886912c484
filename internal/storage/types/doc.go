// Package types defines the core data types shared across the storage
// subsystem: points, stream identifiers, versions, and statistical results.
package types
