// Package arrow encodes LanChat peer and group tables as Apache Arrow
// record batches.
// This package implements:
// - Schema definitions for the peer and group tables
// - Row to Arrow conversion and back
// - Arrow IPC stream serialization used by the snapshot server
package arrow
