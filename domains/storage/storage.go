// Package storage defines the generic persistent record-store contract the
// cache sits on. Pure infrastructure: named partitions of JSON records keyed
// by a primary key, with optional secondary-index lookups. No cache semantics
// live here.
package storage

import (
	"context"
	"encoding/json"
)

// IndexKind selects the column type backing a secondary index so range
// queries compare correctly.
type IndexKind string

const (
	IndexText    IndexKind = "text"
	IndexInteger IndexKind = "integer"
)

// IndexSpec declares one secondary index over a top-level record field.
type IndexSpec struct {
	Field string
	Kind  IndexKind
}

// PartitionSpec declares one partition: its name, the record field holding
// the primary key, and its secondary indexes.
type PartitionSpec struct {
	Name       string
	PrimaryKey string
	Indexes    []IndexSpec
}

// IndexQuery matches records by a secondary index, either by equality or by
// a bounded range. Min is inclusive, Max exclusive; either may be nil for a
// half-open scan.
type IndexQuery struct {
	Field  string
	Equals any
	Min    any
	Max    any
}

// IPersistentStore is the durable asynchronous record store. Get never fails
// for a missing key (nil, nil); single-key operations are never partially
// applied. Initialization failures surface as StorageUnavailable; all other
// failures carry the operation and partition that failed.
type IPersistentStore interface {
	// Initialize is idempotent and safe to call concurrently; concurrent
	// callers share one in-flight initialization.
	Initialize(ctx context.Context) error

	Get(ctx context.Context, partition, key string) (json.RawMessage, error)
	Put(ctx context.Context, partition string, record any) error
	Delete(ctx context.Context, partition, key string) (bool, error)
	GetAll(ctx context.Context, partition string) ([]json.RawMessage, error)
	QueryIndex(ctx context.Context, partition string, query IndexQuery) ([]json.RawMessage, error)
	BatchDelete(ctx context.Context, partition string, keys []string) (int64, error)
	// Clear removes every record in the partition; other partitions are
	// unaffected.
	Clear(ctx context.Context, partition string) error

	Close() error
}
