package pipeline

import (
	"context"
	"time"
)

// Extractor is the external extraction engine: it takes a document reference
// and returns structured fields. Calls may succeed, fail, or time out; the
// orchestrator treats them as opaque.
type Extractor interface {
	Extract(ctx context.Context, unit WorkUnit) (ExtractedDocument, error)
}

// ResultStore is the persistence collaborator. Exists and Write together
// implement dedup by canonical key; Write must be conditional so two racing
// attempts of the same unit cannot create duplicate records.
type ResultStore interface {
	// Exists reports whether a record with the key is already persisted.
	Exists(ctx context.Context, key string) (bool, error)
	// Write persists the record unless the key already exists. It returns
	// true when this call inserted the record.
	Write(ctx context.Context, rec ResultRecord) (bool, error)
}

// TaskStore persists task snapshots keyed by task id. Terminal records are
// reaped after a TTL to bound memory.
type TaskStore interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, taskID string) (Snapshot, error)
}

// Publisher delivers terminal-task notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time.Now so window-based components are testable.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
