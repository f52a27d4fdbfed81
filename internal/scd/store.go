// Package scd implements the SCD Type-2 temporal upsert engine: content
// hashing, history-row open/close, and the at-most-one-current-row
// guarantee, all inside a single store transaction per record.
package scd

import (
	"context"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/google/uuid"
)

// Store is the entity-store boundary the engine drives. Implementations
// must serialize concurrent writers on the same natural key (row-level
// locks on the current-row lookup or equivalent isolation) and enforce
// the at-most-one-current-row unique constraint as a backstop.
type Store interface {
	// InTx runs fn inside one atomic transaction. If fn returns an
	// error the transaction rolls back entirely; no partial close or
	// insert is ever observable.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of store operations the engine performs inside one
// transaction. No other mutation of the historized tables exists.
type Tx interface {
	// LockCurrent returns the current row for the natural key, locking
	// it against concurrent writers for the rest of the transaction.
	// Returns nil when no current row exists; the lock still guards the
	// key range against a concurrent first insert.
	LockCurrent(ctx context.Context, def entity.Definition, key map[string]string) (*CurrentRow, error)

	// CloseRow ends a current row's validity: sets effective_to and
	// clears is_current. Closed rows are never touched again.
	CloseRow(ctx context.Context, def entity.Definition, surrogateKey int64, at time.Time) error

	// InsertRow inserts a new current row carrying the record's fields
	// and the SCD metadata, returning the new surrogate key.
	InsertRow(ctx context.Context, def entity.Definition, rec canonical.Record, meta RowMeta) (int64, error)
}

// CurrentRow is the engine's view of an existing current row.
type CurrentRow struct {
	SurrogateKey  int64
	HashKey       []byte
	EffectiveFrom time.Time
}

// RowMeta carries the SCD metadata columns for a new row.
type RowMeta struct {
	HashKey       []byte
	EffectiveFrom time.Time
	BatchID       uuid.UUID
	DMLType       byte // 'I' for a first version, 'U' for a successor
	ExternalID    string
}
