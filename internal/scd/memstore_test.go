package scd

import (
	"context"
	"sync"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore is an in-memory Store used by the engine tests. A single
// mutex held for the whole transaction stands in for the row-level
// locking a real store provides, and an insert-time uniqueness check
// stands in for the partial unique index backstop.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]*memRow
	nextSK int64

	// failNext makes the next n transactions fail with failWith before
	// reaching the callback, for transient-error tests.
	failNext int
	failWith error
}

type memRow struct {
	surrogate   int64
	key         string
	rec         canonical.Record
	meta        RowMeta
	effectiveTo *time.Time
	isCurrent   bool
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string][]*memRow)}
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return s.failWith
	}

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err // staged writes are discarded
	}
	tx.commit()
	return nil
}

// rows returns all rows for a definition, in insertion order.
func (s *memStore) rows(def entity.Definition) []*memRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*memRow(nil), s.tables[def.Table]...)
}

// currentRows returns the rows flagged current for a natural key.
func (s *memStore) currentRows(def entity.Definition, key map[string]string) []*memRow {
	keyStr := renderKey(key, def)
	var out []*memRow
	for _, row := range s.rows(def) {
		if row.key == keyStr && row.isCurrent {
			out = append(out, row)
		}
	}
	return out
}

type memTx struct {
	store  *memStore
	closes []stagedClose
	adds   []stagedAdd
}

type stagedClose struct {
	surrogate int64
	at        time.Time
}

type stagedAdd struct {
	table string
	row   *memRow
}

func (t *memTx) LockCurrent(_ context.Context, def entity.Definition, key map[string]string) (*CurrentRow, error) {
	keyStr := renderKey(key, def)
	for _, row := range t.store.tables[def.Table] {
		if row.key == keyStr && row.isCurrent {
			return &CurrentRow{
				SurrogateKey:  row.surrogate,
				HashKey:       row.meta.HashKey,
				EffectiveFrom: row.meta.EffectiveFrom,
			}, nil
		}
	}
	return nil, nil
}

func (t *memTx) CloseRow(_ context.Context, _ entity.Definition, surrogateKey int64, at time.Time) error {
	t.closes = append(t.closes, stagedClose{surrogate: surrogateKey, at: at})
	return nil
}

func (t *memTx) InsertRow(_ context.Context, def entity.Definition, rec canonical.Record, meta RowMeta) (int64, error) {
	keyStr := renderKey(naturalKey(def, rec), def)

	// Unique current-row backstop, honoring staged closes.
	closing := make(map[int64]bool, len(t.closes))
	for _, c := range t.closes {
		closing[c.surrogate] = true
	}
	for _, row := range t.store.tables[def.Table] {
		if row.key == keyStr && row.isCurrent && !closing[row.surrogate] {
			return 0, &pgconn.PgError{
				Code:           "23505",
				ConstraintName: def.Table + "_current_key",
			}
		}
	}

	t.store.nextSK++
	row := &memRow{
		surrogate: t.store.nextSK,
		key:       keyStr,
		rec:       rec,
		meta:      meta,
		isCurrent: true,
	}
	t.adds = append(t.adds, stagedAdd{table: def.Table, row: row})
	return row.surrogate, nil
}

func (t *memTx) commit() {
	for _, c := range t.closes {
		for _, rows := range t.store.tables {
			for _, r := range rows {
				if r.surrogate == c.surrogate && r.isCurrent {
					at := c.at
					r.effectiveTo = &at
					r.isCurrent = false
				}
			}
		}
	}
	for _, add := range t.adds {
		t.store.tables[add.table] = append(t.store.tables[add.table], add.row)
	}
}
