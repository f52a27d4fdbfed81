package scd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/google/uuid"
)

// Outcome describes what an upsert did.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"  // first-ever version for the key
	OutcomeUpdated   Outcome = "updated"   // previous version closed, new version opened
	OutcomeUnchanged Outcome = "unchanged" // identical content, no write
)

// UpsertResult is the successful result of one record's upsert. The
// surrogate key identifies the current row for the record's natural key,
// whether or not a write happened.
type UpsertResult struct {
	SurrogateKey int64
	Outcome      Outcome
}

// Failure reports one record of a batch that could not be upserted.
type Failure struct {
	Index int
	Key   string
	Err   error
}

// BatchReport summarizes the processing of one record set. Records fail
// independently; one failure never aborts the rest of the batch.
type BatchReport struct {
	Entity    string
	BatchID   uuid.UUID
	Total     int
	Inserted  int
	Updated   int
	Unchanged int
	Failures  []Failure
}

// Failed returns the number of records that did not reach the store.
func (r *BatchReport) Failed() int { return len(r.Failures) }

// Engine is the SCD Type-2 temporal upsert engine. It owns the only
// mutual-exclusion guarantee in the system, provided through the store
// transaction rather than in-process locking, so independent ingestion
// processes stay safe against each other.
type Engine struct {
	store Store
	retry RetryPolicy
	now   func() time.Time
	log   *slog.Logger
}

// NewEngine creates an Engine on top of a Store.
func NewEngine(store Store, retry RetryPolicy) *Engine {
	return &Engine{
		store: store,
		retry: retry,
		now:   time.Now,
		log:   slog.Default(),
	}
}

// Upsert merges one canonical, deduplicated record into the entity's
// history:
//
//   - identical content (by hash): no write, the existing current row's
//     surrogate key is returned
//   - changed content: the current row is closed and a successor row
//     opened, both inside one transaction
//   - no current row: a first version is inserted
//
// Transient store errors and current-row insert races are retried a
// bounded number of times with backoff; validation errors are not.
func (e *Engine) Upsert(ctx context.Context, def entity.Definition, rec canonical.Record, batchID uuid.UUID) (UpsertResult, error) {
	if missing := missingRequired(def, rec); len(missing) > 0 {
		return UpsertResult{}, &ValidationError{Entity: def.Tag, Missing: missing}
	}

	key := naturalKey(def, rec)
	hash := HashRecord(def, rec)

	var result UpsertResult
	attempts, err := e.withRetry(ctx, func() error {
		return e.store.InTx(ctx, func(tx Tx) error {
			current, err := tx.LockCurrent(ctx, def, key)
			if err != nil {
				return err
			}

			now := e.now().UTC()

			if current != nil && bytes.Equal(current.HashKey, hash) {
				result = UpsertResult{SurrogateKey: current.SurrogateKey, Outcome: OutcomeUnchanged}
				return nil
			}

			meta := RowMeta{
				HashKey:       hash,
				EffectiveFrom: now,
				BatchID:       batchID,
				DMLType:       'I',
				ExternalID:    renderKey(key, def),
			}
			outcome := OutcomeInserted

			if current != nil {
				if err := tx.CloseRow(ctx, def, current.SurrogateKey, now); err != nil {
					return err
				}
				meta.DMLType = 'U'
				outcome = OutcomeUpdated
			}

			sk, err := tx.InsertRow(ctx, def, rec, meta)
			if err != nil {
				return err
			}
			result = UpsertResult{SurrogateKey: sk, Outcome: outcome}
			return nil
		})
	})
	if err != nil {
		if IsInvariantViolation(err) {
			iv := &InvariantViolationError{Entity: def.Tag, Key: renderKey(key, def), Err: err}
			e.log.Error("current-row invariant still violated after retries",
				"entity", def.Tag,
				"key", iv.Key,
				"attempts", attempts,
				"error", err,
			)
			return UpsertResult{}, iv
		}
		if IsTransient(err) {
			return UpsertResult{}, &TransientError{Attempts: attempts, Err: err}
		}
		return UpsertResult{}, err
	}
	return result, nil
}

// UpsertBatch upserts each record of a deduplicated set independently.
// Per-record failures are collected in the report; only exhaustion of
// the transient-error retries escalates as a batch-level error, since it
// means the store is unreachable and the remaining records would fail
// the same way.
func (e *Engine) UpsertBatch(ctx context.Context, def entity.Definition, records []canonical.Record, batchID uuid.UUID) (*BatchReport, error) {
	report := &BatchReport{Entity: def.Tag, BatchID: batchID, Total: len(records)}

	for i, rec := range records {
		res, err := e.Upsert(ctx, def, rec, batchID)
		if err != nil {
			report.Failures = append(report.Failures, Failure{
				Index: i,
				Key:   renderKey(naturalKey(def, rec), def),
				Err:   err,
			})

			var transient *TransientError
			if errors.As(err, &transient) {
				return report, transient
			}
			continue
		}

		switch res.Outcome {
		case OutcomeInserted:
			report.Inserted++
		case OutcomeUpdated:
			report.Updated++
		case OutcomeUnchanged:
			report.Unchanged++
		}
	}
	return report, nil
}

// missingRequired returns the required fields the record lacks a usable
// value for.
func missingRequired(def entity.Definition, rec canonical.Record) []string {
	var missing []string
	for _, name := range def.RequiredFields() {
		if !rec.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// naturalKey extracts the record's natural-key values as strings.
func naturalKey(def entity.Definition, rec canonical.Record) map[string]string {
	key := make(map[string]string, len(def.NaturalKey))
	for _, name := range def.NaturalKey {
		key[name] = renderValue(rec[name])
	}
	return key
}

// renderKey renders a natural key for logs and reports, with components
// in the definition's key order.
func renderKey(key map[string]string, def entity.Definition) string {
	parts := make([]string, len(def.NaturalKey))
	for i, name := range def.NaturalKey {
		parts[i] = key[name]
	}
	return strings.Join(parts, "|")
}
