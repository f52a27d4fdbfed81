// Package store binds the temporal upsert engine to PostgreSQL. All
// table and column names come from the entity registry; queries are
// assembled from registry metadata with every identifier quoted and
// every value bound.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/eeca-nz/evroam-ingest/internal/scd"
)

// PgStore implements the engine's store boundary on a pgx pool.
// Concurrent writers on the same natural key serialize on the row lock
// taken by LockCurrent; the partial unique index on each historized
// table backstops the at-most-one-current-row invariant.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// InTx runs fn inside one transaction, rolling back on any error.
func (s *PgStore) InTx(ctx context.Context, fn func(tx scd.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockCurrent selects the current row for the natural key with
// FOR UPDATE so a concurrent writer for the same key blocks until this
// transaction commits or rolls back.
func (t *pgTx) LockCurrent(ctx context.Context, def entity.Definition, key map[string]string) (*scd.CurrentRow, error) {
	conds := make([]string, 0, len(def.NaturalKey))
	args := make([]any, 0, len(def.NaturalKey))
	for i, field := range def.NaturalKey {
		col, ok := def.ColumnFor(field)
		if !ok {
			return nil, fmt.Errorf("entity %s: natural key field %s has no column", def.Tag, field)
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteIdentifier(col), i+1))
		args = append(args, key[field])
	}

	query := fmt.Sprintf(
		"SELECT %s, hash_key, effective_from FROM %s WHERE %s AND is_current FOR UPDATE",
		quoteIdentifier(def.SurrogateColumn),
		quoteIdentifier(def.Table),
		strings.Join(conds, " AND "),
	)

	var row scd.CurrentRow
	err := t.tx.QueryRow(ctx, query, args...).Scan(&row.SurrogateKey, &row.HashKey, &row.EffectiveFrom)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock current row in %s: %w", def.Table, err)
	}
	return &row, nil
}

// CloseRow ends a current row's validity. The is_current guard makes a
// second close of the same row fail instead of silently rewriting a
// closed row.
func (t *pgTx) CloseRow(ctx context.Context, def entity.Definition, surrogateKey int64, at time.Time) error {
	query := fmt.Sprintf(
		"UPDATE %s SET effective_to = $1, is_current = FALSE, watermark = now() WHERE %s = $2 AND is_current",
		quoteIdentifier(def.Table),
		quoteIdentifier(def.SurrogateColumn),
	)
	ct, err := t.tx.Exec(ctx, query, at, surrogateKey)
	if err != nil {
		return fmt.Errorf("close row %d in %s: %w", surrogateKey, def.Table, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("close row %d in %s: row is not current", surrogateKey, def.Table)
	}
	return nil
}

// InsertRow inserts a new current row. Every business field of the
// definition gets a column; fields absent from the record insert NULL.
func (t *pgTx) InsertRow(ctx context.Context, def entity.Definition, rec canonical.Record, meta scd.RowMeta) (int64, error) {
	cols := make([]string, 0, len(def.Fields)+6)
	args := make([]any, 0, len(def.Fields)+6)

	for _, f := range def.Fields {
		cols = append(cols, quoteIdentifier(f.Column))
		args = append(args, entity.PgValue(f, rec[f.Name]))
	}

	cols = append(cols, "hash_key", "effective_from", "is_current", "batch_id", "dml_type", "external_id")
	args = append(args,
		meta.HashKey,
		meta.EffectiveFrom,
		true,
		pgtype.UUID{Bytes: meta.BatchID, Valid: true},
		string(meta.DMLType),
		meta.ExternalID,
	)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteIdentifier(def.Table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		quoteIdentifier(def.SurrogateColumn),
	)

	var surrogateKey int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&surrogateKey); err != nil {
		return 0, fmt.Errorf("insert row into %s: %w", def.Table, err)
	}
	return surrogateKey, nil
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
