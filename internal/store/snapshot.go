package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
)

// CurrentRecords returns the current rows of an entity as canonical
// records, ordered by natural key. Used for the per-entity CSV
// snapshot exports; history rows are never included.
func (s *PgStore) CurrentRecords(ctx context.Context, def entity.Definition) ([]canonical.Record, error) {
	cols := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		cols[i] = quoteIdentifier(f.Column)
	}

	order := make([]string, 0, len(def.NaturalKey))
	for _, field := range def.NaturalKey {
		if col, ok := def.ColumnFor(field); ok {
			order = append(order, quoteIdentifier(col))
		}
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE is_current ORDER BY %s",
		strings.Join(cols, ", "),
		quoteIdentifier(def.Table),
		strings.Join(order, ", "),
	)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query current rows of %s: %w", def.Table, err)
	}
	defer rows.Close()

	var records []canonical.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read current row of %s: %w", def.Table, err)
		}
		rec := make(canonical.Record, len(def.Fields))
		for i, f := range def.Fields {
			if values[i] != nil {
				rec[f.Name] = values[i]
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current rows of %s: %w", def.Table, err)
	}
	return records, nil
}
