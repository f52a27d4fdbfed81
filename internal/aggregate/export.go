package aggregate

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
)

// Snapshotter provides the current rows of an entity. *store.PgStore
// satisfies it.
type Snapshotter interface {
	CurrentRecords(ctx context.Context, def entity.Definition) ([]canonical.Record, error)
}

// exportNames fixes the snapshot file name per feed. Downstream
// consumers pick the files up by these names.
var exportNames = map[string]string{
	"sites":            "EVRoam_01_Sites.csv",
	"chargingstations": "EVRoam_02_ChargingStations.csv",
	"availabilities":   "EVRoam_03_Availabilities.csv",
	"connectors":       "EVRoam_04_Connectors.csv",
}

// Exporter writes per-entity CSV snapshots of current rows.
type Exporter struct {
	snapshots Snapshotter
	out       BlobStore
	log       *slog.Logger
}

func NewExporter(snapshots Snapshotter, out BlobStore) *Exporter {
	return &Exporter{snapshots: snapshots, out: out, log: slog.Default()}
}

// ExportAll writes one snapshot file per registered entity. Entities
// are independent: one failing export does not skip the rest.
func (e *Exporter) ExportAll(ctx context.Context) error {
	var firstErr error
	for _, def := range entity.All() {
		if err := e.export(ctx, def); err != nil {
			e.log.Error("snapshot export failed", "entity", def.Tag, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Exporter) export(ctx context.Context, def entity.Definition) error {
	records, err := e.snapshots.CurrentRecords(ctx, def)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(def.FieldNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(def.Fields))
	for _, rec := range records {
		for i, f := range def.Fields {
			row[i] = formatValue(rec[f.Name])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	name, ok := exportNames[def.Tag]
	if !ok {
		name = def.Tag + ".csv"
	}
	if err := e.out.Write(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	e.log.Info("snapshot exported", "entity", def.Tag, "file", name, "rows", len(records))
	return nil
}

// formatValue renders a record value for CSV output.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
