package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/eeca-nz/evroam-ingest/internal/pipeline"
)

// Processor is the slice of the ingestion pipeline the aggregator
// needs.
type Processor interface {
	ProcessRaw(ctx context.Context, hint string, raws []map[string]any) (*pipeline.Report, error)
}

// feedOrder fixes the ingestion order of a cycle. Stations run before
// availabilities so readings split off a station feed and readings from
// the native availability feed land with consistent ordering; sites run
// first so new stations can reference them in the same cycle.
var feedOrder = []string{"sites", "chargingstations", "availabilities", "connectors"}

// Aggregator drains staged record blobs through the pipeline.
type Aggregator struct {
	staging  BlobStore
	pipeline Processor
	exporter *Exporter // nil disables snapshot export
	maxBlobs int
	interval time.Duration
	log      *slog.Logger
}

func New(staging BlobStore, p Processor, exporter *Exporter, maxBlobs int, interval time.Duration) *Aggregator {
	return &Aggregator{
		staging:  staging,
		pipeline: p,
		exporter: exporter,
		maxBlobs: maxBlobs,
		interval: interval,
		log:      slog.Default(),
	}
}

// Run drains immediately, then on every tick until the context is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.log.Info("aggregator started", "interval", a.interval, "max_blobs", a.maxBlobs)

	a.RunCycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator stopped")
			return
		case <-ticker.C:
			a.RunCycle(ctx)
		}
	}
}

// RunCycle performs one drain: list staged blobs up to the cap, group
// them per feed, ingest each group, and delete a group's blobs only
// after its records are processed. Blobs of a failed group stay for
// the next cycle.
func (a *Aggregator) RunCycle(ctx context.Context) {
	start := time.Now()

	names, err := a.staging.List(ctx)
	if err != nil {
		a.log.Error("staging list failed", "error", err)
		return
	}

	groups := a.groupBlobs(names)

	processed := 0
	for _, feed := range feedOrder {
		blobs := groups[feed]
		if len(blobs) == 0 {
			continue
		}
		if err := a.drainGroup(ctx, feed, blobs); err != nil {
			a.log.Error("feed drain failed", "feed", feed, "blobs", len(blobs), "error", err)
			continue
		}
		processed += len(blobs)
	}

	if processed > 0 && a.exporter != nil {
		if err := a.exporter.ExportAll(ctx); err != nil {
			a.log.Error("snapshot export failed", "error", err)
		}
	}

	a.log.Debug("aggregation cycle completed",
		"blobs_processed", processed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// groupBlobs buckets JSON blob names by the entity tag their name
// matches, respecting the per-cycle cap across all groups.
func (a *Aggregator) groupBlobs(names []string) map[string][]string {
	groups := make(map[string][]string)
	total := 0
	for _, name := range names {
		if total >= a.maxBlobs {
			break
		}
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		def, ok := entity.Classify(name)
		if !ok {
			a.log.Warn("unclassifiable staged blob", "name", name)
			continue
		}
		groups[def.Tag] = append(groups[def.Tag], name)
		total++
	}
	return groups
}

// drainGroup reads one feed's blobs, pipelines their combined records,
// and deletes the blobs on success.
func (a *Aggregator) drainGroup(ctx context.Context, feed string, blobs []string) error {
	var raws []map[string]any
	for _, name := range blobs {
		data, err := a.staging.Read(ctx, name)
		if err != nil {
			return fmt.Errorf("read blob %s: %w", name, err)
		}
		records, err := decodeBlob(data)
		if err != nil {
			return fmt.Errorf("decode blob %s: %w", name, err)
		}
		raws = append(raws, records...)
	}

	report, err := a.pipeline.ProcessRaw(ctx, feed, raws)
	if err != nil {
		return err
	}
	a.log.Info("staged feed ingested",
		"feed", feed,
		"batch_id", report.BatchID,
		"blobs", len(blobs),
		"records", report.Records(),
		"failed", report.Failed(),
	)

	for _, name := range blobs {
		if err := a.staging.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete blob %s: %w", name, err)
		}
	}
	return nil
}

// decodeBlob accepts a JSON array of records or a single record.
func decodeBlob(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var record map[string]any
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	return []map[string]any{record}, nil
}
