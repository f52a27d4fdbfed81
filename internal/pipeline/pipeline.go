// Package pipeline runs raw vendor record sets through normalization,
// classification, the availability split, deduplication, and the
// temporal upsert engine. It is the single entry point shared by the
// webhook listener, the API pollers, and the staging aggregator.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/eeca-nz/evroam-ingest/internal/scd"
	"github.com/google/uuid"
)

// Upserter is the slice of the upsert engine the pipeline needs.
type Upserter interface {
	UpsertBatch(ctx context.Context, def entity.Definition, records []canonical.Record, batchID uuid.UUID) (*scd.BatchReport, error)
}

// SetResult reports the outcome of one typed record set within a run.
type SetResult struct {
	Entity     string
	Invalid    int      // dropped for missing key fields
	Duplicates int      // collapsed same-key records
	Unknown    []string // canonical fields no field spec covers, never persisted
	Batch      *scd.BatchReport
}

// Report summarizes one pipeline run. A single source set can produce
// multiple typed sets when availability readings are split out of a
// charging-station feed.
type Report struct {
	BatchID    uuid.UUID
	Hint       string
	Collisions []canonical.Collision
	Sets       []SetResult
}

// Records returns the total number of records the run attempted to
// upsert across all typed sets.
func (r *Report) Records() int {
	n := 0
	for _, s := range r.Sets {
		if s.Batch != nil {
			n += s.Batch.Total
		}
	}
	return n
}

// Failed returns the total number of per-record failures across sets.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sets {
		if s.Batch != nil {
			n += s.Batch.Failed()
		}
	}
	return n
}

// Pipeline wires the normalizer, registry, and upsert engine together.
type Pipeline struct {
	engine Upserter
	log    *slog.Logger
}

func New(engine Upserter) *Pipeline {
	return &Pipeline{engine: engine, log: slog.Default()}
}

// WithLogger returns a copy of the pipeline using the given logger.
func (p *Pipeline) WithLogger(log *slog.Logger) *Pipeline {
	return &Pipeline{engine: p.engine, log: log}
}

// typedSet is a classified record set awaiting dedup and upsert.
type typedSet struct {
	def     entity.Definition
	records []canonical.Record
}

// ProcessRaw ingests one raw record set. The hint identifies the feed
// (a blob name, data URL, or feed label) and is matched against the
// registered entity tags; an unmatched hint rejects the whole set.
//
// Each run gets a fresh batch id stamped on every row it writes. The
// returned report covers everything that happened; the error is non-nil
// only when the set was rejected outright or the store became
// unreachable mid-run.
func (p *Pipeline) ProcessRaw(ctx context.Context, hint string, raws []map[string]any) (*Report, error) {
	batchID := uuid.New()
	report := &Report{BatchID: batchID, Hint: hint}

	def, ok := entity.Classify(hint)
	if !ok {
		return report, &UnclassifiableError{Hint: hint}
	}

	records, collisions := canonical.Normalize(raws)
	report.Collisions = collisions
	for _, c := range collisions {
		p.log.Warn("field name collision",
			"hint", hint,
			"canonical", c.Canonical,
			"kept", c.Kept,
			"dropped", c.Dropped,
		)
	}

	sets, err := p.classify(def, records)
	if err != nil {
		return report, err
	}

	for _, set := range sets {
		res, err := p.processSet(ctx, set, batchID)
		report.Sets = append(report.Sets, res)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// classify turns the normalized records into ordered typed sets.
// Charging-station sets with embedded readings split in two; the
// availability set runs after the station set so a batch from the
// native availability feed and a split-off one behave the same.
func (p *Pipeline) classify(def entity.Definition, records []canonical.Record) ([]typedSet, error) {
	if def.Tag != "chargingstations" {
		return []typedSet{{def: def, records: records}}, nil
	}

	stations, avail := splitAvailability(records)
	sets := []typedSet{{def: def, records: stations}}
	if len(avail) > 0 {
		availDef, ok := entity.Get("availabilities")
		if !ok {
			return nil, fmt.Errorf("availability entity not registered")
		}
		sets = append(sets, typedSet{def: availDef, records: avail})
	}
	return sets, nil
}

func (p *Pipeline) processSet(ctx context.Context, set typedSet, batchID uuid.UUID) (SetResult, error) {
	res := SetResult{Entity: set.def.Tag}

	if unknown := unknownFields(set.def, set.records); len(unknown) > 0 {
		res.Unknown = unknown
		p.log.Warn("unmapped fields ignored",
			"entity", set.def.Tag,
			"batch_id", batchID,
			"fields", unknown,
		)
	}

	valid, invalid := filterValid(set.def, set.records)
	res.Invalid = invalid

	deduped, duplicates := dedup(set.def, valid)
	res.Duplicates = duplicates

	batch, upsertErr := p.engine.UpsertBatch(ctx, set.def, deduped, batchID)
	res.Batch = batch

	if batch != nil {
		p.log.Info("record set processed",
			"entity", set.def.Tag,
			"batch_id", batchID,
			"received", len(set.records),
			"invalid", invalid,
			"duplicates", duplicates,
			"inserted", batch.Inserted,
			"updated", batch.Updated,
			"unchanged", batch.Unchanged,
			"failed", batch.Failed(),
		)
	}
	if upsertErr != nil {
		return res, fmt.Errorf("upsert %s: %w", set.def.Tag, upsertErr)
	}
	return res, nil
}

// unknownFields collects the canonical field names across a set that
// the entity definition has no spec for. They are reported rather than
// silently dropped; the store and hash only ever see mapped fields.
func unknownFields(def entity.Definition, records []canonical.Record) []string {
	var seen map[string]bool
	var out []string
	for _, rec := range records {
		for name := range rec {
			if _, ok := def.Field(name); ok || seen[name] {
				continue
			}
			if seen == nil {
				seen = make(map[string]bool)
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
