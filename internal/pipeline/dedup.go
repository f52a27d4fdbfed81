package pipeline

import (
	"fmt"
	"strings"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
)

// filterValid drops records lacking a usable value for any of the
// entity's key fields. Such records have no upsert identity and can
// never be historized.
func filterValid(def entity.Definition, records []canonical.Record) (kept []canonical.Record, dropped int) {
	kept = make([]canonical.Record, 0, len(records))
	for _, rec := range records {
		valid := true
		for _, f := range def.KeyFields {
			if !rec.Has(f) {
				valid = false
				break
			}
		}
		if !valid {
			dropped++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, dropped
}

// dedup collapses records sharing the entity's key fields, keeping the
// last occurrence in set order. Feeds emit snapshots, so a later record
// for the same key supersedes an earlier one within the same set. For
// availabilities the key fields include status and reading time, so two
// distinct readings for one station both survive and both enter history
// in set order.
func dedup(def entity.Definition, records []canonical.Record) (kept []canonical.Record, duplicates int) {
	seen := make(map[string]int, len(records))
	kept = make([]canonical.Record, 0, len(records))
	for _, rec := range records {
		key := dedupKey(def, rec)
		if at, dup := seen[key]; dup {
			kept[at] = rec
			duplicates++
			continue
		}
		seen[key] = len(kept)
		kept = append(kept, rec)
	}
	return kept, duplicates
}

func dedupKey(def entity.Definition, rec canonical.Record) string {
	parts := make([]string, len(def.KeyFields))
	for i, f := range def.KeyFields {
		switch v := rec[f].(type) {
		case string:
			parts[i] = v
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, "\x1f")
}
