package canonical

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// separatorChars are stripped from source field names during
// canonicalization. Each occurrence becomes a token boundary.
const separatorChars = " .-()/"

// Collision records two distinct source field names that canonicalize to
// the same name within one record. The value of Kept wins; Dropped is
// discarded from the record and the collision is reported upstream.
type Collision struct {
	Canonical string
	Kept      string
	Dropped   string
}

// CanonicalName converts a source field name to the canonical convention:
// every separator character becomes a token boundary, each token gets an
// upper-case first letter, and the tokens are concatenated.
//
// The transform is deterministic and idempotent: canonical names pass
// through unchanged.
func CanonicalName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(separatorChars, r) {
			return ' '
		}
		return r
	}, name)

	var b strings.Builder
	b.Grow(len(mapped))
	for _, tok := range strings.Fields(mapped) {
		r, size := utf8.DecodeRuneInString(tok)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(tok[size:])
	}
	return b.String()
}

// Flatten converts an arbitrarily nested JSON object into a flat map with
// dotted paths ("location": {"lat": 1} becomes "location.lat": 1).
// Arrays are kept as values; only objects are descended into.
func Flatten(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out map[string]any, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// NormalizeRecord flattens one raw record and canonicalizes its field
// names. When two distinct source names collide on the same canonical
// name, the first source name in lexicographic order is kept and the
// rest are dropped and reported; canonicalization never silently merges
// fields.
func NormalizeRecord(raw map[string]any) (Record, []Collision) {
	flat := Flatten(raw)

	// Sort source names so the collision winner is deterministic.
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := make(Record, len(flat))
	source := make(map[string]string, len(flat))
	var collisions []Collision

	for _, name := range names {
		canon := CanonicalName(name)
		if prev, exists := source[canon]; exists {
			collisions = append(collisions, Collision{
				Canonical: canon,
				Kept:      prev,
				Dropped:   name,
			})
			continue
		}
		source[canon] = name
		rec[canon] = flat[name]
	}
	return rec, collisions
}

// Normalize canonicalizes a batch of raw records.
func Normalize(raws []map[string]any) ([]Record, []Collision) {
	records := make([]Record, 0, len(raws))
	var collisions []Collision
	for _, raw := range raws {
		rec, c := NormalizeRecord(raw)
		records = append(records, rec)
		collisions = append(collisions, c...)
	}
	return records, collisions
}
