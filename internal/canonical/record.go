// Package canonical turns raw heterogeneous vendor records into records
// with one deterministic field-naming convention (UpperCamelCase, no
// separator characters). It performs no I/O.
package canonical

// Record is a flat canonical record: field names follow the canonical
// naming convention, values are the JSON-decoded vendor values.
type Record map[string]any

// Has reports whether the record carries a usable value for the field.
// nil and empty-string values count as absent.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// Project returns a new record containing only the given fields.
// Fields absent from the source are absent from the result.
func (r Record) Project(fields []string) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Without returns a new record with the given fields removed.
func (r Record) Without(fields []string) Record {
	drop := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		drop[f] = struct{}{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		if _, skip := drop[k]; !skip {
			out[k] = v
		}
	}
	return out
}
