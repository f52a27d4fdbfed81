package scd

import (
	"crypto/sha256"
	"encoding/json"
	"math"
	"strconv"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
)

// Field and value bytes are separated by ASCII unit/record separators so
// neighbouring fields can never be confused for one another.
const (
	unitSep   = 0x1f
	recordSep = 0x1e
)

// HashRecord computes the SHA-256 content hash over all of the entity's
// non-metadata fields. Fields are folded in definition order; fields
// absent from the record hash as empty. The hash is a pure function of
// the field values: identical content always produces an identical hash.
func HashRecord(def entity.Definition, rec canonical.Record) []byte {
	h := sha256.New()
	for _, name := range def.FieldNames() {
		h.Write([]byte(name))
		h.Write([]byte{unitSep})
		h.Write([]byte(renderValue(rec[name])))
		h.Write([]byte{recordSep})
	}
	return h.Sum(nil)
}

// renderValue produces a canonical string form of a JSON-decoded value
// for hashing and key rendering.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		// Arrays and nested objects the flattener kept as values.
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
