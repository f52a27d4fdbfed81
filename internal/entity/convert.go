package entity

// convert.go maps JSON-decoded vendor values onto PostgreSQL types.
//
// Vendor feeds are inconsistent about typing: booleans arrive as bools,
// "true"/"false" strings, or 0/1; numbers arrive as JSON numbers or
// strings; timestamps arrive in several layouts. All ToPg* functions
// return pgtype values with Valid=false for nil/empty/unparseable input,
// letting the database store NULLs.

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToPgText converts a value to pgtype.Text.
// Returns invalid for nil or whitespace-only strings.
func ToPgText(v any) pgtype.Text {
	switch t := v.(type) {
	case nil:
		return pgtype.Text{}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return pgtype.Text{}
		}
		return pgtype.Text{String: s, Valid: true}
	case bool:
		return pgtype.Text{String: strconv.FormatBool(t), Valid: true}
	case float64:
		return pgtype.Text{String: formatFloat(t), Valid: true}
	default:
		return pgtype.Text{}
	}
}

// ToPgInt converts a value to pgtype.Int8.
// Accepts JSON numbers with no fractional part and numeric strings.
func ToPgInt(v any) pgtype.Int8 {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return pgtype.Int8{}
		}
		return pgtype.Int8{Int64: int64(t), Valid: true}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return pgtype.Int8{}
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return pgtype.Int8{}
		}
		return pgtype.Int8{Int64: i, Valid: true}
	default:
		return pgtype.Int8{}
	}
}

// ToPgFloat converts a value to pgtype.Float8.
func ToPgFloat(v any) pgtype.Float8 {
	switch t := v.(type) {
	case float64:
		return pgtype.Float8{Float64: t, Valid: true}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return pgtype.Float8{}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pgtype.Float8{}
		}
		return pgtype.Float8{Float64: f, Valid: true}
	default:
		return pgtype.Float8{}
	}
}

// ToPgBool converts a value to pgtype.Bool.
// Accepts bools, 0/1 numbers, and the usual string spellings.
func ToPgBool(v any) pgtype.Bool {
	switch t := v.(type) {
	case bool:
		return pgtype.Bool{Bool: t, Valid: true}
	case float64:
		if t == 0 {
			return pgtype.Bool{Bool: false, Valid: true}
		}
		if t == 1 {
			return pgtype.Bool{Bool: true, Valid: true}
		}
		return pgtype.Bool{}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "yes", "y", "1":
			return pgtype.Bool{Bool: true, Valid: true}
		case "false", "f", "no", "n", "0":
			return pgtype.Bool{Bool: false, Valid: true}
		default:
			return pgtype.Bool{}
		}
	default:
		return pgtype.Bool{}
	}
}

// ToPgTimestamp converts a value to pgtype.Timestamptz.
// String values are tried against the known vendor layouts; layouts
// without a zone are interpreted as UTC.
func ToPgTimestamp(v any) pgtype.Timestamptz {
	switch t := v.(type) {
	case time.Time:
		return pgtype.Timestamptz{Time: t, Valid: true}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return pgtype.Timestamptz{}
		}
		for _, layout := range timestampLayouts {
			parsed, err := time.ParseInLocation(layout, s, time.UTC)
			if err == nil {
				return pgtype.Timestamptz{Time: parsed, Valid: true}
			}
		}
		return pgtype.Timestamptz{}
	default:
		return pgtype.Timestamptz{}
	}
}

// PgValue converts a raw vendor value to the pgtype value matching the
// field's declared type. The result is suitable as a pgx query argument.
func PgValue(spec FieldSpec, v any) any {
	switch spec.Type {
	case FieldInteger:
		return ToPgInt(v)
	case FieldNumeric:
		return ToPgFloat(v)
	case FieldBool:
		return ToPgBool(v)
	case FieldTimestamp:
		return ToPgTimestamp(v)
	default:
		return ToPgText(v)
	}
}

// formatFloat renders a JSON number the shortest way that round-trips.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
