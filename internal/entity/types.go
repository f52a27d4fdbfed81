// Package entity defines the closed set of entity types the ingestion
// pipeline can historize. Each Definition carries the entity's natural
// key, required-field set, and table binding; processing is dispatched
// through the registry rather than through type hierarchies.
package entity

// FieldType represents the expected data type for a canonical field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldNumeric
	FieldBool
	FieldTimestamp
)

// FieldSpec describes one business field of an entity.
type FieldSpec struct {
	Name     string    // Canonical field name: "ChargingStationId"
	Column   string    // Database column name: "charging_station_id"
	Type     FieldType // Expected data type
	Required bool      // Field must be present and non-null before any write
}

// Definition contains everything needed to classify, validate, and
// historize one entity type.
type Definition struct {
	Tag             string // Feed discriminator matched against source hints: "sites"
	Label           string // Display name: "Sites"
	Table           string // Historized table: "evroam_sites"
	SurrogateColumn string // Auto-incrementing row identity column

	// NaturalKey lists the canonical field names forming the upsert
	// identity. History chains are keyed by these fields.
	NaturalKey []string

	// KeyFields lists the canonical field names a record must carry a
	// non-null value for to pass the validity filter. Always a superset
	// of NaturalKey.
	KeyFields []string

	Fields []FieldSpec
}

// Field returns the FieldSpec for a canonical field name.
func (d Definition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns all canonical field names in definition order.
// This order is fixed per entity type; the content hash depends on it.
func (d Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// RequiredFields returns the canonical names of all required fields.
func (d Definition) RequiredFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Column returns the database column bound to a canonical field name.
func (d Definition) ColumnFor(name string) (string, bool) {
	f, ok := d.Field(name)
	if !ok {
		return "", false
	}
	return f.Column, true
}
