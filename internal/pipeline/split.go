package pipeline

import "github.com/eeca-nz/evroam-ingest/internal/canonical"

// Charging-station feeds embed availability readings in the same rows.
// These columns are projected into a standalone availability set and the
// reading-specific ones removed from the station records afterwards.
var (
	availabilityFields = []string{
		"Operator",
		"ChargingStationId",
		"AvailabilityStatus",
		"KwAvailable",
		"AvailabilityTime",
	}
	availabilityOnlyFields = []string{
		"AvailabilityStatus",
		"KwAvailable",
		"AvailabilityTime",
	}
)

// hasAvailabilityColumns reports whether any record of the set carries
// an availability reading.
func hasAvailabilityColumns(records []canonical.Record) bool {
	for _, rec := range records {
		for _, f := range availabilityOnlyFields {
			if _, ok := rec[f]; ok {
				return true
			}
		}
	}
	return false
}

// splitAvailability separates embedded availability readings from a
// charging-station set. It returns the station records with the
// reading columns removed and the projected availability records.
// Station records without a reading still appear in the availability
// set; the validity filter drops them there for missing key fields.
//
// The split operates on normalized records only, before any
// deduplication or validation.
func splitAvailability(records []canonical.Record) (stations, avail []canonical.Record) {
	if !hasAvailabilityColumns(records) {
		return records, nil
	}

	stations = make([]canonical.Record, len(records))
	avail = make([]canonical.Record, len(records))
	for i, rec := range records {
		avail[i] = rec.Project(availabilityFields)
		stations[i] = rec.Without(availabilityOnlyFields)
	}
	return stations, avail
}
