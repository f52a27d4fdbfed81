package evroam

import "github.com/eeca-nz/evroam-ingest/internal/entity"

func init() {
	registerAvailabilities()
}

func registerAvailabilities() {
	entity.Register(entity.Definition{
		Tag:             "availabilities",
		Label:           "Availabilities",
		Table:           "evroam_availabilities",
		SurrogateColumn: "surrogate_key",
		// Each status update is about "the current availability of this
		// station", so history is keyed by station alone.
		NaturalKey: []string{"ChargingStationId"},
		KeyFields:  []string{"ChargingStationId", "AvailabilityStatus", "AvailabilityTime"},
		Fields: []entity.FieldSpec{
			{Name: "ChargingStationId", Column: "charging_station_id", Type: entity.FieldText, Required: true},
			{Name: "AvailabilityStatus", Column: "availability_status", Type: entity.FieldText, Required: true},
			{Name: "AvailabilityTime", Column: "availability_time", Type: entity.FieldTimestamp, Required: true},
			{Name: "KwAvailable", Column: "kw_available", Type: entity.FieldNumeric},
			{Name: "Operator", Column: "operator", Type: entity.FieldText},
			{Name: "DataStewardEmail", Column: "data_steward_email", Type: entity.FieldText},
			{Name: "Deleted", Column: "deleted", Type: entity.FieldBool},
		},
	})
}
