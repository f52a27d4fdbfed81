package evroam

import "github.com/eeca-nz/evroam-ingest/internal/entity"

func init() {
	registerConnectors()
}

func registerConnectors() {
	entity.Register(entity.Definition{
		Tag:             "connectors",
		Label:           "Connectors",
		Table:           "evroam_connectors",
		SurrogateColumn: "surrogate_key",
		NaturalKey:      []string{"ChargingStationId", "ConnectorId"},
		KeyFields:       []string{"ChargingStationId", "ConnectorId"},
		Fields: []entity.FieldSpec{
			{Name: "ChargingStationId", Column: "charging_station_id", Type: entity.FieldText, Required: true},
			{Name: "ConnectorId", Column: "connector_id", Type: entity.FieldText, Required: true},
			{Name: "ConnectorType", Column: "connector_type", Type: entity.FieldText, Required: true},
			{Name: "OperationStatus", Column: "operation_status", Type: entity.FieldText, Required: true},
		},
	})
}
