package evroam

import "github.com/eeca-nz/evroam-ingest/internal/entity"

func init() {
	registerChargingStations()
}

func registerChargingStations() {
	entity.Register(entity.Definition{
		Tag:             "chargingstations",
		Label:           "Charging Stations",
		Table:           "evroam_charging_stations",
		SurrogateColumn: "surrogate_key",
		NaturalKey:      []string{"ChargingStationId"},
		KeyFields:       []string{"ChargingStationId"},
		Fields: []entity.FieldSpec{
			{Name: "ChargingStationId", Column: "charging_station_id", Type: entity.FieldText, Required: true},
			{Name: "SiteId", Column: "site_id", Type: entity.FieldText, Required: true},
			{Name: "Owner", Column: "owner", Type: entity.FieldText, Required: true},
			{Name: "InstallationStatus", Column: "installation_status", Type: entity.FieldText, Required: true},
			{Name: "Operator", Column: "operator", Type: entity.FieldText},
			{Name: "AssetId", Column: "asset_id", Type: entity.FieldText},
			{Name: "Connectors", Column: "connectors", Type: entity.FieldText},
			{Name: "Current", Column: "current_type", Type: entity.FieldText},
			{Name: "DateFirstOperational", Column: "date_first_operational", Type: entity.FieldTimestamp},
			{Name: "FloorLevel", Column: "floor_level", Type: entity.FieldText},
			{Name: "HasChargingCost", Column: "has_charging_cost", Type: entity.FieldBool},
			{Name: "Images", Column: "images", Type: entity.FieldText},
			{Name: "KwRated", Column: "kw_rated", Type: entity.FieldInteger},
			{Name: "LocationLat", Column: "location_lat", Type: entity.FieldNumeric},
			{Name: "LocationLon", Column: "location_lon", Type: entity.FieldNumeric},
			{Name: "Manufacturer", Column: "manufacturer", Type: entity.FieldText},
			{Name: "Model", Column: "model", Type: entity.FieldText},
			{Name: "NextPlannedOutage", Column: "next_planned_outage", Type: entity.FieldTimestamp},
			{Name: "DataStewardEmail", Column: "data_steward_email", Type: entity.FieldText},
			{Name: "Deleted", Column: "deleted", Type: entity.FieldBool},
			{Name: "ProviderDeleted", Column: "provider_deleted", Type: entity.FieldBool},
		},
	})
}
