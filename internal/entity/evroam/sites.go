package evroam

import "github.com/eeca-nz/evroam-ingest/internal/entity"

func init() {
	registerSites()
}

func registerSites() {
	entity.Register(entity.Definition{
		Tag:             "sites",
		Label:           "Sites",
		Table:           "evroam_sites",
		SurrogateColumn: "surrogate_key",
		NaturalKey:      []string{"SiteId"},
		KeyFields:       []string{"SiteId"},
		Fields: []entity.FieldSpec{
			{Name: "SiteId", Column: "site_id", Type: entity.FieldText, Required: true},
			{Name: "Name", Column: "name", Type: entity.FieldText, Required: true},
			{Name: "Address", Column: "address", Type: entity.FieldText, Required: true},
			{Name: "Operator", Column: "operator", Type: entity.FieldText},
			{Name: "AccessLocations", Column: "access_locations", Type: entity.FieldText},
			{Name: "CarParkCount", Column: "car_park_count", Type: entity.FieldInteger},
			{Name: "HasCarparkCost", Column: "has_carpark_cost", Type: entity.FieldBool},
			{Name: "HasTouristAttraction", Column: "has_tourist_attraction", Type: entity.FieldBool},
			{Name: "Is24Hours", Column: "is_24_hours", Type: entity.FieldBool},
			{Name: "MaxTimeLimit", Column: "max_time_limit", Type: entity.FieldText},
			{Name: "DataStewardEmail", Column: "data_steward_email", Type: entity.FieldText},
			{Name: "Deleted", Column: "deleted", Type: entity.FieldBool},
			{Name: "ProviderDeleted", Column: "provider_deleted", Type: entity.FieldBool},
		},
	})
}
