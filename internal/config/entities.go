package config

import (
	"crudsql/internal/schema"
)

// EntityConfig is the config-file shape of one entity declaration.
type EntityConfig struct {
	Name            string           `mapstructure:"name"`
	Table           string           `mapstructure:"table"`
	PrimaryKey      string           `mapstructure:"primary_key"`
	SoftDeleteField string           `mapstructure:"soft_delete_field"`
	VersionField    string           `mapstructure:"version_field"`
	Fields          []FieldConfig    `mapstructure:"fields"`
	Relations       []RelationConfig `mapstructure:"relations"`
}

// FieldConfig is the config-file shape of one scalar field.
type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Column   string `mapstructure:"column"`
	Type     string `mapstructure:"type"`
	Nullable bool   `mapstructure:"nullable"`
}

// RelationConfig is the config-file shape of one relation declaration.
type RelationConfig struct {
	Name                  string   `mapstructure:"name"`
	Target                string   `mapstructure:"target"`
	Cardinality           string   `mapstructure:"cardinality"`
	LocalColumns          []string `mapstructure:"local_columns"`
	RemoteColumns         []string `mapstructure:"remote_columns"`
	JunctionTable         string   `mapstructure:"junction_table"`
	JunctionLocalColumns  []string `mapstructure:"junction_local_columns"`
	JunctionRemoteColumns []string `mapstructure:"junction_remote_columns"`
	Inverse               string   `mapstructure:"inverse"`
	OnDelete              string   `mapstructure:"on_delete"`
}

// BuildRegistry converts the configured entity declarations into a validated
// schema registry.
func (c *Config) BuildRegistry() (*schema.Registry, error) {
	registry := schema.NewRegistry()
	for _, ec := range c.Entities {
		entity, err := ec.toEntity()
		if err != nil {
			return nil, err
		}
		if err := registry.Add(entity); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (ec EntityConfig) toEntity() (schema.Entity, error) {
	entity := schema.Entity{
		Name:            ec.Name,
		Table:           ec.Table,
		PrimaryKey:      ec.PrimaryKey,
		SoftDeleteField: ec.SoftDeleteField,
		VersionField:    ec.VersionField,
	}
	for _, fc := range ec.Fields {
		ft, err := schema.ParseFieldType(fc.Type)
		if err != nil {
			return schema.Entity{}, err
		}
		entity.Fields = append(entity.Fields, schema.Field{
			Name:     fc.Name,
			Column:   fc.Column,
			Type:     ft,
			Nullable: fc.Nullable,
		})
	}
	for _, rc := range ec.Relations {
		card, err := schema.ParseCardinality(rc.Cardinality)
		if err != nil {
			return schema.Entity{}, err
		}
		entity.Relations = append(entity.Relations, schema.Relation{
			Name:                  rc.Name,
			Target:                rc.Target,
			Cardinality:           card,
			LocalColumns:          rc.LocalColumns,
			RemoteColumns:         rc.RemoteColumns,
			JunctionTable:         rc.JunctionTable,
			JunctionLocalColumns:  rc.JunctionLocalColumns,
			JunctionRemoteColumns: rc.JunctionRemoteColumns,
			Inverse:               rc.Inverse,
			OnDelete:              rc.OnDelete,
		})
	}
	return entity, nil
}
