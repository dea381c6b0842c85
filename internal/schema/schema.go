// Package schema holds the declarative entity metadata consumed by the query
// compiler. Entities register their fields and relations explicitly at
// startup; nothing here relies on reflection.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"crudsql/internal/errs"
)

// Cardinality classifies a single relation hop.
type Cardinality int

const (
	OneToOne Cardinality = iota
	ManyToOne
	OneToMany
	ManyToMany
)

// String returns the config-file spelling of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToMany:
		return "many-to-many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// IsToMany reports whether traversing a hop of this cardinality can multiply
// result rows.
func (c Cardinality) IsToMany() bool {
	return c == OneToMany || c == ManyToMany
}

// ParseCardinality parses the config-file spelling of a cardinality.
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "one-to-one":
		return OneToOne, nil
	case "many-to-one":
		return ManyToOne, nil
	case "one-to-many":
		return OneToMany, nil
	case "many-to-many":
		return ManyToMany, nil
	default:
		return 0, errs.Config("unknown cardinality %q", s)
	}
}

// FieldType is the scalar type of an entity field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeJSON   FieldType = "json"
)

// ParseFieldType parses the config-file spelling of a field type. An empty
// string defaults to TypeString.
func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(s) {
	case "":
		return TypeString, nil
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime, TypeJSON:
		return FieldType(s), nil
	default:
		return "", errs.Config("unknown field type %q", s)
	}
}

// Field describes one scalar column of an entity.
type Field struct {
	Name     string
	Column   string // defaults to Name
	Type     FieldType
	Nullable bool
}

// ColumnName returns the backing column for the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Relation describes a declared relation from one entity to another.
// LocalColumns live on the owning entity's table, RemoteColumns on the
// target's table; the two slices are positional pairs. Many-to-many
// relations additionally carry the junction table and its FK columns.
type Relation struct {
	Name        string
	Target      string
	Cardinality Cardinality

	LocalColumns  []string
	RemoteColumns []string

	JunctionTable         string
	JunctionLocalColumns  []string
	JunctionRemoteColumns []string

	// Inverse names the relation on the target pointing back here. Informational.
	Inverse string
	// OnDelete records the configured cascade behavior. Informational.
	OnDelete string
}

// Entity is the static description of one record type.
type Entity struct {
	Name  string
	Table string

	// PrimaryKey names the field (not column) acting as the primary key.
	PrimaryKey string

	// SoftDeleteField, when set, names a nullable time field that marks
	// soft-deleted rows. VersionField, when set, names an int field used
	// for optimistic version checks on update.
	SoftDeleteField string
	VersionField    string

	Fields    []Field
	Relations []Relation
}

// Field returns the named field, if declared.
func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Relation returns the named relation, if declared.
func (e Entity) Relation(name string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Column resolves a field name to its backing column.
func (e Entity) Column(fieldName string) (string, bool) {
	f, ok := e.Field(fieldName)
	if !ok {
		return "", false
	}
	return f.ColumnName(), true
}

// PrimaryKeyColumn returns the backing column of the primary key field.
func (e Entity) PrimaryKeyColumn() string {
	if col, ok := e.Column(e.PrimaryKey); ok {
		return col
	}
	return e.PrimaryKey
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a bare SQL alias.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Registry is the set of registered entities. It is built once at startup
// and read-only afterwards.
type Registry struct {
	entities map[string]Entity
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]Entity)}
}

// Add registers an entity after validating its own shape. Cross-entity
// references are checked later by Validate, once all entities are present.
func (r *Registry) Add(e Entity) error {
	if e.Name == "" {
		return errs.Config("entity is missing a name")
	}
	if !ValidIdentifier(e.Name) {
		return errs.Config("entity name %q is not a valid identifier", e.Name)
	}
	if _, dup := r.entities[e.Name]; dup {
		return errs.Config("entity %s registered twice", e.Name)
	}
	if e.Table == "" {
		return errs.Config("entity %s is missing a table", e.Name)
	}
	if e.PrimaryKey == "" {
		return errs.Config("entity %s is missing a primary key", e.Name)
	}
	if _, ok := e.Field(e.PrimaryKey); !ok {
		return errs.Config("entity %s: primary key %s is not a declared field", e.Name, e.PrimaryKey)
	}
	seen := make(map[string]struct{}, len(e.Fields)+len(e.Relations))
	for _, f := range e.Fields {
		if f.Name == "" {
			return errs.Config("entity %s has an unnamed field", e.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return errs.Config("entity %s: field %s declared twice", e.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	for _, rel := range e.Relations {
		if rel.Name == "" {
			return errs.Config("entity %s has an unnamed relation", e.Name)
		}
		if _, dup := seen[rel.Name]; dup {
			return errs.Config("entity %s: %s declared as both field and relation", e.Name, rel.Name)
		}
		seen[rel.Name] = struct{}{}
		if rel.Target == "" {
			return errs.Config("entity %s: relation %s is missing a target", e.Name, rel.Name)
		}
		if len(rel.LocalColumns) == 0 || len(rel.LocalColumns) != len(rel.RemoteColumns) {
			return errs.Config("entity %s: relation %s has a key mapping width mismatch", e.Name, rel.Name)
		}
		if rel.Cardinality == ManyToMany {
			if rel.JunctionTable == "" {
				return errs.Config("entity %s: many-to-many relation %s is missing a junction table", e.Name, rel.Name)
			}
			if len(rel.JunctionLocalColumns) != len(rel.LocalColumns) ||
				len(rel.JunctionRemoteColumns) != len(rel.RemoteColumns) {
				return errs.Config("entity %s: relation %s junction mapping width mismatch", e.Name, rel.Name)
			}
		}
	}
	if e.SoftDeleteField != "" {
		if _, ok := e.Field(e.SoftDeleteField); !ok {
			return errs.Config("entity %s: soft-delete field %s is not declared", e.Name, e.SoftDeleteField)
		}
	}
	if e.VersionField != "" {
		if _, ok := e.Field(e.VersionField); !ok {
			return errs.Config("entity %s: version field %s is not declared", e.Name, e.VersionField)
		}
	}
	r.entities[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

// Entity returns the named entity or a configuration error.
func (r *Registry) Entity(name string) (Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return Entity{}, errs.Config("entity %s is not registered", name)
	}
	return e, nil
}

// Has reports whether the named entity is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entities[name]
	return ok
}

// Entities returns the registered entities in registration order.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Names returns the sorted entity names.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Validate checks cross-entity references: every relation target must be
// registered and its remote columns must exist on the target's table.
func (r *Registry) Validate() error {
	for _, name := range r.order {
		e := r.entities[name]
		for _, rel := range e.Relations {
			target, ok := r.entities[rel.Target]
			if !ok {
				return errs.Config("entity %s: relation %s targets unregistered entity %s", e.Name, rel.Name, rel.Target)
			}
			for _, col := range rel.RemoteColumns {
				if !hasColumn(target, col) {
					return errs.Config("entity %s: relation %s references unknown column %s on %s", e.Name, rel.Name, col, target.Name)
				}
			}
			for _, col := range rel.LocalColumns {
				if !hasColumn(e, col) {
					return errs.Config("entity %s: relation %s references unknown local column %s", e.Name, rel.Name, col)
				}
			}
		}
	}
	return nil
}

func hasColumn(e Entity, column string) bool {
	for _, f := range e.Fields {
		if f.ColumnName() == column {
			return true
		}
	}
	return false
}
