package planner

import (
	"testing"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()
	entities := []schema.Entity{
		{
			Name:       "Product",
			Table:      "products",
			PrimaryKey: "id",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "name", Type: schema.TypeString},
				{Name: "price", Type: schema.TypeFloat},
				{Name: "supplierId", Column: "supplier_id", Type: schema.TypeInt, Nullable: true},
			},
			Relations: []schema.Relation{
				{
					Name:          "supplier",
					Target:        "Supplier",
					Cardinality:   schema.ManyToOne,
					LocalColumns:  []string{"supplier_id"},
					RemoteColumns: []string{"id"},
				},
				{
					Name:          "reviews",
					Target:        "Review",
					Cardinality:   schema.OneToMany,
					LocalColumns:  []string{"id"},
					RemoteColumns: []string{"product_id"},
				},
				{
					Name:                  "tags",
					Target:                "Tag",
					Cardinality:           schema.ManyToMany,
					LocalColumns:          []string{"id"},
					RemoteColumns:         []string{"id"},
					JunctionTable:         "product_tags",
					JunctionLocalColumns:  []string{"product_id"},
					JunctionRemoteColumns: []string{"tag_id"},
				},
			},
		},
		{
			Name:       "Supplier",
			Table:      "suppliers",
			PrimaryKey: "id",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "name", Type: schema.TypeString},
				{Name: "country", Type: schema.TypeString},
			},
			Relations: []schema.Relation{
				{
					Name:          "products",
					Target:        "Product",
					Cardinality:   schema.OneToMany,
					LocalColumns:  []string{"id"},
					RemoteColumns: []string{"supplier_id"},
				},
			},
		},
		{
			Name:       "Review",
			Table:      "reviews",
			PrimaryKey: "id",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "productId", Column: "product_id", Type: schema.TypeInt},
				{Name: "rating", Type: schema.TypeInt},
			},
		},
		{
			Name:       "Tag",
			Table:      "tags",
			PrimaryKey: "id",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "label", Type: schema.TypeString},
			},
		},
		{
			Name:            "Document",
			Table:           "documents",
			PrimaryKey:      "id",
			SoftDeleteField: "deletedAt",
			VersionField:    "version",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "title", Type: schema.TypeString},
				{Name: "version", Type: schema.TypeInt},
				{Name: "deletedAt", Column: "deleted_at", Type: schema.TypeTime, Nullable: true},
			},
		},
	}
	for _, e := range entities {
		if err := registry.Add(e); err != nil {
			t.Fatalf("failed to register %s: %v", e.Name, err)
		}
	}
	if err := registry.Validate(); err != nil {
		t.Fatalf("registry validation failed: %v", err)
	}
	return registry
}

func testAssembly(t *testing.T) (*Assembly, *schema.Registry) {
	t.Helper()
	registry := testRegistry(t)
	return NewAssembly(registry, relgraph.NewResolver(registry)), registry
}

func contextFor(t *testing.T, a *Assembly, entityName string) *buildContext {
	t.Helper()
	entity, err := a.registry.Entity(entityName)
	if err != nil {
		t.Fatalf("unknown entity %s: %v", entityName, err)
	}
	return a.newBuildContext(entity)
}

func renderConds(t *testing.T, conds []sq.Sqlizer) (string, []any) {
	t.Helper()
	var cond sq.Sqlizer
	switch len(conds) {
	case 0:
		t.Fatal("no conditions to render")
	case 1:
		cond = conds[0]
	default:
		cond = sq.And(conds)
	}
	return renderCond(t, cond)
}

func renderCond(t *testing.T, cond sq.Sqlizer) (string, []any) {
	t.Helper()
	sql, args, err := cond.ToSql()
	if err != nil {
		t.Fatalf("failed to render condition: %v", err)
	}
	return sql, args
}
