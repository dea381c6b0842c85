package relgraph

import (
	"strings"
	"testing"

	"crudsql/internal/errs"
	"crudsql/internal/schema"
)

func cyclicRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()
	entities := []schema.Entity{
		{
			Name:       "Product",
			Table:      "products",
			PrimaryKey: "id",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "supplierId", Column: "supplier_id", Type: schema.TypeInt},
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
			},
		},
		{
			Name:       "Supplier",
			Table:      "suppliers",
			PrimaryKey: "id",
			Fields:     []schema.Field{{Name: "id", Type: schema.TypeInt}},
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

func pathSet(infos []RelationInfo) map[string]RelationInfo {
	out := make(map[string]RelationInfo, len(infos))
	for _, info := range infos {
		out[info.Dotted()] = info
	}
	return out
}

func TestResolve_CyclicGraphTerminates(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	infos, err := r.Resolve("Product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := pathSet(infos)

	direct, ok := paths["supplier"]
	if !ok {
		t.Fatal("missing path supplier")
	}
	if direct.Target != "Supplier" || direct.ToMany {
		t.Fatalf("unexpected supplier info: %+v", direct)
	}

	// The walk follows Product -> Supplier -> products but never re-enters
	// Product, so the cycle stays finite.
	back, ok := paths["supplier.products"]
	if !ok {
		t.Fatal("missing path supplier.products")
	}
	if back.Target != "Product" || !back.ToMany {
		t.Fatalf("unexpected supplier.products info: %+v", back)
	}
	if _, ok := paths["supplier.products.supplier"]; ok {
		t.Fatal("cycle was re-entered")
	}

	reviews, ok := paths["reviews"]
	if !ok {
		t.Fatal("missing path reviews")
	}
	if !reviews.ToMany || reviews.Target != "Review" {
		t.Fatalf("unexpected reviews info: %+v", reviews)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 paths, got %d: %v", len(infos), infos)
	}
}

func TestResolve_HopsParallelPath(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	infos, err := r.Resolve("Product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := pathSet(infos)["supplier.products"]
	if len(info.Hops) != 2 {
		t.Fatalf("expected 2 hops, got %v", info.Hops)
	}
	if info.Hops[0] != schema.ManyToOne || info.Hops[1] != schema.OneToMany {
		t.Fatalf("unexpected hops: %v", info.Hops)
	}
}

func TestResolve_Memoized(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	first, err := r.Resolve("Supplier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Resolve("Supplier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("memoized result differs: %d vs %d", len(first), len(second))
	}
	if &first[0] != &second[0] {
		t.Fatal("expected the cached slice on the second call")
	}
}

func TestResolve_UnknownEntity(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))
	if _, err := r.Resolve("Nope"); err == nil || !errs.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	info, err := r.Lookup("Product", "supplier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Target != "Supplier" || info.ToMany {
		t.Fatalf("unexpected info: %+v", info)
	}

	info, err = r.Lookup("Product", "supplier.products")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Target != "Product" || !info.ToMany {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Dotted() != "supplier.products" {
		t.Fatalf("Dotted = %q", info.Dotted())
	}
}

func TestLookup_InvalidRelation(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))
	_, err := r.Lookup("Product", "supplier.bogus")
	if err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLookup_DepthLimit(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))
	parts := make([]string, MaxDepth+1)
	for i := range parts {
		parts[i] = "supplier"
	}
	_, err := r.Lookup("Product", strings.Join(parts, "."))
	if err == nil || !errs.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLookup_ServedFromMemoizedCatalogue(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	info, err := r.Lookup("Product", "supplier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.mu.Lock()
	_, cached := r.cache["Product"]
	r.mu.Unlock()
	if !cached {
		t.Fatal("lookup must populate the memoized catalogue")
	}

	catalogue, err := r.Resolve("Product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := pathSet(catalogue)["supplier"]
	if !ok {
		t.Fatal("catalogue missing supplier path")
	}
	if entry.Target != info.Target || entry.ToMany != info.ToMany {
		t.Fatalf("lookup diverged from catalogue: %+v vs %+v", info, entry)
	}
}

func TestLookup_PathThroughRevisitedEntity(t *testing.T) {
	r := NewResolver(cyclicRegistry(t))

	// The catalogue stops at a revisited entity, so this path is absent from
	// it and resolves hop by hop.
	info, err := r.Lookup("Product", "supplier.products.supplier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Target != "Supplier" || !info.ToMany {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(info.Hops) != 3 {
		t.Fatalf("expected three hops, got %+v", info.Hops)
	}
}
