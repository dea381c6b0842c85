// Package relgraph resolves the transitive relation graph of registered
// entities into a typed relation-path catalogue with cardinality annotations.
package relgraph

import (
	"strings"
	"sync"

	"crudsql/internal/errs"
	"crudsql/internal/schema"
)

// MaxDepth bounds relation-path length and filter-tree recursion everywhere
// in the compiler. Exceeding it is a configuration or programmer error.
const MaxDepth = 20

// RelationInfo describes one relation path reachable from a root entity.
type RelationInfo struct {
	// Path is the ordered relation field names from the root.
	Path []string
	// Hops carries the per-hop cardinality, parallel to Path.
	Hops []schema.Cardinality
	// Target is the entity the path lands on.
	Target string
	// ToMany is the aggregated cardinality: true if any hop multiplies rows.
	ToMany bool
}

// Dotted returns the dot-joined path, e.g. "supplier.products.category".
func (ri RelationInfo) Dotted() string {
	return strings.Join(ri.Path, ".")
}

// Resolver computes and memoizes relation-path catalogues. The cache is
// process-wide and written once per entity; the computation is idempotent so
// a duplicate first-access race is harmless, but the map itself is guarded.
type Resolver struct {
	registry *schema.Registry

	mu    sync.Mutex
	cache map[string][]RelationInfo
}

// NewResolver returns a resolver over the given registry.
func NewResolver(registry *schema.Registry) *Resolver {
	return &Resolver{
		registry: registry,
		cache:    make(map[string][]RelationInfo),
	}
}

// Resolve returns every relation path reachable from the entity. Traversal
// never revisits an entity already on the current path, which keeps cyclic
// graphs (Product→Supplier→Product) finite; a non-cyclic chain longer than
// MaxDepth is a fatal configuration error.
func (r *Resolver) Resolve(entityName string) ([]RelationInfo, error) {
	r.mu.Lock()
	if cached, ok := r.cache[entityName]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	root, err := r.registry.Entity(entityName)
	if err != nil {
		return nil, err
	}

	var out []RelationInfo
	onPath := map[string]bool{root.Name: true}
	if err := r.walk(root, nil, nil, false, onPath, &out); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[entityName] = out
	r.mu.Unlock()
	return out, nil
}

func (r *Resolver) walk(
	entity schema.Entity,
	path []string,
	hops []schema.Cardinality,
	toMany bool,
	onPath map[string]bool,
	out *[]RelationInfo,
) error {
	if len(path) >= MaxDepth {
		return errs.Config("relation path %s exceeds maximum depth %d", strings.Join(path, "."), MaxDepth)
	}
	for _, rel := range entity.Relations {
		target, err := r.registry.Entity(rel.Target)
		if err != nil {
			return errs.Config("entity %s: relation %s target %s cannot be introspected", entity.Name, rel.Name, rel.Target)
		}
		nextPath := append(append([]string(nil), path...), rel.Name)
		nextHops := append(append([]schema.Cardinality(nil), hops...), rel.Cardinality)
		nextToMany := toMany || rel.Cardinality.IsToMany()
		*out = append(*out, RelationInfo{
			Path:   nextPath,
			Hops:   nextHops,
			Target: target.Name,
			ToMany: nextToMany,
		})
		if onPath[target.Name] {
			continue
		}
		onPath[target.Name] = true
		if err := r.walk(target, nextPath, nextHops, nextToMany, onPath, out); err != nil {
			return err
		}
		delete(onPath, target.Name)
	}
	return nil
}

// Lookup resolves one dotted relation path from the root entity. The
// memoized catalogue answers first; paths that revisit an entity are absent
// from it by construction and fall back to a hop-by-hop walk. An unknown hop
// is a validation error naming the dotted path; a path longer than MaxDepth
// is a configuration error.
func (r *Resolver) Lookup(entityName, dotted string) (RelationInfo, error) {
	catalogue, err := r.Resolve(entityName)
	if err != nil {
		return RelationInfo{}, err
	}
	for _, info := range catalogue {
		if info.Dotted() == dotted {
			return info, nil
		}
	}
	return r.walkPath(entityName, dotted)
}

func (r *Resolver) walkPath(entityName, dotted string) (RelationInfo, error) {
	parts := strings.Split(dotted, ".")
	if len(parts) > MaxDepth {
		return RelationInfo{}, errs.Config("relation path %s exceeds maximum depth %d", dotted, MaxDepth)
	}
	entity, err := r.registry.Entity(entityName)
	if err != nil {
		return RelationInfo{}, err
	}

	info := RelationInfo{Target: entity.Name}
	for _, part := range parts {
		rel, ok := entity.Relation(part)
		if !ok {
			return RelationInfo{}, errs.Validation(dotted, "invalid relation")
		}
		target, err := r.registry.Entity(rel.Target)
		if err != nil {
			return RelationInfo{}, errs.Config("relation %s target %s cannot be introspected", part, rel.Target)
		}
		info.Path = append(info.Path, part)
		info.Hops = append(info.Hops, rel.Cardinality)
		info.ToMany = info.ToMany || rel.Cardinality.IsToMany()
		info.Target = target.Name
		entity = target
	}
	return info, nil
}
