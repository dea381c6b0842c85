package planner

import (
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/errs"
	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
	"crudsql/internal/sqlutil"
)

// Join is one LEFT JOIN registered for the current query.
type Join struct {
	Path   string // dotted relation path (junction hops carry a "#junction" suffix)
	Alias  string
	Table  string
	On     string // identifiers only, pre-quoted
	ToMany bool
	Eager  bool // hydration selects this join's columns
	Target string

	targetEntity schema.Entity
}

// JoinRegistry deduplicates joins per query-build invocation, mapping dotted
// relation paths to SQL aliases. Request-scoped, never shared.
type JoinRegistry struct {
	byPath map[string]*Join
	used   map[string]bool
	joins  []*Join
}

// NewJoinRegistry returns an empty registry for one query build.
func NewJoinRegistry() *JoinRegistry {
	return &JoinRegistry{
		byPath: make(map[string]*Join),
		used:   make(map[string]bool),
	}
}

// Alias returns the alias already assigned to a path.
func (jr *JoinRegistry) Alias(path string) (string, bool) {
	j, ok := jr.byPath[path]
	if !ok {
		return "", false
	}
	return j.Alias, true
}

func (jr *JoinRegistry) register(j Join) *Join {
	if existing, ok := jr.byPath[j.Path]; ok {
		if j.Eager {
			existing.Eager = true
		}
		return existing
	}
	alias := strings.ReplaceAll(j.Path, ".", "_")
	alias = strings.ReplaceAll(alias, "#", "_")
	for jr.used[alias] {
		alias = alias + "_"
	}
	jr.used[alias] = true
	j.Alias = alias
	stored := &j
	jr.byPath[j.Path] = stored
	jr.joins = append(jr.joins, stored)
	return stored
}

// checkpoint marks the current registration high-water mark so speculative
// registrations can be undone.
func (jr *JoinRegistry) checkpoint() int {
	return len(jr.joins)
}

// rollback removes every join registered after the checkpoint. Joins that
// already existed at the checkpoint are untouched.
func (jr *JoinRegistry) rollback(cp int) {
	for _, j := range jr.joins[cp:] {
		delete(jr.byPath, j.Path)
		delete(jr.used, j.Alias)
	}
	jr.joins = jr.joins[:cp]
}

// Joins returns the registered joins in registration order.
func (jr *JoinRegistry) Joins() []Join {
	out := make([]Join, len(jr.joins))
	for i, j := range jr.joins {
		out[i] = *j
	}
	return out
}

// HasToMany reports whether any registered join traverses a to-many
// relation. This is the trigger input for the row-multiplication guard.
func (jr *JoinRegistry) HasToMany() bool {
	for _, j := range jr.joins {
		if j.ToMany {
			return true
		}
	}
	return false
}

// buildContext carries the immutable inputs of one query build. The join
// registry is the one explicitly mutable, request-scoped piece of state.
type buildContext struct {
	registry  *schema.Registry
	graph     *relgraph.Resolver
	joins     *JoinRegistry
	root      schema.Entity
	rootAlias string
}

// joinPath registers (or reuses) LEFT JOINs for every hop of a dotted
// relation path and returns the terminal alias and entity. The path is
// resolved through the relation graph first, so path validity and per-hop
// cardinality come from the memoized catalogue; the walk below only maps
// the resolved hops onto join clauses. Many-to-many hops register the
// junction join ahead of the target join.
func (c *buildContext) joinPath(dotted string, eager bool) (string, schema.Entity, error) {
	info, err := c.graph.Lookup(c.root.Name, dotted)
	if err != nil {
		return "", schema.Entity{}, err
	}

	entity := c.root
	alias := c.rootAlias
	for i, part := range info.Path {
		rel, ok := entity.Relation(part)
		if !ok {
			return "", schema.Entity{}, errs.Validation(dotted, "invalid relation")
		}
		target, err := c.registry.Entity(rel.Target)
		if err != nil {
			return "", schema.Entity{}, err
		}
		path := strings.Join(info.Path[:i+1], ".")
		toMany := info.Hops[i].IsToMany()

		if info.Hops[i] == schema.ManyToMany {
			junction := c.joins.register(Join{
				Path:   path + "#junction",
				Table:  rel.JunctionTable,
				ToMany: true,
			})
			if junction.On == "" {
				junction.On = onPairs(junction.Alias, rel.JunctionLocalColumns, alias, rel.LocalColumns)
			}
			joined := c.joins.register(Join{
				Path:         path,
				Table:        target.Table,
				ToMany:       true,
				Eager:        eager,
				Target:       target.Name,
				targetEntity: target,
			})
			if joined.On == "" {
				joined.On = onPairs(joined.Alias, rel.RemoteColumns, junction.Alias, rel.JunctionRemoteColumns)
			}
			alias = joined.Alias
		} else {
			joined := c.joins.register(Join{
				Path:         path,
				Table:        target.Table,
				ToMany:       toMany,
				Eager:        eager,
				Target:       target.Name,
				targetEntity: target,
			})
			if joined.On == "" {
				joined.On = onPairs(joined.Alias, rel.RemoteColumns, alias, rel.LocalColumns)
			}
			alias = joined.Alias
		}
		entity = target
	}
	return alias, entity, nil
}

func onPairs(leftAlias string, leftCols []string, rightAlias string, rightCols []string) string {
	pairs := make([]string, len(leftCols))
	for i := range leftCols {
		pairs[i] = sqlutil.Qualify(leftAlias, leftCols[i]) + " = " + sqlutil.Qualify(rightAlias, rightCols[i])
	}
	return strings.Join(pairs, " AND ")
}

// whereContext tracks the current entity, alias, and recursion depth while
// walking a filter tree.
type whereContext struct {
	bc     *buildContext
	entity schema.Entity
	alias  string
	prefix string // dotted relation path of the current base, "" at the root
	depth  int
}

// compileWhere compiles a filter tree against the root entity, registering
// any relation joins it needs.
func compileWhere(bc *buildContext, tree map[string]any) (sq.Sqlizer, error) {
	if len(tree) == 0 {
		return nil, nil
	}
	return compileWhereNode(whereContext{bc: bc, entity: bc.root, alias: bc.rootAlias}, tree)
}

func compileWhereNode(ctx whereContext, tree map[string]any) (sq.Sqlizer, error) {
	if ctx.depth > relgraph.MaxDepth {
		return nil, errs.Config("filter tree exceeds maximum depth %d", relgraph.MaxDepth)
	}

	// Direct conditions AND together; each _or key contributes a single OR
	// group to that AND set. Direct conditions never leak into the OR set.
	var conditions []sq.Sqlizer
	for _, key := range sortedKeys(tree) {
		value := tree[key]
		switch key {
		case "_and":
			children, err := logicalChildren(ctx, key, value)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				conditions = append(conditions, sq.And(children))
			}
		case "_or":
			children, err := logicalChildren(ctx, key, value)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				conditions = append(conditions, sq.Or(children))
			}
		default:
			cond, err := compileWhereEntry(ctx, key, value)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				conditions = append(conditions, cond...)
			}
		}
	}

	switch len(conditions) {
	case 0:
		return nil, nil
	case 1:
		return conditions[0], nil
	default:
		return sq.And(conditions), nil
	}
}

func logicalChildren(ctx whereContext, key string, value any) ([]sq.Sqlizer, error) {
	items, ok := value.([]any)
	if !ok {
		if trees, ok := value.([]map[string]any); ok {
			items = make([]any, len(trees))
			for i, t := range trees {
				items[i] = t
			}
		} else {
			return nil, errs.Validation(ctx.fieldPath(key), "%s must be an array", key)
		}
	}
	child := ctx
	child.depth++
	out := make([]sq.Sqlizer, 0, len(items))
	for _, item := range items {
		tree, ok := item.(map[string]any)
		if !ok {
			return nil, errs.Validation(ctx.fieldPath(key), "%s items must be objects", key)
		}
		cond, err := compileWhereNode(child, tree)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			out = append(out, cond)
		}
	}
	return out, nil
}

func compileWhereEntry(ctx whereContext, key string, value any) ([]sq.Sqlizer, error) {
	if field, ok := ctx.entity.Field(key); ok {
		column := sqlutil.Qualify(ctx.alias, field.ColumnName())
		return CompileCondition(ctx.fieldPath(key), column, value)
	}

	if _, ok := ctx.entity.Relation(key); ok {
		nested, ok := value.(map[string]any)
		if !ok || IsOperatorObject(nested) {
			return nil, errs.Validation(ctx.fieldPath(key), "relation filter must be a nested where object")
		}
		path := key
		if ctx.prefix != "" {
			path = ctx.prefix + "." + key
		}
		// The joins are speculative until the nested tree yields a predicate;
		// a vacuous tree must not leave a multiplying join behind to trip the
		// pagination guard or distinct-count the total.
		cp := ctx.bc.joins.checkpoint()
		alias, target, err := ctx.bc.joinPath(path, false)
		if err != nil {
			return nil, err
		}
		child := whereContext{
			bc:     ctx.bc,
			entity: target,
			alias:  alias,
			prefix: path,
			depth:  ctx.depth + 1,
		}
		cond, err := compileWhereNode(child, nested)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			ctx.bc.joins.rollback(cp)
			return nil, nil
		}
		return []sq.Sqlizer{cond}, nil
	}

	return nil, errs.Validation(ctx.fieldPath(key), "unknown field")
}

func (ctx whereContext) fieldPath(key string) string {
	if ctx.prefix == "" {
		return key
	}
	return ctx.prefix + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
