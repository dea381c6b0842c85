package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/errs"
	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
	"crudsql/internal/sqlutil"
)

// SQLQuery is a rendered query with its placeholder arguments.
type SQLQuery struct {
	SQL  string
	Args []any
}

// PageRequest accepts either {page, limit} or {skip, take}; the two are
// normalized to skip/take before use.
type PageRequest struct {
	Page  int
	Limit int
	Skip  int
	Take  int
}

// Requested reports whether any pagination parameter was supplied.
func (p PageRequest) Requested() bool {
	return p.Page != 0 || p.Limit != 0 || p.Skip != 0 || p.Take != 0
}

// Normalize converts the request to skip/take. limit=0 (or absent) means
// unbounded.
func (p PageRequest) Normalize() (skip, take int, err error) {
	if p.Limit < 0 || p.Take < 0 || p.Skip < 0 {
		return 0, 0, errs.Validation("pagination", "limit, skip and take must not be negative")
	}
	if p.Page != 0 || p.Limit != 0 {
		if p.Page < 0 {
			return 0, 0, errs.Validation("pagination", "page must be at least 1")
		}
		page := p.Page
		if page == 0 {
			page = 1
		}
		return (page - 1) * p.Limit, p.Limit, nil
	}
	return p.Skip, p.Take, nil
}

// OrderItem is one ordering entry. Field may be a root field name or a
// dotted relation path ending in a field (e.g. "supplier.name").
type OrderItem struct {
	Field string
	Desc  bool
}

// LockMode selects optional row locking for the assembled query.
type LockMode int

const (
	LockNone LockMode = iota
	LockForShare
	LockForUpdate
)

// StrategyMode tags the execution strategy chosen for a plan.
type StrategyMode int

const (
	// SinglePhase executes the root query directly.
	SinglePhase StrategyMode = iota
	// TwoPhase runs an ID-only page query, then hydrates by primary key.
	TwoPhase
)

// Selection maps one output column of a data query back to its entity field.
type Selection struct {
	// Key is the output column alias: the field name for root columns, or
	// "<relation.path>.<field>" for eager-loaded relation columns.
	Key   string
	Path  string // dotted relation path, "" for root
	Field schema.Field
}

// BuildInput is the declarative request compiled by Build.
type BuildInput struct {
	// Relations lists dotted relation paths to eager-load with LEFT JOINs.
	Relations   []string
	Where       map[string]any
	Order       []OrderItem
	Page        PageRequest
	Lock        LockMode
	WithDeleted bool
}

// Plan is the compiled output for a find-style request.
type Plan struct {
	Mode    StrategyMode
	Root    SQLQuery // single-phase data query (also the hydration template's shape)
	IDs     SQLQuery // two-phase phase one, empty for single-phase plans
	Count   SQLQuery // row-accurate count for pagination
	Entity  schema.Entity
	Selects []Selection
	Joins   []Join
	Skip    int
	Take    int
	// Lock is the requested lock mode. Single-phase plans bake it into Root;
	// two-phase plans defer it to the hydration query.
	Lock LockMode
}

// Assembly compiles declarative find and group-by requests into SQL plans.
type Assembly struct {
	registry *schema.Registry
	graph    *relgraph.Resolver
}

// NewAssembly returns an assembly over the given registry and relation graph.
func NewAssembly(registry *schema.Registry, graph *relgraph.Resolver) *Assembly {
	return &Assembly{registry: registry, graph: graph}
}

// Build compiles a find request. Join deduplication, the where tree, order
// resolution, pagination, and strategy selection all happen here; the
// returned plan carries everything the executor needs.
func (a *Assembly) Build(entityName string, in BuildInput) (*Plan, error) {
	entity, err := a.registry.Entity(entityName)
	if err != nil {
		return nil, err
	}

	bc := a.newBuildContext(entity)

	for _, relPath := range in.Relations {
		if _, _, err := bc.joinPath(relPath, true); err != nil {
			return nil, err
		}
	}

	cond, err := compileWhere(bc, in.Where)
	if err != nil {
		return nil, err
	}
	cond = a.withSoftDeleteFilter(entity, cond, in.WithDeleted)

	orderClauses, err := a.resolveOrder(bc, in.Order)
	if err != nil {
		return nil, err
	}

	skip, take, err := in.Page.Normalize()
	if err != nil {
		return nil, err
	}

	joins := bc.joins.Joins()
	selects := buildSelections(entity, joins)

	plan := &Plan{
		Entity:  entity,
		Selects: selects,
		Joins:   joins,
		Skip:    skip,
		Take:    take,
		Lock:    in.Lock,
	}

	countSQL, err := a.buildCount(bc, entity, cond)
	if err != nil {
		return nil, err
	}
	plan.Count = countSQL

	if NeedsGuard(bc.joins, in.Page) {
		plan.Mode = TwoPhase
		plan.IDs, err = a.buildIDPage(bc, entity, cond, orderClauses, skip, take)
		if err != nil {
			return nil, err
		}
		return plan, nil
	}

	plan.Mode = SinglePhase
	plan.Root, err = a.buildRoot(bc, entity, selects, cond, orderClauses, skip, take, in.Lock)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Hydrate compiles the second phase of a guarded plan: a full eager-loaded
// select restricted to the page of primary keys produced by phase one.
// Ordering is restored by the caller from the key order, so the hydration
// query itself carries none. A requested lock mode rides here, on the read
// that returns rows; the grouped ID-page query cannot carry one.
func (a *Assembly) Hydrate(entityName string, relations []string, ids []any, withDeleted bool, lock LockMode) (*Plan, error) {
	entity, err := a.registry.Entity(entityName)
	if err != nil {
		return nil, err
	}
	bc := a.newBuildContext(entity)
	for _, relPath := range relations {
		if _, _, err := bc.joinPath(relPath, true); err != nil {
			return nil, err
		}
	}

	var cond sq.Sqlizer = sq.Eq{sqlutil.Qualify(entity.Table, entity.PrimaryKeyColumn()): ids}
	cond = a.withSoftDeleteFilter(entity, cond, withDeleted)

	joins := bc.joins.Joins()
	selects := buildSelections(entity, joins)
	root, err := a.buildRoot(bc, entity, selects, cond, nil, 0, 0, lock)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Mode:    SinglePhase,
		Root:    root,
		Entity:  entity,
		Selects: selects,
		Joins:   joins,
		Lock:    lock,
	}, nil
}

func (a *Assembly) newBuildContext(entity schema.Entity) *buildContext {
	joins := NewJoinRegistry()
	joins.used[entity.Table] = true
	return &buildContext{
		registry:  a.registry,
		graph:     a.graph,
		joins:     joins,
		root:      entity,
		rootAlias: entity.Table,
	}
}

func (a *Assembly) withSoftDeleteFilter(entity schema.Entity, cond sq.Sqlizer, withDeleted bool) sq.Sqlizer {
	if entity.SoftDeleteField == "" || withDeleted {
		return cond
	}
	col, _ := entity.Column(entity.SoftDeleteField)
	notDeleted := sq.Eq{sqlutil.Qualify(entity.Table, col): nil}
	if cond == nil {
		return notDeleted
	}
	return sq.And{cond, notDeleted}
}

// resolveOrder maps order items to SQL clauses, reusing join aliases already
// registered for filters or eager loads (never duplicating a join).
func (a *Assembly) resolveOrder(bc *buildContext, items []OrderItem) ([]orderClause, error) {
	out := make([]orderClause, 0, len(items))
	for _, item := range items {
		relPath, fieldName := splitFieldPath(item.Field)
		entity := bc.root
		alias := bc.rootAlias
		joined := false
		if relPath != "" {
			var err error
			alias, entity, err = bc.joinPath(relPath, false)
			if err != nil {
				return nil, err
			}
			joined = true
		}
		field, ok := entity.Field(fieldName)
		if !ok {
			return nil, errs.Validation(item.Field, "unknown order field")
		}
		out = append(out, orderClause{
			expr:   sqlutil.Qualify(alias, field.ColumnName()),
			desc:   item.Desc,
			joined: joined,
		})
	}
	return out, nil
}

type orderClause struct {
	expr   string
	desc   bool
	joined bool
}

func (c orderClause) render() string {
	if c.desc {
		return c.expr + " DESC"
	}
	return c.expr + " ASC"
}

// renderGrouped wraps joined order expressions in MIN/MAX so the ID-page
// query stays one row per root under GROUP BY.
func (c orderClause) renderGrouped() string {
	expr := c.expr
	if c.joined {
		if c.desc {
			expr = "MAX(" + expr + ")"
		} else {
			expr = "MIN(" + expr + ")"
		}
	}
	if c.desc {
		return expr + " DESC"
	}
	return expr + " ASC"
}

func (a *Assembly) buildRoot(
	bc *buildContext,
	entity schema.Entity,
	selects []Selection,
	cond sq.Sqlizer,
	order []orderClause,
	skip, take int,
	lock LockMode,
) (SQLQuery, error) {
	exprs := make([]string, len(selects))
	for i, sel := range selects {
		alias := bc.rootAlias
		if sel.Path != "" {
			alias, _ = bc.joins.Alias(sel.Path)
		}
		exprs[i] = sqlutil.Qualify(alias, sel.Field.ColumnName()) + " AS " + sqlutil.QuoteIdentifier(sel.Key)
	}

	builder := sq.Select(exprs...).From(sqlutil.QuoteIdentifier(entity.Table))
	builder = applyJoins(builder, bc.joins.Joins())
	if cond != nil {
		builder = builder.Where(cond)
	}
	for _, c := range order {
		builder = builder.OrderBy(c.render())
	}
	if take > 0 {
		builder = builder.Limit(uint64(take)).Offset(uint64(skip))
	}
	switch lock {
	case LockForShare:
		builder = builder.Suffix("FOR SHARE")
	case LockForUpdate:
		builder = builder.Suffix("FOR UPDATE")
	}

	raw, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: raw, Args: args}, nil
}

func (a *Assembly) buildCount(bc *buildContext, entity schema.Entity, cond sq.Sqlizer) (SQLQuery, error) {
	pk := sqlutil.Qualify(bc.rootAlias, entity.PrimaryKeyColumn())
	countExpr := "COUNT(*)"
	if bc.joins.HasToMany() {
		// Multiplying joins would inflate COUNT(*); count distinct roots.
		countExpr = fmt.Sprintf("COUNT(DISTINCT %s)", pk)
	}
	builder := sq.Select(countExpr).From(sqlutil.QuoteIdentifier(entity.Table))
	builder = applyJoins(builder, bc.joins.Joins())
	if cond != nil {
		builder = builder.Where(cond)
	}
	raw, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: raw, Args: args}, nil
}

// buildIDPage builds the phase-one query of a guarded plan: the correct page
// of distinct root primary keys under the full filter and join set.
func (a *Assembly) buildIDPage(
	bc *buildContext,
	entity schema.Entity,
	cond sq.Sqlizer,
	order []orderClause,
	skip, take int,
) (SQLQuery, error) {
	pk := sqlutil.Qualify(bc.rootAlias, entity.PrimaryKeyColumn())

	builder := sq.Select(pk).From(sqlutil.QuoteIdentifier(entity.Table))
	builder = applyJoins(builder, bc.joins.Joins())
	if cond != nil {
		builder = builder.Where(cond)
	}
	builder = builder.GroupBy(pk)
	for _, c := range order {
		builder = builder.OrderBy(c.renderGrouped())
	}
	if take > 0 {
		builder = builder.Limit(uint64(take)).Offset(uint64(skip))
	}

	raw, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: raw, Args: args}, nil
}

func applyJoins(builder sq.SelectBuilder, joins []Join) sq.SelectBuilder {
	for _, j := range joins {
		builder = builder.LeftJoin(fmt.Sprintf(
			"%s AS %s ON %s",
			sqlutil.QuoteIdentifier(j.Table),
			sqlutil.QuoteIdentifier(j.Alias),
			j.On,
		))
	}
	return builder
}

// buildSelections lists the output columns: root fields first, then the
// fields of each eager-loaded relation in registration order. Relation
// columns are keyed "<path>.<field>" so rows can be folded back into nested
// records without relying on positional metadata.
func buildSelections(entity schema.Entity, joins []Join) []Selection {
	selects := make([]Selection, 0, len(entity.Fields))
	for _, f := range entity.Fields {
		selects = append(selects, Selection{Key: f.Name, Field: f})
	}
	for _, j := range joins {
		if !j.Eager || j.Target == "" {
			continue
		}
		// Registry is consistent by construction; Target was resolved when
		// the join was registered.
		target := j.targetEntity
		for _, f := range target.Fields {
			selects = append(selects, Selection{
				Key:   j.Path + "." + f.Name,
				Path:  j.Path,
				Field: f,
			})
		}
	}
	return selects
}

func splitFieldPath(path string) (relPath, field string) {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
