package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/errs"
	"crudsql/internal/schema"
	"crudsql/internal/sqlutil"
)

// AggregateFunc is the closed set of supported aggregate functions.
type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
)

// ParseAggregateFunc parses a wire aggregate function name.
func ParseAggregateFunc(s string) (AggregateFunc, error) {
	switch AggregateFunc(strings.ToUpper(s)) {
	case AggCount:
		return AggCount, nil
	case AggSum:
		return AggSum, nil
	case AggAvg:
		return AggAvg, nil
	case AggMin:
		return AggMin, nil
	case AggMax:
		return AggMax, nil
	default:
		return "", errs.Validation("aggregates", "unknown aggregate function %s", s)
	}
}

// Aggregate is one requested aggregate computation.
type Aggregate struct {
	Field string // dotted field path; empty means COUNT(*)
	Func  AggregateFunc
	Alias string // caller-supplied result key, unique per request
}

// GroupByInput is the declarative group-by request compiled by BuildGrouped.
type GroupByInput struct {
	// Fields lists the grouped field paths, scalar or relation-traversing.
	Fields      []string
	Aggregates  []Aggregate
	Where       map[string]any
	Order       []OrderItem // grouped field path or aggregate alias
	Page        PageRequest
	WithDeleted bool
}

// GroupKey maps a grouped field path to its flattened result key.
type GroupKey struct {
	Path  string // requested path, e.g. "supplier.name"
	Key   string // flattened key, e.g. "supplier_name"
	Field schema.Field
}

// GroupPlan is the compiled output of a group-by request. Rows yields the
// requested page of groups; Count yields the number of distinct groups.
type GroupPlan struct {
	Rows       SQLQuery
	Count      SQLQuery
	Keys       []GroupKey
	Aggregates []Aggregate
	Skip       int
	Take       int
}

// countAlias is the implicit per-group row count column.
const countAlias = "__count"

// BuildGrouped compiles a group-by request. The where tree filters rows
// before grouping; pagination windows the distinct groups, not raw rows.
func (a *Assembly) BuildGrouped(entityName string, in GroupByInput) (*GroupPlan, error) {
	entity, err := a.registry.Entity(entityName)
	if err != nil {
		return nil, err
	}
	if len(in.Fields) == 0 && len(in.Aggregates) == 0 {
		return nil, errs.Validation("groupBy", "at least one grouped field or aggregate is required")
	}

	bc := a.newBuildContext(entity)

	keys := make([]GroupKey, 0, len(in.Fields))
	groupExprs := make([]string, 0, len(in.Fields))
	groupCols := make([]string, 0, len(in.Fields))
	keyByPath := make(map[string]string, len(in.Fields))
	for _, path := range in.Fields {
		expr, field, err := a.resolveFieldPath(bc, path)
		if err != nil {
			return nil, err
		}
		flat := strings.ReplaceAll(path, ".", "_")
		keys = append(keys, GroupKey{Path: path, Key: flat, Field: field})
		groupExprs = append(groupExprs, expr+" AS "+sqlutil.QuoteIdentifier(flat))
		groupCols = append(groupCols, expr)
		keyByPath[path] = expr
	}

	aggExprs, aliasExprs, err := a.resolveAggregates(bc, entity, keys, in.Aggregates)
	if err != nil {
		return nil, err
	}

	cond, err := compileWhere(bc, in.Where)
	if err != nil {
		return nil, err
	}
	cond = a.withSoftDeleteFilter(entity, cond, in.WithDeleted)

	skip, take, err := in.Page.Normalize()
	if err != nil {
		return nil, err
	}

	selectExprs := append(append([]string(nil), groupExprs...), aggExprs...)
	builder := sq.Select(selectExprs...).From(sqlutil.QuoteIdentifier(entity.Table))
	builder = applyJoins(builder, bc.joins.Joins())
	if cond != nil {
		builder = builder.Where(cond)
	}
	if len(groupCols) > 0 {
		builder = builder.GroupBy(groupCols...)
	}

	for _, item := range in.Order {
		clause, err := groupOrderClause(item, keyByPath, aliasExprs)
		if err != nil {
			return nil, err
		}
		builder = builder.OrderBy(clause)
	}
	if take > 0 {
		builder = builder.Limit(uint64(take)).Offset(uint64(skip))
	}

	raw, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}

	countSQL, err := a.buildGroupCount(bc, entity, cond, groupCols)
	if err != nil {
		return nil, err
	}

	return &GroupPlan{
		Rows:       SQLQuery{SQL: raw, Args: args},
		Count:      countSQL,
		Keys:       keys,
		Aggregates: in.Aggregates,
		Skip:       skip,
		Take:       take,
	}, nil
}

// buildGroupCount wraps the group-key query in a COUNT(*) subquery so the
// pagination total reflects distinct groups. With no grouped fields there is
// exactly one group (or zero when aggregating nothing is impossible: an
// aggregate over an empty set still yields one row).
func (a *Assembly) buildGroupCount(bc *buildContext, entity schema.Entity, cond sq.Sqlizer, groupCols []string) (SQLQuery, error) {
	if len(groupCols) == 0 {
		return SQLQuery{SQL: "SELECT 1"}, nil
	}
	inner := sq.Select("1").From(sqlutil.QuoteIdentifier(entity.Table))
	inner = applyJoins(inner, bc.joins.Joins())
	if cond != nil {
		inner = inner.Where(cond)
	}
	inner = inner.GroupBy(groupCols...)
	innerSQL, args, err := inner.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __groups", innerSQL),
		Args: args,
	}, nil
}

// resolveAggregates renders the aggregate select clauses and validates alias
// uniqueness. Aliases are interpolated into SQL, so they must be plain
// identifiers. The implicit per-group COUNT(*) always comes first.
func (a *Assembly) resolveAggregates(
	bc *buildContext,
	entity schema.Entity,
	keys []GroupKey,
	aggregates []Aggregate,
) ([]string, map[string]string, error) {
	reserved := make(map[string]struct{}, len(keys)+1)
	reserved[countAlias] = struct{}{}
	for _, k := range keys {
		reserved[k.Key] = struct{}{}
	}

	exprs := []string{"COUNT(*) AS " + sqlutil.QuoteIdentifier(countAlias)}
	aliasExprs := make(map[string]string, len(aggregates))
	for _, agg := range aggregates {
		if agg.Alias == "" {
			return nil, nil, errs.Validation("aggregates", "aggregate alias is required")
		}
		if !schema.ValidIdentifier(agg.Alias) {
			return nil, nil, errs.Validation(agg.Alias, "aggregate alias must be a plain identifier")
		}
		if _, dup := reserved[agg.Alias]; dup {
			return nil, nil, errs.Validation(agg.Alias, "duplicate aggregate alias")
		}
		reserved[agg.Alias] = struct{}{}

		fn, err := ParseAggregateFunc(string(agg.Func))
		if err != nil {
			return nil, nil, err
		}

		inner := "*"
		if agg.Field != "" {
			expr, _, err := a.resolveFieldPath(bc, agg.Field)
			if err != nil {
				return nil, nil, err
			}
			inner = expr
		} else if fn != AggCount {
			return nil, nil, errs.Validation(agg.Alias, "%s requires a field", fn)
		}

		clause := fmt.Sprintf("%s(%s) AS %s", fn, inner, sqlutil.QuoteIdentifier(agg.Alias))
		exprs = append(exprs, clause)
		aliasExprs[agg.Alias] = sqlutil.QuoteIdentifier(agg.Alias)
	}
	return exprs, aliasExprs, nil
}

// resolveFieldPath resolves a dotted field path to a qualified column
// expression, registering relation joins as needed.
func (a *Assembly) resolveFieldPath(bc *buildContext, path string) (string, schema.Field, error) {
	relPath, fieldName := splitFieldPath(path)
	entity := bc.root
	alias := bc.rootAlias
	if relPath != "" {
		var err error
		alias, entity, err = bc.joinPath(relPath, false)
		if err != nil {
			return "", schema.Field{}, err
		}
	}
	field, ok := entity.Field(fieldName)
	if !ok {
		return "", schema.Field{}, errs.Validation(path, "unknown field")
	}
	return sqlutil.Qualify(alias, field.ColumnName()), field, nil
}

func groupOrderClause(item OrderItem, keyByPath map[string]string, aliasExprs map[string]string) (string, error) {
	dir := " ASC"
	if item.Desc {
		dir = " DESC"
	}
	if expr, ok := aliasExprs[item.Field]; ok {
		return expr + dir, nil
	}
	if expr, ok := keyByPath[item.Field]; ok {
		return expr + dir, nil
	}
	return "", errs.Validation(item.Field, "order field must be a grouped field or an aggregate alias")
}
