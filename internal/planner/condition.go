package planner

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/errs"
)

// Op is the closed set of filter operators. Dispatch is a switch so the
// compiler enforces exhaustiveness when an operator is added.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpBetween
	OpNotBetween
	OpStartsWith
	OpNotStartsWith
	OpEndsWith
	OpNotEndsWith
	OpContains
	OpNotContains
	OpLike
	OpNotLike
)

// ParseOp maps a wire operator key (e.g. "_gte") to its Op.
func ParseOp(key string) (Op, bool) {
	switch key {
	case "_eq":
		return OpEq, true
	case "_neq":
		return OpNeq, true
	case "_gt":
		return OpGt, true
	case "_gte":
		return OpGte, true
	case "_lt":
		return OpLt, true
	case "_lte":
		return OpLte, true
	case "_in":
		return OpIn, true
	case "_between":
		return OpBetween, true
	case "_notbetween":
		return OpNotBetween, true
	case "_startswith":
		return OpStartsWith, true
	case "_notstartswith":
		return OpNotStartsWith, true
	case "_endswith":
		return OpEndsWith, true
	case "_notendswith":
		return OpNotEndsWith, true
	case "_contains":
		return OpContains, true
	case "_notcontains":
		return OpNotContains, true
	case "_like":
		return OpLike, true
	case "_notlike":
		return OpNotLike, true
	default:
		return 0, false
	}
}

// IsOperatorObject reports whether every key of m parses as an operator.
// Field conditions are operator objects; anything else nested under a
// relation name is a nested where tree.
func IsOperatorObject(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		if _, ok := ParseOp(key); !ok {
			return false
		}
	}
	return true
}

// CompileCondition compiles one field condition into predicates. field is
// the user-facing name used in error messages; column is the fully
// qualified, quoted SQL column. A bare scalar is shorthand for _eq and a
// bare array for _in; multiple operator keys AND together.
func CompileCondition(field, column string, value any) ([]sq.Sqlizer, error) {
	switch v := value.(type) {
	case nil:
		return []sq.Sqlizer{sq.Eq{column: nil}}, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, errs.Validation(field, "empty condition object")
		}
		keys := sortedKeys(v)
		conds := make([]sq.Sqlizer, 0, len(v))
		for _, key := range keys {
			op, ok := ParseOp(key)
			if !ok {
				return nil, errs.Validation(field, "unknown filter operator %s", key)
			}
			cond, err := compileOperator(field, column, op, v[key])
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		return conds, nil
	case []any:
		cond, err := compileOperator(field, column, OpIn, v)
		if err != nil {
			return nil, err
		}
		return []sq.Sqlizer{cond}, nil
	case string, bool, int, int32, int64, float32, float64, time.Time:
		return []sq.Sqlizer{sq.Eq{column: v}}, nil
	default:
		return []sq.Sqlizer{sq.Eq{column: v}}, nil
	}
}

func compileOperator(field, column string, op Op, value any) (sq.Sqlizer, error) {
	switch op {
	case OpEq:
		return sq.Eq{column: value}, nil
	case OpNeq:
		return sq.NotEq{column: value}, nil
	case OpGt:
		return sq.Gt{column: value}, nil
	case OpGte:
		return sq.GtOrEq{column: value}, nil
	case OpLt:
		return sq.Lt{column: value}, nil
	case OpLte:
		return sq.LtOrEq{column: value}, nil
	case OpIn:
		arr, ok := anySlice(value)
		if !ok {
			return nil, errs.Validation(field, "_in requires an array")
		}
		return sq.Eq{column: arr}, nil
	case OpBetween, OpNotBetween:
		arr, ok := anySlice(value)
		if !ok || len(arr) != 2 {
			return nil, errs.Validation(field, "between filter requires exactly 2 values")
		}
		if op == OpBetween {
			return sq.Expr(column+" BETWEEN ? AND ?", arr[0], arr[1]), nil
		}
		return sq.Expr(column+" NOT BETWEEN ? AND ?", arr[0], arr[1]), nil
	case OpStartsWith, OpNotStartsWith:
		pattern, err := likePattern(field, value, false, true)
		if err != nil {
			return nil, err
		}
		if op == OpStartsWith {
			return sq.Like{column: pattern}, nil
		}
		return sq.NotLike{column: pattern}, nil
	case OpEndsWith, OpNotEndsWith:
		pattern, err := likePattern(field, value, true, false)
		if err != nil {
			return nil, err
		}
		if op == OpEndsWith {
			return sq.Like{column: pattern}, nil
		}
		return sq.NotLike{column: pattern}, nil
	case OpContains, OpNotContains:
		pattern, err := likePattern(field, value, true, true)
		if err != nil {
			return nil, err
		}
		if op == OpContains {
			return sq.Like{column: pattern}, nil
		}
		return sq.NotLike{column: pattern}, nil
	case OpLike:
		s, ok := value.(string)
		if !ok {
			return nil, errs.Validation(field, "_like requires a string pattern")
		}
		return sq.Like{column: s}, nil
	case OpNotLike:
		s, ok := value.(string)
		if !ok {
			return nil, errs.Validation(field, "_notlike requires a string pattern")
		}
		return sq.NotLike{column: s}, nil
	default:
		return nil, errs.Validation(field, "unknown filter operator")
	}
}

// likePattern escapes LIKE metacharacters in the user value and wraps it
// with wildcards on the requested sides.
func likePattern(field string, value any, leading, trailing bool) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", errs.Validation(field, "substring filter requires a string")
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	if leading {
		escaped = "%" + escaped
	}
	if trailing {
		escaped = escaped + "%"
	}
	return escaped, nil
}

func anySlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
