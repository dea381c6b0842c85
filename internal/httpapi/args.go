// Package httpapi exposes registered entities as JSON CRUD endpoints. It
// translates wire-level filter, order, pagination, and group-by arguments
// into query plans and maps domain errors onto HTTP status codes.
package httpapi

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"crudsql/internal/errs"
	"crudsql/internal/planner"
	"crudsql/internal/service"
)

// ParseListQuery decodes the list-endpoint query parameters:
//
//	where:       JSON filter object
//	orderBy:     JSON list of {field: "ASC"|"DESC"} objects, relation-nestable
//	relations:   comma-separated dotted relation paths to eager-load
//	page, limit, skip, take: pagination in either representation
//	withDeleted: include soft-deleted records
func ParseListQuery(values url.Values) (service.Query, error) {
	q := service.Query{}

	if raw := values.Get("where"); raw != "" {
		where, err := ParseWhere(raw)
		if err != nil {
			return service.Query{}, err
		}
		q.Where = where
	}

	if raw := values.Get("orderBy"); raw != "" {
		order, err := ParseOrderBy(raw)
		if err != nil {
			return service.Query{}, err
		}
		q.Order = order
	}

	q.Relations = parseRelations(values.Get("relations"))

	page, err := parsePagination(values)
	if err != nil {
		return service.Query{}, err
	}
	q.Page = page

	q.WithDeleted = values.Get("withDeleted") == "true"

	return q, nil
}

// ParseGroupBy decodes the groupBy argument:
//
//	{fields: {<field-or-relation>: true, ...}, aggregates: [{field, function, alias}]}
//
// Relation-nested fields use nested boolean objects and flatten to dotted
// paths. Filter, order, and pagination come from the surrounding query.
func ParseGroupBy(raw string, q service.Query) (planner.GroupByInput, error) {
	var body struct {
		Fields     map[string]any `json:"fields"`
		Aggregates []struct {
			Field    string `json:"field"`
			Function string `json:"function"`
			Alias    string `json:"alias"`
		} `json:"aggregates"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return planner.GroupByInput{}, errs.Validation("groupBy", "malformed JSON: %v", err)
	}

	fields, err := flattenGroupFields("", body.Fields)
	if err != nil {
		return planner.GroupByInput{}, err
	}

	aggregates := make([]planner.Aggregate, 0, len(body.Aggregates))
	for _, a := range body.Aggregates {
		fn, err := planner.ParseAggregateFunc(a.Function)
		if err != nil {
			return planner.GroupByInput{}, err
		}
		aggregates = append(aggregates, planner.Aggregate{
			Field: a.Field,
			Func:  fn,
			Alias: a.Alias,
		})
	}

	return planner.GroupByInput{
		Fields:      fields,
		Aggregates:  aggregates,
		Where:       q.Where,
		Order:       q.Order,
		Page:        q.Page,
		WithDeleted: q.WithDeleted,
	}, nil
}

// ParseWhere decodes a JSON filter object.
func ParseWhere(raw string) (map[string]any, error) {
	var where map[string]any
	if err := json.Unmarshal([]byte(raw), &where); err != nil {
		return nil, errs.Validation("where", "malformed JSON: %v", err)
	}
	return where, nil
}

// ParseOrderBy accepts [{"name":"ASC"},{"supplier":{"name":"DESC"}}] and
// flattens relation nesting into dotted field paths.
func ParseOrderBy(raw string) ([]planner.OrderItem, error) {
	var entries []map[string]any
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, errs.Validation("orderBy", "malformed JSON: %v", err)
	}

	var order []planner.OrderItem
	for _, entry := range entries {
		if len(entry) != 1 {
			return nil, errs.Validation("orderBy", "each entry must have exactly one key")
		}
		for key, value := range entry {
			item, err := flattenOrderEntry(key, value)
			if err != nil {
				return nil, err
			}
			order = append(order, item)
		}
	}
	return order, nil
}

func flattenOrderEntry(path string, value any) (planner.OrderItem, error) {
	switch v := value.(type) {
	case string:
		switch strings.ToUpper(v) {
		case "ASC":
			return planner.OrderItem{Field: path}, nil
		case "DESC":
			return planner.OrderItem{Field: path, Desc: true}, nil
		default:
			return planner.OrderItem{}, errs.Validation("orderBy", "direction must be ASC or DESC, got %q", v)
		}
	case map[string]any:
		if len(v) != 1 {
			return planner.OrderItem{}, errs.Validation("orderBy", "nested entry for %s must have exactly one key", path)
		}
		for key, nested := range v {
			return flattenOrderEntry(path+"."+key, nested)
		}
		return planner.OrderItem{}, errs.Validation("orderBy", "empty nested entry for %s", path)
	default:
		return planner.OrderItem{}, errs.Validation("orderBy", "unsupported value for %s", path)
	}
}

// flattenGroupFields turns {"category": true, "supplier": {"name": true}} into
// ["category", "supplier.name"], sorted for deterministic SQL.
func flattenGroupFields(prefix string, fields map[string]any) ([]string, error) {
	var out []string
	for key, value := range fields {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := value.(type) {
		case bool:
			if v {
				out = append(out, path)
			}
		case map[string]any:
			nested, err := flattenGroupFields(path, v)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, errs.Validation("groupBy", "field %s must map to a boolean or nested object", path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func parseRelations(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePagination(values url.Values) (planner.PageRequest, error) {
	var page planner.PageRequest
	var err error

	if page.Page, err = intParam(values, "page"); err != nil {
		return page, err
	}
	if page.Limit, err = intParam(values, "limit"); err != nil {
		return page, err
	}
	if page.Skip, err = intParam(values, "skip"); err != nil {
		return page, err
	}
	if page.Take, err = intParam(values, "take"); err != nil {
		return page, err
	}
	return page, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(name, "must be an integer, got %q", raw)
	}
	return n, nil
}
