package service

import (
	"database/sql"
	"fmt"
	"strings"

	"crudsql/internal/dbexec"
	"crudsql/internal/planner"
	"crudsql/internal/schema"
)

// Record is a generic entity row keyed by field name. Eager-loaded to-one
// relations nest a Record, to-many relations nest a []Record.
type Record map[string]any

func holderFor(t schema.FieldType) any {
	switch t {
	case schema.TypeInt:
		return new(sql.NullInt64)
	case schema.TypeFloat:
		return new(sql.NullFloat64)
	case schema.TypeBool:
		return new(sql.NullBool)
	case schema.TypeTime:
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

func holderValue(h any) any {
	switch v := h.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			return v.Time
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	case *any:
		return normalizeAny(*v)
	}
	return nil
}

func normalizeAny(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// joinNode precomputes the folding shape of one eager join: where its
// columns live in the select list, its relation key on the parent, and the
// primary key field used to deduplicate multiplied child rows.
type joinNode struct {
	path       string
	parentPath string
	key        string // relation field name on the parent
	toMany     bool
	pkField    string
	sels       []int // indexes into plan.Selects
}

func (s *Service) joinNodes(plan *planner.Plan) (rootSels []int, nodes []*joinNode, err error) {
	byPath := map[string]*joinNode{}
	for i, sel := range plan.Selects {
		if sel.Path == "" {
			rootSels = append(rootSels, i)
			continue
		}
		node, ok := byPath[sel.Path]
		if !ok {
			node = &joinNode{path: sel.Path, key: sel.Path}
			if idx := strings.LastIndex(sel.Path, "."); idx >= 0 {
				node.parentPath = sel.Path[:idx]
				node.key = sel.Path[idx+1:]
			}
			byPath[sel.Path] = node
			nodes = append(nodes, node)
		}
		node.sels = append(node.sels, i)
	}
	for _, j := range plan.Joins {
		node, ok := byPath[j.Path]
		if !ok {
			continue
		}
		node.toMany = j.ToMany
		target, err := s.registry.Entity(j.Target)
		if err != nil {
			return nil, nil, err
		}
		node.pkField = target.PrimaryKey
	}
	return rootSels, nodes, nil
}

// foldRows scans and folds a data query's rows into records. LEFT JOINs on
// to-many relations multiply rows; folding groups them back by root primary
// key and deduplicates children by their own primary keys. Joins register
// parents before children, so nodes can attach top-down within each row.
func (s *Service) foldRows(plan *planner.Plan, rows dbexec.Rows) ([]Record, error) {
	defer rows.Close()

	rootSels, nodes, err := s.joinNodes(plan)
	if err != nil {
		return nil, err
	}

	records := []Record{}
	roots := map[any]Record{}
	holders := make([]any, len(plan.Selects))

	for rows.Next() {
		for i, sel := range plan.Selects {
			holders[i] = holderFor(sel.Field.Type)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", plan.Entity.Name, err)
		}

		root := Record{}
		for _, i := range rootSels {
			root[plan.Selects[i].Field.Name] = holderValue(holders[i])
		}
		pk := root[plan.Entity.PrimaryKey]
		if existing, ok := roots[pk]; ok {
			root = existing
		} else {
			roots[pk] = root
			records = append(records, root)
		}

		// attached maps join path -> the record this row contributes at that
		// path, so child nodes can find their parent within the same row.
		attached := map[string]Record{"": root}
		for _, node := range nodes {
			parent, ok := attached[node.parentPath]
			if !ok || parent == nil {
				continue
			}

			child := Record{}
			allNil := true
			for _, i := range node.sels {
				v := holderValue(holders[i])
				child[plan.Selects[i].Field.Name] = v
				if v != nil {
					allNil = false
				}
			}

			if node.toMany {
				if _, set := parent[node.key]; !set {
					parent[node.key] = []Record{}
				}
				if allNil {
					continue
				}
				list, _ := parent[node.key].([]Record)
				if prev := findChild(list, node.pkField, child[node.pkField]); prev != nil {
					attached[node.path] = prev
					continue
				}
				parent[node.key] = append(list, child)
				attached[node.path] = child
			} else {
				if allNil {
					if _, set := parent[node.key]; !set {
						parent[node.key] = nil
					}
					continue
				}
				if prev, set := parent[node.key].(Record); set && prev != nil {
					attached[node.path] = prev
					continue
				}
				parent[node.key] = child
				attached[node.path] = child
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func findChild(list []Record, pkField string, pk any) Record {
	for _, r := range list {
		if r[pkField] == pk {
			return r
		}
	}
	return nil
}
