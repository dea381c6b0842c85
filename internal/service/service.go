// Package service exposes CRUD query services over registered entities. Each
// Service owns one entity and compiles declarative find/group-by requests
// through the planner, executing them against a dbexec.QueryExecutor.
package service

import (
	"context"
	"database/sql"

	"crudsql/internal/dbexec"
	"crudsql/internal/errs"
	"crudsql/internal/logging"
	"crudsql/internal/pagination"
	"crudsql/internal/planner"
	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
)

// Service is the per-entity CRUD service.
type Service struct {
	entity   schema.Entity
	registry *schema.Registry
	graph    *relgraph.Resolver
	assembly *planner.Assembly
	db       *sql.DB
	exec     dbexec.QueryExecutor
	logger   *logging.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithExecutor overrides the query executor (tests use this with sqlmock).
func WithExecutor(exec dbexec.QueryExecutor) Option {
	return func(s *Service) { s.exec = exec }
}

// New builds a service for one registered entity.
func New(entityName string, registry *schema.Registry, graph *relgraph.Resolver, db *sql.DB, opts ...Option) (*Service, error) {
	entity, err := registry.Entity(entityName)
	if err != nil {
		return nil, err
	}
	s := &Service{
		entity:   entity,
		registry: registry,
		graph:    graph,
		assembly: planner.NewAssembly(registry, graph),
		db:       db,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.exec = dbexec.NewStandardExecutor(db)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s, nil
}

// Entity returns the service's entity metadata.
func (s *Service) Entity() schema.Entity { return s.entity }

// Query is a declarative find request.
type Query struct {
	Relations   []string
	Where       map[string]any
	Order       []planner.OrderItem
	Page        planner.PageRequest
	WithDeleted bool
}

// Paged wraps a page of records with its pagination envelope.
type Paged struct {
	Data       []Record          `json:"data"`
	Pagination pagination.Result `json:"pagination"`
}

// BuildPlan compiles a find request without executing it. Exposed so
// transports can inspect or extend the query before execution.
func (s *Service) BuildPlan(q Query) (*planner.Plan, error) {
	return s.assembly.Build(s.entity.Name, planner.BuildInput{
		Relations:   q.Relations,
		Where:       q.Where,
		Order:       q.Order,
		Page:        q.Page,
		WithDeleted: q.WithDeleted,
	})
}

// FindAll returns the records matching the request. Under a guarded
// (two-phase) plan the correct page of distinct roots is fetched first and
// hydrated second.
func (s *Service) FindAll(ctx context.Context, q Query) ([]Record, error) {
	plan, err := s.BuildPlan(q)
	if err != nil {
		return nil, err
	}
	return s.executeFind(ctx, s.exec, plan, q)
}

// FindAllPaged returns the page of records plus the pagination envelope.
func (s *Service) FindAllPaged(ctx context.Context, q Query) (*Paged, error) {
	plan, err := s.BuildPlan(q)
	if err != nil {
		return nil, err
	}
	data, err := s.executeFind(ctx, s.exec, plan, q)
	if err != nil {
		return nil, err
	}
	total, err := s.count(ctx, s.exec, plan.Count)
	if err != nil {
		return nil, err
	}
	return &Paged{
		Data:       data,
		Pagination: pagination.Compute(total, plan.Skip, plan.Take),
	}, nil
}

// Pagination computes only the pagination envelope for a request.
func (s *Service) Pagination(ctx context.Context, q Query) (*pagination.Result, error) {
	plan, err := s.BuildPlan(q)
	if err != nil {
		return nil, err
	}
	total, err := s.count(ctx, s.exec, plan.Count)
	if err != nil {
		return nil, err
	}
	result := pagination.Compute(total, plan.Skip, plan.Take)
	return &result, nil
}

// FindOneOptions tune single-row lookups.
type FindOneOptions struct {
	Relations   []string
	WithDeleted bool
	// OrFail raises a NotFoundError instead of returning a nil record.
	OrFail bool
	Lock   planner.LockMode
}

// FindOne looks up one record by primary key. With no match it returns
// (nil, nil), or a NotFoundError when OrFail is set.
func (s *Service) FindOne(ctx context.Context, id any, opts FindOneOptions) (Record, error) {
	return s.findOne(ctx, s.exec, id, opts)
}

func (s *Service) findOne(ctx context.Context, exec dbexec.QueryExecutor, id any, opts FindOneOptions) (Record, error) {
	plan, err := s.assembly.Build(s.entity.Name, planner.BuildInput{
		Relations:   opts.Relations,
		Where:       map[string]any{s.entity.PrimaryKey: id},
		WithDeleted: opts.WithDeleted,
		Lock:        opts.Lock,
	})
	if err != nil {
		return nil, err
	}
	records, err := s.executeFind(ctx, exec, plan, Query{Relations: opts.Relations, WithDeleted: opts.WithDeleted})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if opts.OrFail {
			return nil, errs.NotFound(s.entity.Name, id)
		}
		return nil, nil
	}
	return records[0], nil
}

// Group is one grouped result row.
type Group struct {
	Key        map[string]any `json:"key"`
	Aggregates map[string]any `json:"aggregates"`
	Count      int            `json:"count"`
}

// Grouped wraps grouped rows with their pagination envelope.
type Grouped struct {
	Groups     []Group           `json:"groups"`
	Pagination pagination.Result `json:"pagination"`
}

// FindAllGrouped executes a group-by request. Pagination covers distinct
// groups; an empty row set yields zero groups and total 0.
func (s *Service) FindAllGrouped(ctx context.Context, in planner.GroupByInput) (*Grouped, error) {
	plan, err := s.assembly.BuildGrouped(s.entity.Name, in)
	if err != nil {
		return nil, err
	}

	rows, err := s.exec.QueryContext(ctx, plan.Rows.SQL, plan.Rows.Args...)
	if err != nil {
		return nil, err
	}
	groups, err := scanGroups(plan, rows)
	if err != nil {
		return nil, err
	}

	total, err := s.count(ctx, s.exec, plan.Count)
	if err != nil {
		return nil, err
	}
	return &Grouped{
		Groups:     groups,
		Pagination: pagination.Compute(total, plan.Skip, plan.Take),
	}, nil
}

func scanGroups(plan *planner.GroupPlan, rows dbexec.Rows) ([]Group, error) {
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		holders := make([]any, 0, len(plan.Keys)+1+len(plan.Aggregates))
		for _, k := range plan.Keys {
			holders = append(holders, holderFor(k.Field.Type))
		}
		countHolder := new(sql.NullInt64)
		holders = append(holders, countHolder)
		for _, agg := range plan.Aggregates {
			switch agg.Func {
			case planner.AggCount:
				holders = append(holders, new(sql.NullInt64))
			case planner.AggSum, planner.AggAvg:
				holders = append(holders, new(sql.NullFloat64))
			default:
				holders = append(holders, new(any))
			}
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}

		g := Group{Key: map[string]any{}, Aggregates: map[string]any{}}
		for i, k := range plan.Keys {
			g.Key[k.Key] = holderValue(holders[i])
		}
		if countHolder.Valid {
			g.Count = int(countHolder.Int64)
		}
		for i, agg := range plan.Aggregates {
			g.Aggregates[agg.Alias] = holderValue(holders[len(plan.Keys)+1+i])
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Service) executeFind(ctx context.Context, exec dbexec.QueryExecutor, plan *planner.Plan, q Query) ([]Record, error) {
	if plan.Mode == planner.SinglePhase {
		rows, err := exec.QueryContext(ctx, plan.Root.SQL, plan.Root.Args...)
		if err != nil {
			return nil, err
		}
		return s.foldRows(plan, rows)
	}

	// Two-phase: fetch the page of distinct root keys, then hydrate.
	s.logger.Debug("two-phase query", "entity", s.entity.Name)
	ids, err := s.fetchIDs(ctx, exec, plan)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	hydration, err := s.assembly.Hydrate(s.entity.Name, q.Relations, ids, q.WithDeleted, plan.Lock)
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, hydration.Root.SQL, hydration.Root.Args...)
	if err != nil {
		return nil, err
	}
	records, err := s.foldRows(hydration, rows)
	if err != nil {
		return nil, err
	}
	return reorderByIDs(records, s.entity.PrimaryKey, ids), nil
}

func (s *Service) fetchIDs(ctx context.Context, exec dbexec.QueryExecutor, plan *planner.Plan) ([]any, error) {
	rows, err := exec.QueryContext(ctx, plan.IDs.SQL, plan.IDs.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pkField, _ := s.entity.Field(s.entity.PrimaryKey)
	var ids []any
	for rows.Next() {
		holder := holderFor(pkField.Type)
		if err := rows.Scan(holder); err != nil {
			return nil, err
		}
		ids = append(ids, holderValue(holder))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// reorderByIDs restores the phase-one ordering, which the hydration query
// intentionally drops.
func reorderByIDs(records []Record, pkField string, ids []any) []Record {
	byPK := make(map[any]Record, len(records))
	for _, r := range records {
		byPK[r[pkField]] = r
	}
	out := make([]Record, 0, len(records))
	for _, id := range ids {
		if r, ok := byPK[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) count(ctx context.Context, exec dbexec.QueryExecutor, q planner.SQLQuery) (int, error) {
	rows, err := exec.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var total int
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return total, nil
}
