// Package gqlapi exposes registered entities as a generated GraphQL query
// schema. It is a read-only surface over the same service layer the HTTP
// API uses; filter, order, and group-by arguments carry the identical JSON
// wire shapes.
package gqlapi

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/jinzhu/inflection"

	"crudsql/internal/httpapi"
	"crudsql/internal/planner"
	"crudsql/internal/scalars"
	"crudsql/internal/schema"
	"crudsql/internal/service"
)

// Builder assembles the GraphQL schema for a set of entity services.
type Builder struct {
	registry *schema.Registry
	services map[string]*service.Service

	defaultLimit int
	maxLimit     int

	// one instance per scalar name; graphql-go rejects duplicate type names
	jsonScalar *graphql.Scalar
	bigInt     *graphql.Scalar
	decimal    *graphql.Scalar
	nonNegInt  *graphql.Scalar

	paginationType *graphql.Object
	entityTypes    map[string]*graphql.Object
}

// NewBuilder returns a schema builder over the given services.
func NewBuilder(registry *schema.Registry, services map[string]*service.Service, defaultLimit, maxLimit int) *Builder {
	return &Builder{
		registry:     registry,
		services:     services,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		jsonScalar:   scalars.JSON(),
		bigInt:       scalars.BigInt(),
		decimal:      scalars.Decimal(),
		nonNegInt:    scalars.NonNegativeInt(),
		entityTypes:  make(map[string]*graphql.Object),
	}
}

// BuildSchema produces the query schema: per entity a list field, a by-id
// field, and a grouped field.
func (b *Builder) BuildSchema() (graphql.Schema, error) {
	fields := graphql.Fields{}

	for _, entity := range b.registry.Entities() {
		svc, ok := b.services[entity.Name]
		if !ok {
			return graphql.Schema{}, fmt.Errorf("no service registered for entity %s", entity.Name)
		}

		singular := strings.ToLower(entity.Name)
		plural := inflection.Plural(singular)

		fields[plural] = b.listField(entity, svc)
		fields[singular] = b.getField(entity, svc)
		fields[plural+"Grouped"] = b.groupedField(entity, svc)
	}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: fields,
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: query})
}

// Handler wraps the schema in an HTTP handler, optionally serving GraphiQL.
func (b *Builder) Handler(graphiql bool) (*handler.Handler, error) {
	schema, err := b.BuildSchema()
	if err != nil {
		return nil, err
	}
	return handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: graphiql,
	}), nil
}

func (b *Builder) listField(entity schema.Entity, svc *service.Service) *graphql.Field {
	return &graphql.Field{
		Type: b.pagedType(entity),
		Args: b.listArgs(),
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			q, err := b.queryFromArgs(p.Args)
			if err != nil {
				return nil, err
			}
			return svc.FindAllPaged(p.Context, q)
		},
	}
}

func (b *Builder) getField(entity schema.Entity, svc *service.Service) *graphql.Field {
	return &graphql.Field{
		Type: b.entityType(entity),
		Args: graphql.FieldConfigArgument{
			"id":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			"relations":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
			"withDeleted": &graphql.ArgumentConfig{Type: graphql.Boolean},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			return svc.FindOne(p.Context, p.Args["id"], service.FindOneOptions{
				Relations:   stringList(p.Args["relations"]),
				WithDeleted: boolArg(p.Args, "withDeleted"),
				OrFail:      true,
			})
		},
	}
}

func (b *Builder) groupedField(entity schema.Entity, svc *service.Service) *graphql.Field {
	args := b.listArgs()
	args["groupBy"] = &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}

	return &graphql.Field{
		Type: b.groupedType(entity),
		Args: args,
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			q, err := b.queryFromArgs(p.Args)
			if err != nil {
				return nil, err
			}
			in, err := httpapi.ParseGroupBy(p.Args["groupBy"].(string), q)
			if err != nil {
				return nil, err
			}
			return svc.FindAllGrouped(p.Context, in)
		},
	}
}

func (b *Builder) listArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"where":       &graphql.ArgumentConfig{Type: graphql.String},
		"orderBy":     &graphql.ArgumentConfig{Type: graphql.String},
		"relations":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
		"page":        &graphql.ArgumentConfig{Type: b.nonNegInt},
		"limit":       &graphql.ArgumentConfig{Type: b.nonNegInt},
		"skip":        &graphql.ArgumentConfig{Type: b.nonNegInt},
		"take":        &graphql.ArgumentConfig{Type: b.nonNegInt},
		"withDeleted": &graphql.ArgumentConfig{Type: graphql.Boolean},
	}
}

// queryFromArgs converts GraphQL arguments into a service query using the
// same parsers as the HTTP API.
func (b *Builder) queryFromArgs(args map[string]interface{}) (service.Query, error) {
	q := service.Query{
		Relations:   stringList(args["relations"]),
		WithDeleted: boolArg(args, "withDeleted"),
	}

	if raw, ok := args["where"].(string); ok && raw != "" {
		where, err := httpapi.ParseWhere(raw)
		if err != nil {
			return service.Query{}, err
		}
		q.Where = where
	}
	if raw, ok := args["orderBy"].(string); ok && raw != "" {
		order, err := httpapi.ParseOrderBy(raw)
		if err != nil {
			return service.Query{}, err
		}
		q.Order = order
	}

	q.Page = planner.PageRequest{
		Page:  intArg(args, "page"),
		Limit: intArg(args, "limit"),
		Skip:  intArg(args, "skip"),
		Take:  intArg(args, "take"),
	}
	if !q.Page.Requested() && b.defaultLimit > 0 {
		q.Page.Limit = b.defaultLimit
	}
	if b.maxLimit > 0 && (q.Page.Limit > b.maxLimit || q.Page.Take > b.maxLimit) {
		q.Page.Limit = min(q.Page.Limit, b.maxLimit)
		q.Page.Take = min(q.Page.Take, b.maxLimit)
	}

	return q, nil
}

func (b *Builder) entityType(entity schema.Entity) *graphql.Object {
	if cached, ok := b.entityTypes[entity.Name]; ok {
		return cached
	}

	fields := graphql.Fields{}
	for _, f := range entity.Fields {
		fields[f.Name] = &graphql.Field{Type: b.fieldType(f)}
	}
	for _, rel := range entity.Relations {
		// Relation payloads are nested records; surfaced as a JSON scalar to
		// keep the generated schema acyclic.
		fields[rel.Name] = &graphql.Field{Type: b.jsonScalar}
	}

	objType := graphql.NewObject(graphql.ObjectConfig{
		Name:   typeName(entity.Name),
		Fields: fields,
	})
	b.entityTypes[entity.Name] = objType
	return objType
}

func (b *Builder) fieldType(f schema.Field) graphql.Output {
	switch f.Type {
	case schema.TypeInt:
		return b.bigInt
	case schema.TypeFloat:
		return b.decimal
	case schema.TypeBool:
		return graphql.Boolean
	case schema.TypeTime:
		return graphql.DateTime
	case schema.TypeJSON:
		return b.jsonScalar
	default:
		return graphql.String
	}
}

func (b *Builder) pagedType(entity schema.Entity) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: typeName(entity.Name) + "Page",
		Fields: graphql.Fields{
			"data":       &graphql.Field{Type: graphql.NewList(b.entityType(entity))},
			"pagination": &graphql.Field{Type: b.paginationObject()},
		},
	})
}

func (b *Builder) groupedType(entity schema.Entity) *graphql.Object {
	groupType := graphql.NewObject(graphql.ObjectConfig{
		Name: typeName(entity.Name) + "Group",
		Fields: graphql.Fields{
			"key":        &graphql.Field{Type: b.jsonScalar},
			"aggregates": &graphql.Field{Type: b.jsonScalar},
			"count":      &graphql.Field{Type: graphql.Int},
		},
	})
	return graphql.NewObject(graphql.ObjectConfig{
		Name: typeName(entity.Name) + "GroupedPage",
		Fields: graphql.Fields{
			"groups":     &graphql.Field{Type: graphql.NewList(groupType)},
			"pagination": &graphql.Field{Type: b.paginationObject()},
		},
	})
}

func (b *Builder) paginationObject() *graphql.Object {
	if b.paginationType != nil {
		return b.paginationType
	}
	b.paginationType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Pagination",
		Fields: graphql.Fields{
			"total":           &graphql.Field{Type: graphql.Int},
			"count":           &graphql.Field{Type: graphql.Int},
			"limit":           &graphql.Field{Type: graphql.Int},
			"page":            &graphql.Field{Type: graphql.Int},
			"pageCount":       &graphql.Field{Type: graphql.Int},
			"hasNextPage":     &graphql.Field{Type: graphql.Boolean},
			"hasPreviousPage": &graphql.Field{Type: graphql.Boolean},
		},
	})
	return b.paginationType
}

func typeName(entityName string) string {
	if entityName == "" {
		return entityName
	}
	return strings.ToUpper(entityName[:1]) + entityName[1:]
}

func stringList(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolArg(args map[string]interface{}, name string) bool {
	v, _ := args[name].(bool)
	return v
}

func intArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
