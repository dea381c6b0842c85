package httpapi

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/jinzhu/inflection"

	"crudsql/internal/logging"
	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
	"crudsql/internal/service"
)

// Options tune route registration.
type Options struct {
	DefaultListLimit int
	MaxListLimit     int
}

// Mount registers CRUD routes for every entity in the registry:
//
//	GET    /<plural>            list (filter, order, paginate)
//	GET    /<plural>/grouped    group-by with aggregates
//	GET    /<plural>/{id}       fetch one
//	POST   /<plural>            create
//	PATCH  /<plural>/{id}       partial update
//	DELETE /<plural>/{id}       remove (soft unless ?hard=true)
//	POST   /<plural>/{id}/recover  clear soft-delete
//
// Route names are pluralized, lowercased entity names.
func Mount(mux *http.ServeMux, registry *schema.Registry, graph *relgraph.Resolver, db *sql.DB, logger *logging.Logger, opts Options) (map[string]*service.Service, error) {
	services := make(map[string]*service.Service)
	seen := make(map[string]string)

	for _, entity := range registry.Entities() {
		svc, err := service.New(entity.Name, registry, graph, db, service.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		services[entity.Name] = svc

		route := routeName(entity.Name)
		if prev, dup := seen[route]; dup {
			return nil, fmt.Errorf("entities %s and %s map to the same route %q", prev, entity.Name, route)
		}
		seen[route] = entity.Name

		res := NewResource(svc, opts.DefaultListLimit, opts.MaxListLimit)
		mux.HandleFunc("GET /"+route, res.list)
		mux.HandleFunc("GET /"+route+"/grouped", res.grouped)
		mux.HandleFunc("GET /"+route+"/{id}", res.get)
		mux.HandleFunc("POST /"+route, res.create)
		mux.HandleFunc("PATCH /"+route+"/{id}", res.update)
		mux.HandleFunc("DELETE /"+route+"/{id}", res.remove)
		mux.HandleFunc("POST /"+route+"/{id}/recover", res.recover)

		logger.Info("entity routes registered", "entity", entity.Name, "route", "/"+route)
	}

	return services, nil
}

func routeName(entityName string) string {
	return inflection.Plural(strings.ToLower(entityName))
}
