package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"crudsql/internal/errs"
	"crudsql/internal/planner"
	"crudsql/internal/schema"
	"crudsql/internal/service"
)

// Resource serves the CRUD endpoints of one entity.
type Resource struct {
	svc          *service.Service
	defaultLimit int
	maxLimit     int
}

// NewResource wraps an entity service for HTTP serving. defaultLimit applies
// when a list request carries no pagination at all; maxLimit caps limit/take.
func NewResource(svc *service.Service, defaultLimit, maxLimit int) *Resource {
	return &Resource{svc: svc, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

func (res *Resource) list(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := res.capPage(&q.Page); err != nil {
		writeError(w, r, err)
		return
	}

	paged, err := res.svc.FindAllPaged(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged)
}

func (res *Resource) grouped(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw := r.URL.Query().Get("groupBy")
	if raw == "" {
		writeError(w, r, errs.Validation("groupBy", "required"))
		return
	}
	if err := res.capPage(&q.Page); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := ParseGroupBy(raw, q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	grouped, err := res.svc.FindAllGrouped(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (res *Resource) get(w http.ResponseWriter, r *http.Request) {
	id, err := res.coerceID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()

	record, err := res.svc.FindOne(r.Context(), id, service.FindOneOptions{
		Relations:   parseRelations(q.Get("relations")),
		WithDeleted: q.Get("withDeleted") == "true",
		OrFail:      true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (res *Resource) create(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := res.svc.Create(r.Context(), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (res *Resource) update(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeRecord(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := res.coerceID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := res.svc.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res *Resource) remove(w http.ResponseWriter, r *http.Request) {
	id, err := res.coerceID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	if err := res.svc.Remove(r.Context(), id, hard); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (res *Resource) recover(w http.ResponseWriter, r *http.Request) {
	id, err := res.coerceID(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	recovered, err := res.svc.Recover(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recovered)
}

// coerceID converts the path id to the primary key's declared scalar type.
func (res *Resource) coerceID(raw string) (any, error) {
	entity := res.svc.Entity()
	field, ok := entity.Field(entity.PrimaryKey)
	if !ok {
		return raw, nil
	}
	switch field.Type {
	case schema.TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errs.Validation(entity.PrimaryKey, "must be an integer, got %q", raw)
		}
		return n, nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.Validation(entity.PrimaryKey, "must be a number, got %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// capPage applies the server's default and maximum page sizes. A request with
// no pagination at all gets the default limit so unbounded scans stay opt-in.
func (res *Resource) capPage(page *planner.PageRequest) error {
	if !page.Requested() {
		if res.defaultLimit > 0 {
			page.Limit = res.defaultLimit
		}
		return nil
	}
	if res.maxLimit > 0 {
		if page.Limit > res.maxLimit {
			return errs.Validation("limit", "exceeds maximum of %d", res.maxLimit)
		}
		if page.Take > res.maxLimit {
			return errs.Validation("take", "exceeds maximum of %d", res.maxLimit)
		}
	}
	return nil
}

func decodeRecord(body io.Reader) (service.Record, error) {
	var rec service.Record
	dec := json.NewDecoder(body)
	if err := dec.Decode(&rec); err != nil {
		return nil, errs.Validation("body", "malformed JSON: %v", err)
	}
	return rec, nil
}
