package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/query"
)

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	s.stats.entityRequests.Add(1)

	limit, offset, err := s.pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := parseOptions(r)

	req := query.Request{
		Filters: filtersFromParams(r),
		Limit:   limit,
		Offset:  offset,
	}
	if q := r.URL.Query().Get("q"); q != "" {
		expr, err := query.ParseExpression(q)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Expression = expr
	}
	if attrs := splitParam(r.URL.Query().Get("attrs")); attrs != nil {
		req.Attrs = attrs
	}

	results, total, err := s.queries.Query(req)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := renderEntityList(results, entity.RenderOptions{
		KeyValues: opts.keyValues,
		Attrs:     req.Attrs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if opts.count {
		w.Header().Set("Fiware-Total-Count", strconv.Itoa(total))
	}
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	s.stats.entityRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r)

	e, err := entity.Parse(body, opts.keyValues)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.entities.Create(e); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/entities/%s", e.ID))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	s.stats.entityRequests.Add(1)

	e, err := s.entities.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if typeParam := r.URL.Query().Get("type"); typeParam != "" && typeParam != e.Type {
		writeError(w, errors.NotFoundf("entity %s with type %s not found", e.ID, typeParam))
		return
	}

	opts := parseOptions(r)
	rendered, err := e.Render(entity.RenderOptions{
		KeyValues: opts.keyValues,
		Attrs:     splitParam(r.URL.Query().Get("attrs")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, rendered)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	s.stats.entityRequests.Add(1)

	if err := s.entities.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatchAttrs(w http.ResponseWriter, r *http.Request) {
	s.stats.entityRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r)

	attrs, err := entity.ParseAttrs(body, opts.keyValues)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.entities.PatchAttrs(r.PathValue("id"), attrs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// filtersFromParams builds the OR-list of entity filters from the
// id/type/idPattern query parameters. Comma-separated ids or types
// expand into one filter each.
func filtersFromParams(r *http.Request) []query.EntityFilter {
	q := r.URL.Query()
	ids := splitParam(q.Get("id"))
	types := splitParam(q.Get("type"))
	idPattern := q.Get("idPattern")

	var filters []query.EntityFilter
	switch {
	case len(ids) > 0 && len(types) > 0:
		for _, id := range ids {
			for _, t := range types {
				filters = append(filters, query.EntityFilter{ID: id, Type: t})
			}
		}
	case len(ids) > 0:
		for _, id := range ids {
			filters = append(filters, query.EntityFilter{ID: id, IDPattern: idPattern})
		}
	case len(types) > 0:
		for _, t := range types {
			filters = append(filters, query.EntityFilter{Type: t, IDPattern: idPattern})
		}
	case idPattern != "":
		filters = append(filters, query.EntityFilter{IDPattern: idPattern})
	}
	return filters
}

func renderEntityList(entities []*entity.Entity, opts entity.RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range entities {
		if i > 0 {
			buf.WriteByte(',')
		}
		rendered, err := e.Render(opts)
		if err != nil {
			return nil, err
		}
		buf.Write(rendered)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
