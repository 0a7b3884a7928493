package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
	"github.com/junctive/contexd/query"
	"github.com/junctive/contexd/store"
)

// handleBatchUpdate applies one action to a list of entities in a
// single atomic operation.
func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	s.stats.batchRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r)

	var req struct {
		ActionType string            `json:"actionType"`
		Entities   []json.RawMessage `json:"entities"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.BadRequestf("body is not a valid batch operation"))
		return
	}

	// Invalid action type rejects the batch before anything is parsed
	// or touched
	action, err := store.ParseActionType(req.ActionType)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, errors.BadRequestf("entities must not be empty"))
		return
	}

	elements := make([]*entity.Entity, 0, len(req.Entities))
	for _, raw := range req.Entities {
		e, err := entity.Parse(raw, opts.keyValues)
		if err != nil {
			writeError(w, err)
			return
		}
		elements = append(elements, e)
	}

	result, err := s.entities.ApplyBatch(action, elements)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, warning := range result.Warnings {
		logger.Warnw("Batch delete warning", "warning", warning)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBatchQuery runs a query expressed as a JSON body instead of
// URL parameters.
func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	s.stats.batchRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	limit, offset, err := s.pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := parseOptions(r)

	var req struct {
		Entities []struct {
			ID        string `json:"id"`
			IDPattern string `json:"idPattern"`
			Type      string `json:"type"`
		} `json:"entities"`
		Expression struct {
			Q string `json:"q"`
		} `json:"expression"`
		Attrs []string `json:"attrs"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.BadRequestf("body is not a valid query"))
		return
	}

	queryReq := query.Request{Limit: limit, Offset: offset, Attrs: req.Attrs}
	for _, m := range req.Entities {
		queryReq.Filters = append(queryReq.Filters, query.EntityFilter{
			ID:        m.ID,
			IDPattern: m.IDPattern,
			Type:      m.Type,
		})
	}
	if req.Expression.Q != "" {
		expr, err := query.ParseExpression(req.Expression.Q)
		if err != nil {
			writeError(w, err)
			return
		}
		queryReq.Expression = expr
	}

	results, total, err := s.queries.Query(queryReq)
	if err != nil {
		writeError(w, err)
		return
	}

	var attrs []string
	if len(req.Attrs) > 0 {
		attrs = req.Attrs
	}
	rendered, err := renderEntityList(results, entity.RenderOptions{
		KeyValues: opts.keyValues,
		Attrs:     attrs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if opts.count {
		w.Header().Set("Fiware-Total-Count", strconv.Itoa(total))
	}
	writeRaw(w, http.StatusOK, rendered)
}
