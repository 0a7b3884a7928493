package server

import (
	"net/http"
	"strconv"

	"github.com/junctive/contexd/registry"
)

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	s.stats.typeRequests.Add(1)

	limit, offset, err := s.pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := parseOptions(r)

	descriptors, total := s.types.ListTypes(limit, offset)

	out := make([]interface{}, len(descriptors))
	for i, desc := range descriptors {
		out[i] = renderType(desc, true, opts.noAttrDetail)
	}

	if opts.count {
		w.Header().Set("Fiware-Total-Count", strconv.Itoa(total))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetType(w http.ResponseWriter, r *http.Request) {
	s.stats.typeRequests.Add(1)

	desc, err := s.types.GetType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	opts := parseOptions(r)
	writeJSON(w, http.StatusOK, renderType(desc, false, opts.noAttrDetail))
}

// renderType shapes a type descriptor. The list endpoint includes the
// type name; the single-type endpoint does not repeat it. With attr
// detail suppressed, attrs flatten to a sorted name list.
func renderType(desc *registry.TypeDescriptor, includeName, noAttrDetail bool) map[string]interface{} {
	out := map[string]interface{}{
		"count": desc.Count,
	}
	if includeName {
		out["type"] = desc.Type
	}
	if noAttrDetail {
		out["attrs"] = desc.AttrNames()
	} else {
		out["attrs"] = desc.Attrs
	}
	return out
}
