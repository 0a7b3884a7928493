package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/junctive/contexd/subs"
)

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.stats.subscriptionRequests.Add(1)

	limit, offset, err := s.pagination(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := parseOptions(r)

	list, total, err := s.notifier.List(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	threshold := s.notifier.FailThreshold()
	out := make([]interface{}, len(list))
	for i, sub := range list {
		out[i] = sub.Render(threshold, now)
	}

	if opts.count {
		w.Header().Set("Fiware-Total-Count", strconv.Itoa(total))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	s.stats.subscriptionRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	sub, err := subs.Parse(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.notifier.Create(sub); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/subscriptions/%s", sub.ID))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	s.stats.subscriptionRequests.Add(1)

	sub, err := s.notifier.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub.Render(s.notifier.FailThreshold(), time.Now()))
}

func (s *Server) handlePatchSubscription(w http.ResponseWriter, r *http.Request) {
	s.stats.subscriptionRequests.Add(1)

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := s.notifier.Patch(r.PathValue("id"), body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	s.stats.subscriptionRequests.Add(1)

	if err := s.notifier.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
