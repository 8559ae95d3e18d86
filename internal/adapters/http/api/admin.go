package api

import "net/http"

// handleSync rebuilds the ranking cache on demand.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_sync"
	res, err := s.deps.Rankings.ManualSync(r.Context())
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleReap runs a reaper sweep on demand.
func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_reap"
	res, err := s.deps.Reaper.Sweep(r.Context())
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
