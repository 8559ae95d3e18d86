package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pulse/internal/adapters/rankcache"
)

const defaultLeaderboardLimit = 10

// handleLeaderboard handles GET /v1/leaderboard?limit=N. Sorted-set outages surface as
// stale=true in a 200 response.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("limit must be a positive integer")))
			return
		}
		n = v
	}
	if n > s.maxLimit {
		s.writeError(w, r, WrapKind(op, ErrBadRequest, fmt.Errorf("limit exceeds %d", s.maxLimit)))
		return
	}

	board, err := s.deps.Leaderboard.TopK(r.Context(), n)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleRank handles GET /v1/leaderboard/{ownerID}.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	entry, err := s.deps.Leaderboard.Rank(r.Context(), chi.URLParam(r, "ownerID"))
	if errors.Is(err, rankcache.ErrNotFound) {
		s.writeError(w, r, WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
