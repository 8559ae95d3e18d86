package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pulse/internal/adapters/heartbeat"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/metrics"
)

const maxEnvelopeBytes = 16 << 10

func validateEnvelope(env model.Envelope) error {
	switch {
	case env.Type != model.EnvelopeTypeHeartRate:
		return fmt.Errorf("unsupported type %q", env.Type)
	case strings.TrimSpace(env.MessageID) == "":
		return errors.New("missing messageId")
	case strings.TrimSpace(env.OwnerID) == "":
		return errors.New("missing ownerId")
	case env.TimestampMs <= 0:
		return errors.New("missing timestampMs")
	case !env.IsValidReading && env.Status != model.StatusDisconnected:
		return errors.New("isValidReading=false requires status=disconnected")
	}
	return nil
}

// handleIngest accepts one relay envelope and writes it to the live store.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_heartbeat"
	ctx := r.Context()

	var env model.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)).Decode(&env); err != nil {
		metrics.RecordSampleRejected("malformed")
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateEnvelope(env); err != nil {
		metrics.RecordSampleRejected("malformed")
		s.writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if env.IsValidReading && !model.ValidBPM(env.BPM) {
		metrics.RecordSampleRejected("out_of_range")
		s.writeError(w, r, WrapKind(op, ErrInvalidSample, fmt.Errorf("bpm %d outside (%d, %d]", env.BPM, model.MinBPM, model.MaxBPM)))
		return
	}

	if s.deps.Deduper.SeenAndRecord(ctx, env.MessageID) {
		metrics.RecordIngestDuplicate()
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	sample := env.Sample()
	if env.Cleared() {
		sample.BPM = 0
	}
	if _, err := s.deps.Heartbeats.Write(ctx, env.OwnerID, sample, env.IsValidReading); err != nil {
		// Let the relay's next send through.
		s.deps.Deduper.Unrecord(ctx, env.MessageID)
		s.writeError(w, r, WrapKind(op, ErrUnavailable, err))
		return
	}
	metrics.RecordSampleIngested()
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// liveView is the follower-facing shape of a live record.
type liveView struct {
	OwnerID    string     `json:"ownerId"`
	BPM        int        `json:"bpm"`
	CapturedAt *time.Time `json:"capturedAt,omitempty"`
	Valid      bool       `json:"isValidReading"`
	Status     string     `json:"status,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (s *Server) handleGetHeartbeat(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_heartbeat"
	ownerID := chi.URLParam(r, "ownerID")

	rec, err := s.deps.Heartbeats.Read(r.Context(), ownerID)
	if errors.Is(err, heartbeat.ErrNotFound) {
		s.writeError(w, r, WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		s.writeError(w, r, WrapKind(op, ErrUnavailable, err))
		return
	}

	view := liveView{
		OwnerID:   rec.OwnerID,
		BPM:       rec.BPM(),
		Valid:     rec.Valid,
		Status:    rec.Status,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.LatestSample != nil {
		at := rec.LatestSample.CapturedAt
		view.CapturedAt = &at
	}
	writeJSON(w, http.StatusOK, view)
}
