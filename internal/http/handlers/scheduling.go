package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/gateway"
	"github.com/carebook/clinic-scheduler/internal/matching"
	"github.com/carebook/clinic-scheduler/internal/observability/metrics"
	"github.com/carebook/clinic-scheduler/internal/reorder"
	"github.com/carebook/clinic-scheduler/internal/resolver"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/internal/timeband"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

// SchedulingHandler serves the match, propose and reorder operations.
type SchedulingHandler struct {
	store     *schedule.Store
	resolver  slotResolver
	reorder   *reorder.Service
	directory gateway.DirectoryLookup
	metrics   *metrics.SchedulerMetrics
	logger    *logging.Logger
}

type SchedulingConfig struct {
	Store    *schedule.Store
	Resolver slotResolver
	Reorder  *reorder.Service
	// Directory is optional; when set, appointment reads include the
	// provider-side conversation metadata.
	Directory gateway.DirectoryLookup
	Metrics   *metrics.SchedulerMetrics
	Logger    *logging.Logger
}

func NewSchedulingHandler(cfg SchedulingConfig) *SchedulingHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &SchedulingHandler{
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		reorder:   cfg.Reorder,
		directory: cfg.Directory,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// HealthCheck reports liveness.
func (h *SchedulingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type matchRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Match ranks the org's waiting candidates against an open window.
func (h *SchedulingHandler) Match(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	requested := timeband.Interval{Start: req.Start, End: req.End}
	if err := requested.Validate(); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	avail, err := h.store.LoadAvailability(r.Context(), orgID, requested.Weekday())
	if err != nil {
		h.metrics.ObserveMatchLatency("error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}
	report, err := matching.Match(requested, avail)
	if err != nil {
		if errors.Is(err, matching.ErrNoCandidates) {
			h.metrics.ObserveMatchLatency("empty", time.Since(start).Seconds())
			writeJSON(w, http.StatusOK, matching.Report{
				Requested:       requested,
				DurationMinutes: requested.Minutes(),
				Weekday:         requested.Weekday(),
				Groups:          []matching.TierGroup{},
			})
			return
		}
		h.metrics.ObserveMatchLatency("error", time.Since(start).Seconds())
		writeError(w, err)
		return
	}
	h.metrics.ObserveMatchLatency("ok", time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, report)
}

type proposeRequest struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	SlotID        uuid.UUID `json:"slotId"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	Reason        string    `json:"reason,omitempty"`
	Body          string    `json:"body"`
}

// Propose offers a patient an alternative window over SMS.
func (h *SchedulingHandler) Propose(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == uuid.Nil || req.SlotID == uuid.Nil || req.Body == "" {
		http.Error(w, "appointmentId, slotId and body are required", http.StatusBadRequest)
		return
	}

	slot, err := h.resolver.Propose(r.Context(), orgID, resolver.ProposeRequest{
		AppointmentID: req.AppointmentID,
		SlotID:        req.SlotID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		ProposedBy:    schedule.ProposedByClinic,
		Reason:        req.Reason,
		Body:          req.Body,
	})
	if err != nil {
		if errors.Is(err, resolver.ErrPartialSend) {
			// The Pending state is committed; only delivery is outstanding.
			writeJSON(w, http.StatusAccepted, map[string]any{
				"slot":    slot,
				"partial": true,
				"detail":  "proposal stored, delivery queued for retry",
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot": slot})
}

type reorderRequest struct {
	Moves []reorder.Move `json:"moves"`
}

// Reorder applies a batch of priority/position moves.
func (h *SchedulingHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := h.reorder.ApplyMoves(r.Context(), orgID, req.Moves)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetAppointment returns one aggregate with its slot list.
func (h *SchedulingHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	appt, err := h.store.GetAppointment(r.Context(), nil, orgID, apptID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"appointment": appt}
	if h.directory != nil && appt.ConversationRef != "" {
		info, err := h.directory.LookupConversation(r.Context(), appt.ConversationRef)
		if err != nil {
			// The aggregate is still useful without provider metadata.
			h.logger.Warn("conversation lookup failed",
				"conversation_ref", appt.ConversationRef,
				"error", err,
			)
		} else {
			resp["conversation"] = info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
