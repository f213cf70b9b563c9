// Package handlers exposes the scheduling engine over HTTP. Handlers stay
// thin: decode, re-validate org ownership, call a service, encode.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/locking"
	"github.com/carebook/clinic-scheduler/internal/resolver"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/internal/tenancy"
	"github.com/carebook/clinic-scheduler/internal/timeband"
)

// slotResolver is the slice of the orchestrator the HTTP layer needs.
type slotResolver interface {
	Resolve(ctx context.Context, orgID string, appointmentID uuid.UUID,
		decision schedule.Decision, proposalRef, inboundRef string) (*resolver.Resolution, error)
	Propose(ctx context.Context, orgID string, req resolver.ProposeRequest) (*schedule.Slot, error)
	ExpireProposal(ctx context.Context, orgID string, appointmentID, slotID uuid.UUID) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, timeband.ErrInvalidInterval), errors.Is(err, timeband.ErrInvalidDayMinutes):
		status = http.StatusBadRequest
	case errors.Is(err, schedule.ErrVersionConflict),
		errors.Is(err, schedule.ErrOpenProposal),
		errors.Is(err, schedule.ErrInvalidTransition),
		errors.Is(err, locking.ErrNotAcquired):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// orgFromRequest pulls the tenant set by the router middleware.
func orgFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok || orgID == "" {
		http.Error(w, "missing org scope", http.StatusBadRequest)
		return "", false
	}
	return orgID, true
}
