package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/observability/metrics"
	"github.com/carebook/clinic-scheduler/internal/reply"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type correlator interface {
	Correlate(ctx context.Context, conversationRef string, proposal reply.Proposal, now time.Time) (reply.Correlation, error)
}

const gatewayProvider = "gateway"

// gatewayEvent is the SMS provider's webhook envelope.
type gatewayEvent struct {
	ID              string `json:"id"`
	EventType       string `json:"eventType"`
	OrgID           string `json:"orgId"`
	ConversationRef string `json:"conversationRef"`
	Message         struct {
		ID        string `json:"id"`
		Direction string `json:"direction"`
		Body      string `json:"body"`
	} `json:"message"`
}

// GatewayWebhookHandler turns inbound SMS webhook deliveries into slot
// resolutions: dedupe, correlate the reply to its proposal, resolve.
type GatewayWebhookHandler struct {
	store      *schedule.Store
	processed  processedTracker
	correlator correlator
	resolver   slotResolver
	pub        notify.Publisher
	metrics    *metrics.SchedulerMetrics
	logger     *logging.Logger
	now        func() time.Time
}

type GatewayWebhookConfig struct {
	Store      *schedule.Store
	Processed  processedTracker
	Correlator correlator
	Resolver   slotResolver
	Publisher  notify.Publisher
	Metrics    *metrics.SchedulerMetrics
	Logger     *logging.Logger
}

func NewGatewayWebhookHandler(cfg GatewayWebhookConfig) *GatewayWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.NopPublisher{}
	}
	return &GatewayWebhookHandler{
		store:      cfg.Store,
		processed:  cfg.Processed,
		correlator: cfg.Correlator,
		resolver:   cfg.Resolver,
		pub:        cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// HandleMessages processes inbound message webhooks. The provider retries on
// non-2xx, so anything already handled or unresolvable by retrying is acked.
func (h *GatewayWebhookHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var evt gatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.ID == "" {
		h.metrics.ObserveWebhook("invalid")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if evt.EventType != "message.received" || evt.Message.Direction != "inbound" {
		h.metrics.ObserveWebhook("ignored")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if evt.OrgID == "" || evt.ConversationRef == "" {
		h.metrics.ObserveWebhook("invalid")
		http.Error(w, "orgId and conversationRef are required", http.StatusBadRequest)
		return
	}

	seen, err := h.processed.AlreadyProcessed(r.Context(), gatewayProvider, evt.ID)
	if err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if seen {
		h.metrics.ObserveWebhook("duplicate")
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	status, err := h.handleInbound(r.Context(), evt)
	if err != nil {
		h.metrics.ObserveWebhook("error")
		h.logger.Error("inbound webhook failed",
			"event_id", evt.ID, "org_id", evt.OrgID, "error", err)
		writeError(w, err)
		return
	}

	if _, err := h.processed.MarkProcessed(r.Context(), gatewayProvider, evt.ID); err != nil {
		// The resolve path is idempotent, so a replay of this event is safe.
		h.logger.Warn("mark processed failed", "event_id", evt.ID, "error", err)
	}
	h.metrics.ObserveWebhook(status)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *GatewayWebhookHandler) handleInbound(ctx context.Context, evt gatewayEvent) (string, error) {
	appt, err := h.store.GetAppointmentByConversation(ctx, nil, evt.OrgID, evt.ConversationRef)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			// Replies on conversations we are not tracking are acked.
			return "untracked", nil
		}
		return "", err
	}

	slot, proposal := openProposal(appt)
	if slot == nil {
		h.pub.Publish(ctx, evt.OrgID, notify.EventNeedsAttention, map[string]any{
			"appointmentId": appt.ID,
			"reason":        "reply received with no outstanding proposal",
			"messageBody":   evt.Message.Body,
		})
		return "no_proposal", nil
	}

	corr, err := h.correlator.Correlate(ctx, evt.ConversationRef, proposal, h.now())
	if err != nil {
		switch {
		case errors.Is(err, reply.ErrProposalExpired):
			if expErr := h.resolver.ExpireProposal(ctx, evt.OrgID, appt.ID, slot.ID); expErr != nil {
				return "", expErr
			}
			return "expired", nil
		case errors.Is(err, reply.ErrAmbiguous), errors.Is(err, reply.ErrNoInbound):
			h.pub.Publish(ctx, evt.OrgID, notify.EventNeedsAttention, map[string]any{
				"appointmentId": appt.ID,
				"slotId":        slot.ID,
				"reason":        err.Error(),
			})
			return "needs_attention", nil
		}
		return "", err
	}
	if corr.AlreadyResolved {
		return "already_resolved", nil
	}

	res, err := h.resolver.Resolve(ctx, evt.OrgID, appt.ID, corr.Decision, corr.Outbound.ID, corr.Inbound.ID)
	if err != nil {
		return "", err
	}
	switch {
	case res.AlreadyResolved:
		return "already_resolved", nil
	case res.NeedsAttention:
		return "needs_attention", nil
	default:
		return "resolved", nil
	}
}

// openProposal finds the appointment's pending slot and shapes its proposal
// for correlation.
func openProposal(appt *schedule.Appointment) (*schedule.Slot, reply.Proposal) {
	for i := range appt.Slots {
		sl := &appt.Slots[i]
		if sl.HasOpenProposal() {
			return sl, reply.Proposal{
				MessageRef: sl.Proposed.MessageRef,
				Body:       sl.Proposed.Body,
				CreatedAt:  sl.Proposed.CreatedAt,
			}
		}
	}
	return nil, reply.Proposal{}
}
