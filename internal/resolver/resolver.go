// Package resolver orchestrates the transactional write path: applying a
// classified patient decision to a slot, recording the contact outcome, and
// stamping the gateway message linkage, all inside one database transaction.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/events"
	"github.com/carebook/clinic-scheduler/internal/gateway"
	"github.com/carebook/clinic-scheduler/internal/locking"
	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/observability/metrics"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

var (
	// ErrPartialSend means the proposal and its Pending status were committed
	// but the outbound message could not be delivered. The send sits in the
	// retry queue; the state change is not rolled back.
	ErrPartialSend = errors.New("resolver: proposal stored, send failed and queued for retry")
	// ErrNoPendingSlot means no slot on the appointment carries an open
	// proposal matching the reply.
	ErrNoPendingSlot = errors.New("resolver: no pending slot matches the reply")
)

// retryQueue is the subset of the events retry store the resolver needs.
type retryQueue interface {
	Enqueue(ctx context.Context, r events.SendRetry) error
}

// Resolution reports what a resolve call did to the aggregate.
type Resolution struct {
	AppointmentID   uuid.UUID         `json:"appointmentId"`
	SlotID          uuid.UUID         `json:"slotId"`
	Decision        schedule.Decision `json:"decision"`
	Status          schedule.SlotStatus `json:"status"`
	Reverted        bool              `json:"reverted"`
	LateResponse    bool              `json:"lateResponse"`
	AlreadyResolved bool              `json:"alreadyResolved"`
	NeedsAttention  bool              `json:"needsAttention"`
}

// Service coordinates slot mutations, contact records, gateway linkage and
// notifications. All mutations run under the per-appointment lock.
type Service struct {
	store   *schedule.Store
	gw      gateway.Gateway
	locker  locking.Locker
	pub     notify.Publisher
	retries retryQueue
	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(store *schedule.Store, gw gateway.Gateway, locker locking.Locker,
	pub notify.Publisher, retries retryQueue, m *metrics.SchedulerMetrics, logger *logging.Logger) *Service {
	if locker == nil {
		locker = locking.NopLocker{}
	}
	if pub == nil {
		pub = notify.NopPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		gw:      gw,
		locker:  locker,
		pub:     pub,
		retries: retries,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve applies a classified decision to the appointment's pending slot.
// The slot mutation, the contact status update and the gateway resolution
// linkage either all commit or none do. A version conflict gets one internal
// retry from a fresh read.
func (s *Service) Resolve(ctx context.Context, orgID string, appointmentID uuid.UUID,
	decision schedule.Decision, proposalRef, inboundRef string) (*Resolution, error) {

	var res *Resolution
	err := s.locker.WithAppointmentLock(ctx, orgID, appointmentID, func(ctx context.Context) error {
		var err error
		for attempt := 0; attempt < 2; attempt++ {
			res, err = s.resolveOnce(ctx, orgID, appointmentID, decision, proposalRef, inboundRef)
			if !errors.Is(err, schedule.ErrVersionConflict) {
				return err
			}
			s.logger.Warn("resolve hit version conflict, retrying",
				"org_id", orgID, "appointment_id", appointmentID)
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
		return err
	})
	if err != nil {
		s.metrics.ObserveResolution(string(decision), "error")
		return nil, err
	}

	status := "ok"
	if res.AlreadyResolved {
		status = "duplicate"
	}
	s.metrics.ObserveResolution(string(decision), status)

	if res.NeedsAttention {
		s.pub.Publish(ctx, orgID, notify.EventNeedsAttention, res)
	} else if !res.AlreadyResolved {
		s.pub.Publish(ctx, orgID, notify.EventSlotResolved, res)
	}
	return res, nil
}

func (s *Service) resolveOnce(ctx context.Context, orgID string, appointmentID uuid.UUID,
	decision schedule.Decision, proposalRef, inboundRef string) (*Resolution, error) {

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetAppointment(ctx, tx, orgID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("resolver: load appointment: %w", err)
	}

	slot, err := pendingSlot(appt, proposalRef, inboundRef)
	if err != nil {
		return nil, err
	}

	// Replayed delivery: the slot was already settled by this exact message.
	if slot.Confirmation != nil && slot.Confirmation.ByMessageRef == inboundRef && inboundRef != "" {
		return &Resolution{
			AppointmentID:   appt.ID,
			SlotID:          slot.ID,
			Decision:        slot.Confirmation.Decision,
			Status:          slot.Status,
			AlreadyResolved: true,
		}, nil
	}

	// Unclear replies never mutate the slot; staff take over.
	if decision == schedule.DecisionUnknown || decision == schedule.DecisionReschedule {
		return &Resolution{
			AppointmentID:  appt.ID,
			SlotID:         slot.ID,
			Decision:       decision,
			Status:         slot.Status,
			NeedsAttention: true,
		}, nil
	}

	decidedAt := s.now().UTC()
	res := &Resolution{
		AppointmentID: appt.ID,
		SlotID:        slot.ID,
		Decision:      decision,
	}
	var contactStatus schedule.ContactStatus
	switch decision {
	case schedule.DecisionConfirmed:
		if err := slot.Confirm(decidedAt, inboundRef); err != nil {
			return nil, fmt.Errorf("resolver: confirm slot: %w", err)
		}
		contactStatus = schedule.ContactConfirmed
	case schedule.DecisionDeclined:
		reverted, err := slot.Reject(decidedAt, inboundRef)
		if err != nil {
			return nil, fmt.Errorf("resolver: reject slot: %w", err)
		}
		res.Reverted = reverted
		if !reverted {
			res.NeedsAttention = true
			s.logger.Warn("rejected slot has no origin to revert to",
				"org_id", orgID, "appointment_id", appt.ID, "slot_id", slot.ID)
		}
	default:
		return nil, fmt.Errorf("resolver: unsupported decision %q", decision)
	}
	res.Status = slot.Status
	res.LateResponse = slot.Confirmation != nil && slot.Confirmation.LateResponse
	if contactStatus == "" {
		contactStatus = schedule.ContactDeclined
	}

	if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
		if errors.Is(err, schedule.ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("resolver: save slots: %w", err)
	}

	contact, err := s.store.LatestContactForSlot(ctx, tx, orgID, slot.ID)
	if err != nil && !errors.Is(err, schedule.ErrNotFound) {
		return nil, fmt.Errorf("resolver: load contact: %w", err)
	}
	if contact != nil {
		if err := s.store.UpdateContactStatus(ctx, tx, orgID, contact.ID, contactStatus); err != nil {
			return nil, fmt.Errorf("resolver: update contact: %w", err)
		}
	}

	// Stamp the resolution linkage on the proposal message before committing
	// so a gateway failure rolls the whole decision back.
	if proposalRef != "" && inboundRef != "" {
		if err := s.gw.ResolveMessage(ctx, appt.ConversationRef, proposalRef, inboundRef); err != nil {
			return nil, fmt.Errorf("resolver: resolve message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("resolver: commit: %w", err)
	}
	return res, nil
}

// pendingSlot finds the slot the reply settles: by proposal message ref when
// known, otherwise the appointment's single pending slot. A slot already
// resolved by this inbound message also matches, for replay detection.
func pendingSlot(appt *schedule.Appointment, proposalRef, inboundRef string) (*schedule.Slot, error) {
	if proposalRef != "" {
		for i := range appt.Slots {
			sl := &appt.Slots[i]
			if sl.Proposed != nil && sl.Proposed.MessageRef == proposalRef {
				return sl, nil
			}
		}
	}
	if inboundRef != "" {
		for i := range appt.Slots {
			sl := &appt.Slots[i]
			if sl.Confirmation != nil && sl.Confirmation.ByMessageRef == inboundRef {
				return sl, nil
			}
		}
	}
	var open *schedule.Slot
	for i := range appt.Slots {
		if appt.Slots[i].HasOpenProposal() {
			if open != nil {
				return nil, fmt.Errorf("%w: multiple pending slots, proposal ref required", ErrNoPendingSlot)
			}
			open = &appt.Slots[i]
		}
	}
	if open == nil {
		return nil, ErrNoPendingSlot
	}
	return open, nil
}
