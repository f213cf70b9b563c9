package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/events"
	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/schedule"
)

// ProposeRequest describes an alternative window to offer a patient.
type ProposeRequest struct {
	AppointmentID uuid.UUID
	SlotID        uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
	ProposedBy    schedule.ProposedBy
	Reason        string
	// Body is the SMS text carrying the offer. Kept verbatim so inbound
	// replies can be matched by content when the provider drops refs.
	Body string
}

// Propose moves the slot into Pending with a new open proposal, records the
// contact attempt, commits, then sends the SMS. A delivery failure after
// commit is partial success: the Pending state stands, the contact attempt is
// marked failed and the send is queued for the retry worker.
func (s *Service) Propose(ctx context.Context, orgID string, req ProposeRequest) (*schedule.Slot, error) {
	var (
		slotCopy schedule.Slot
		appt     *schedule.Appointment
		contact  *schedule.ContactAppointment
	)

	err := s.locker.WithAppointmentLock(ctx, orgID, req.AppointmentID, func(ctx context.Context) error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("resolver: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		appt, err = s.store.GetAppointment(ctx, tx, orgID, req.AppointmentID)
		if err != nil {
			return fmt.Errorf("resolver: load appointment: %w", err)
		}
		slot, err := appt.SlotByID(req.SlotID)
		if err != nil {
			return err
		}
		if slot.Status == schedule.StatusNotStarted {
			if err := slot.BeginContact(); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		err = slot.ApplyProposal(schedule.Proposal{
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
			ProposedBy: req.ProposedBy,
			Reason:     req.Reason,
			CreatedAt:  now,
			Body:       req.Body,
		}, now)
		if err != nil {
			return err
		}

		contact = &schedule.ContactAppointment{
			OrgID:           orgID,
			AppointmentID:   appt.ID,
			SlotID:          slot.ID,
			Status:          schedule.ContactSent,
			StartDate:       req.StartDate,
			EndDate:         req.EndDate,
			Context:         req.Reason,
			ConversationRef: appt.ConversationRef,
			ParticipantRef:  appt.ParticipantRef,
		}
		if err := s.store.InsertContact(ctx, tx, contact); err != nil {
			return err
		}
		if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("resolver: commit: %w", err)
		}
		slotCopy = *slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref, sendErr := s.gw.SendMessage(ctx, appt.ConversationRef, req.Body)
	if sendErr != nil {
		s.logger.Warn("proposal send failed, queueing retry",
			"org_id", orgID, "appointment_id", appt.ID, "slot_id", req.SlotID, "error", sendErr)
		if err := s.store.UpdateContactStatus(ctx, nil, orgID, contact.ID, schedule.ContactFailed); err != nil {
			s.logger.Error("contact status update failed", "contact_id", contact.ID, "error", err)
		}
		if s.retries != nil {
			err := s.retries.Enqueue(ctx, events.SendRetry{
				OrgID:          orgID,
				AppointmentID:  appt.ID,
				SlotID:         req.SlotID,
				ConversationID: appt.ConversationRef,
				Body:           req.Body,
			})
			if err != nil {
				s.logger.Error("retry enqueue failed", "appointment_id", appt.ID, "error", err)
			}
		}
		return &slotCopy, fmt.Errorf("%w: %s", ErrPartialSend, sendErr)
	}

	if err := s.stampMessageRef(ctx, orgID, req.AppointmentID, req.SlotID, ref); err != nil {
		// Correlation still works through content equality.
		s.logger.Warn("message ref stamp failed", "appointment_id", appt.ID, "error", err)
	} else {
		slotCopy.Proposed.MessageRef = ref
	}
	return &slotCopy, nil
}

// stampMessageRef records the outbound message id on the open proposal after
// the send succeeded.
func (s *Service) stampMessageRef(ctx context.Context, orgID string, appointmentID, slotID uuid.UUID, ref string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("resolver: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetAppointment(ctx, tx, orgID, appointmentID)
	if err != nil {
		return err
	}
	slot, err := appt.SlotByID(slotID)
	if err != nil {
		return err
	}
	if slot.Proposed == nil {
		return schedule.ErrNoOpenProposal
	}
	slot.Proposed.MessageRef = ref
	if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FailSlot records terminal delivery failure on a slot after the retry worker
// exhausts its attempts, and alerts staff. A slot the patient resolved in the
// meantime is left alone.
func (s *Service) FailSlot(ctx context.Context, orgID string, appointmentID, slotID uuid.UUID, reason string) error {
	var failed bool
	err := s.locker.WithAppointmentLock(ctx, orgID, appointmentID, func(ctx context.Context) error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("resolver: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		appt, err := s.store.GetAppointment(ctx, tx, orgID, appointmentID)
		if err != nil {
			return err
		}
		slot, err := appt.SlotByID(slotID)
		if err != nil {
			return err
		}
		if slot.Status != schedule.StatusPending {
			return nil
		}
		slot.MarkFailed()
		if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("resolver: commit: %w", err)
		}
		failed = true
		return nil
	})
	if err != nil {
		return err
	}
	if failed {
		s.pub.Publish(ctx, orgID, notify.EventNeedsAttention, map[string]any{
			"appointmentId": appointmentID,
			"slotId":        slotID,
			"reason":        reason,
		})
	}
	return nil
}

// ExpireProposal closes out a proposal that aged past eligibility: the slot
// moves to the terminal Contacted observation and the contact attempt is
// marked expired.
func (s *Service) ExpireProposal(ctx context.Context, orgID string, appointmentID, slotID uuid.UUID) error {
	return s.locker.WithAppointmentLock(ctx, orgID, appointmentID, func(ctx context.Context) error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("resolver: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		appt, err := s.store.GetAppointment(ctx, tx, orgID, appointmentID)
		if err != nil {
			return err
		}
		slot, err := appt.SlotByID(slotID)
		if err != nil {
			return err
		}
		if err := slot.MarkContacted(); err != nil {
			return err
		}
		if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
			return err
		}
		contact, err := s.store.LatestContactForSlot(ctx, tx, orgID, slotID)
		if err != nil && !errors.Is(err, schedule.ErrNotFound) {
			return err
		}
		if contact != nil {
			if err := s.store.UpdateContactStatus(ctx, tx, orgID, contact.ID, schedule.ContactExpired); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}
