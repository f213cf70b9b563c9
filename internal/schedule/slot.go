// Package schedule owns the persisted appointment aggregate and its ordered
// slot list. All status mutations go through the methods here so skipped
// transitions cannot be written from other packages.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotStatus is the confirmation lifecycle state of one slot.
type SlotStatus string

const (
	StatusNotStarted  SlotStatus = "NotStarted"
	StatusNoContacted SlotStatus = "NoContacted"
	StatusPending     SlotStatus = "Pending"
	StatusContacted   SlotStatus = "Contacted"
	StatusConfirmed   SlotStatus = "Confirmed"
	StatusRejected    SlotStatus = "Rejected"
	StatusFailed      SlotStatus = "Failed"
)

// ProposedBy identifies who issued a proposal.
type ProposedBy string

const (
	ProposedByClinic  ProposedBy = "clinic"
	ProposedByPatient ProposedBy = "patient"
	ProposedBySystem  ProposedBy = "system"
)

// Decision is the classified outcome of a patient reply.
type Decision string

const (
	DecisionConfirmed  Decision = "confirmed"
	DecisionDeclined   Decision = "declined"
	DecisionReschedule Decision = "reschedule"
	DecisionUnknown    Decision = "unknown"
)

var (
	// ErrNotFound covers both an absent document and an org mismatch, so a
	// tenant cannot probe for another tenant's ids.
	ErrNotFound = errors.New("schedule: appointment or slot not found")
	// ErrVersionConflict signals a concurrent writer won the optimistic check.
	ErrVersionConflict = errors.New("schedule: appointment version conflict")
	// ErrInvalidTransition is returned when a mutation would skip a state.
	ErrInvalidTransition = errors.New("schedule: invalid slot status transition")
	// ErrOpenProposal is returned when a second unresolved proposal is issued.
	ErrOpenProposal = errors.New("schedule: slot already has an open proposal")
	// ErrNoOpenProposal is returned when a decision arrives with nothing pending.
	ErrNoOpenProposal = errors.New("schedule: slot has no open proposal")
)

// Proposal is the candidate time offered to the patient, pending a reply.
type Proposal struct {
	StartDate  time.Time  `json:"startDate"`
	EndDate    time.Time  `json:"endDate"`
	ProposedBy ProposedBy `json:"proposedBy"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	// MessageRef is the outbound gateway message carrying this proposal.
	MessageRef string `json:"messageRef,omitempty"`
	// Body is the SMS text as sent. Correlation falls back to it when the
	// message ref stamp never landed.
	Body string `json:"body,omitempty"`
}

// Confirmation records the resolved decision for the slot's last proposal.
type Confirmation struct {
	Decision     Decision  `json:"decision"`
	DecidedAt    time.Time `json:"decidedAt"`
	ByMessageRef string    `json:"byMessageRef,omitempty"`
	LateResponse bool      `json:"lateResponse"`
}

// Origin keeps the first-ever booked window. Captured once, never overwritten.
type Origin struct {
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Slot is one concrete date/time candidate of an appointment.
type Slot struct {
	ID           uuid.UUID     `json:"id"`
	StartDate    time.Time     `json:"startDate"`
	EndDate      time.Time     `json:"endDate"`
	Status       SlotStatus    `json:"status"`
	PriorityID   uuid.UUID     `json:"priorityId"`
	TreatmentID  uuid.UUID     `json:"treatmentId,omitempty"`
	Proposed     *Proposal     `json:"proposed,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Origin       *Origin       `json:"origin,omitempty"`
	Position     int           `json:"position"`
}

// Appointment is the aggregate root. RootPriorityID/RootPosition are the
// legacy appointment-level ordering fields kept for old clients; slot-level
// ordering supersedes them.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	OrgID           string    `json:"orgId"`
	PatientName     string    `json:"patientName,omitempty"`
	ConversationRef string    `json:"conversationRef,omitempty"`
	ParticipantRef  string    `json:"participantRef,omitempty"`
	RootPriorityID  uuid.UUID `json:"rootPriorityId,omitempty"`
	RootPosition    int       `json:"rootPosition,omitempty"`
	Slots           []Slot    `json:"slots"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SlotByID returns a pointer into the aggregate's slot list.
func (a *Appointment) SlotByID(slotID uuid.UUID) (*Slot, error) {
	for i := range a.Slots {
		if a.Slots[i].ID == slotID {
			return &a.Slots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: slot %s", ErrNotFound, slotID)
}

// HasOpenProposal reports whether the slot carries an unresolved proposal.
func (s *Slot) HasOpenProposal() bool {
	return s.Status == StatusPending && s.Proposed != nil
}

// BeginContact moves a fresh slot into the contact campaign.
func (s *Slot) BeginContact() error {
	if s.Status != StatusNotStarted {
		return fmt.Errorf("%w: BeginContact from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusNoContacted
	return nil
}

// ApplyProposal enters Pending with a new open proposal. Allowed from
// NoContacted and from a previously decided slot (re-proposal). The original
// booked window is captured into Origin the first time the slot is steered
// away from it.
func (s *Slot) ApplyProposal(p Proposal, now time.Time) error {
	switch s.Status {
	case StatusNoContacted, StatusConfirmed, StatusRejected:
	default:
		return fmt.Errorf("%w: ApplyProposal from %s", ErrInvalidTransition, s.Status)
	}
	if s.HasOpenProposal() {
		return ErrOpenProposal
	}
	if !p.StartDate.Before(p.EndDate) {
		return fmt.Errorf("schedule: proposal window invalid: start %s end %s", p.StartDate, p.EndDate)
	}
	if s.Origin == nil {
		s.Origin = &Origin{StartDate: s.StartDate, EndDate: s.EndDate, CapturedAt: now}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	s.Proposed = &p
	s.Confirmation = nil
	s.Status = StatusPending
	return nil
}

// Confirm resolves the open proposal affirmatively: the proposed window
// becomes the slot's authoritative time.
func (s *Slot) Confirm(decidedAt time.Time, byMessageRef string) error {
	if !s.HasOpenProposal() {
		return ErrNoOpenProposal
	}
	s.StartDate = s.Proposed.StartDate
	s.EndDate = s.Proposed.EndDate
	s.Status = StatusConfirmed
	s.Confirmation = &Confirmation{
		Decision:     DecisionConfirmed,
		DecidedAt:    decidedAt,
		ByMessageRef: byMessageRef,
		LateResponse: decidedAt.After(s.StartDate),
	}
	return nil
}

// Reject resolves the open proposal negatively. When Origin is populated the
// slot reverts to it; otherwise the slot keeps its current window and the
// caller is told so it can raise a diagnostic.
func (s *Slot) Reject(decidedAt time.Time, byMessageRef string) (reverted bool, err error) {
	if !s.HasOpenProposal() {
		return false, ErrNoOpenProposal
	}
	if s.Origin != nil {
		s.StartDate = s.Origin.StartDate
		s.EndDate = s.Origin.EndDate
		reverted = true
	}
	s.Status = StatusRejected
	s.Confirmation = &Confirmation{
		Decision:     DecisionDeclined,
		DecidedAt:    decidedAt,
		ByMessageRef: byMessageRef,
		LateResponse: decidedAt.After(s.StartDate),
	}
	return reverted, nil
}

// MarkContacted records the terminal observation state: an attempt exists,
// nothing resolved it, and no further action is taken.
func (s *Slot) MarkContacted() error {
	if s.Status != StatusPending {
		return fmt.Errorf("%w: MarkContacted from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusContacted
	return nil
}

// MarkFailed records a failed contact attempt. Reachable from any
// attempt-sending step.
func (s *Slot) MarkFailed() {
	s.Status = StatusFailed
}

// CheckDecisionInvariant verifies that a decision timestamp exists exactly
// when the slot sits in a decided state.
func (s *Slot) CheckDecisionInvariant() error {
	decided := s.Status == StatusConfirmed || s.Status == StatusRejected
	stamped := s.Confirmation != nil && !s.Confirmation.DecidedAt.IsZero()
	if decided != stamped {
		return fmt.Errorf("schedule: slot %s violates decidedAt invariant (status %s, stamped %v)", s.ID, s.Status, stamped)
	}
	return nil
}
