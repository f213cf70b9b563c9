package schedule

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus tracks the lifecycle of a single contact attempt.
type ContactStatus string

const (
	ContactSent      ContactStatus = "sent"
	ContactConfirmed ContactStatus = "confirmed"
	ContactDeclined  ContactStatus = "declined"
	ContactExpired   ContactStatus = "expired"
	ContactFailed    ContactStatus = "failed"
)

// ContactAppointment is one contact attempt, tied 1:1 to the active proposal
// of a slot. It is only ever written inside a transaction that also writes
// its parent slot.
type ContactAppointment struct {
	ID              uuid.UUID     `json:"id"`
	OrgID           string        `json:"orgId"`
	AppointmentID   uuid.UUID     `json:"appointmentRef"`
	SlotID          uuid.UUID     `json:"slotId"`
	Status          ContactStatus `json:"status"`
	StartDate       time.Time     `json:"startDate"`
	EndDate         time.Time     `json:"endDate"`
	Context         string        `json:"context,omitempty"`
	ConversationRef string        `json:"conversationRef,omitempty"`
	ParticipantRef  string        `json:"participantRef,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}
