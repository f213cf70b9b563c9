package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/carebook/clinic-scheduler/internal/events"
	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

type fakeRetryQueue struct {
	queued []events.SendRetry
	err    error
}

func (f *fakeRetryQueue) Enqueue(_ context.Context, r events.SendRetry) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, r)
	return nil
}

func freshAppointment(apptID, slotID uuid.UUID) *schedule.Appointment {
	start := time.Date(2026, 9, 8, 9, 0, 0, 0, time.UTC)
	return &schedule.Appointment{
		ID:              apptID,
		OrgID:           orgID,
		PatientName:     "Dana Reyes",
		ConversationRef: "conv-1",
		ParticipantRef:  "+15550100",
		Slots: []schedule.Slot{{
			ID:         slotID,
			StartDate:  start,
			EndDate:    start.Add(time.Hour),
			Status:     schedule.StatusNoContacted,
			PriorityID: uuid.New(),
		}},
		Version: 1,
	}
}

func proposeRequest(apptID, slotID uuid.UUID) ProposeRequest {
	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	return ProposeRequest{
		AppointmentID: apptID,
		SlotID:        slotID,
		StartDate:     start,
		EndDate:       start.Add(time.Hour),
		ProposedBy:    schedule.ProposedByClinic,
		Reason:        "earlier opening",
		Body:          "We can see you Thursday at 2pm. Reply YES to confirm.",
	}
}

func TestProposeSendsAfterCommit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	apptID, slotID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectLoad(t, mock, freshAppointment(apptID, slotID))
	mock.ExpectExec("INSERT INTO contact_appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	// Message ref stamp after the successful send.
	mock.ExpectBegin()
	stamped := freshAppointment(apptID, slotID)
	stamped.Slots[0].Status = schedule.StatusPending
	stamped.Slots[0].Proposed = &schedule.Proposal{
		StartDate: time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 9, 10, 15, 0, 0, 0, time.UTC),
	}
	stamped.Version = 2
	expectLoad(t, mock, stamped)
	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	gw := &fakeGateway{}
	svc := newTestService(mock, gw, &capturingPublisher{})

	slot, err := svc.Propose(context.Background(), orgID, proposeRequest(apptID, slotID))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if slot.Status != schedule.StatusPending {
		t.Fatalf("status = %s, want Pending", slot.Status)
	}
	if slot.Origin == nil {
		t.Fatal("origin should be captured on first proposal")
	}
	if len(gw.sentRefs) != 1 {
		t.Fatalf("expected one send, got %d", len(gw.sentRefs))
	}
	if slot.Proposed.MessageRef != gw.sentRefs[0] {
		t.Fatalf("message ref %q not stamped", slot.Proposed.MessageRef)
	}
	// The sent text rides on the proposal so replies can still be matched
	// by content when the ref stamp is lost.
	if slot.Proposed.Body != "We can see you Thursday at 2pm. Reply YES to confirm." {
		t.Fatalf("proposal body = %q", slot.Proposed.Body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestProposeSendFailureIsPartialSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	apptID, slotID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectLoad(t, mock, freshAppointment(apptID, slotID))
	mock.ExpectExec("INSERT INTO contact_appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	// Contact marked failed outside the committed transaction.
	mock.ExpectExec("UPDATE contact_appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	gw := &fakeGateway{sendErr: errors.New("provider timeout")}
	retries := &fakeRetryQueue{}
	svc := NewService(schedule.NewStore(mock), gw, nil, nil, retries, nil, logging.Default())
	svc.now = func() time.Time { return time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC) }

	slot, err := svc.Propose(context.Background(), orgID, proposeRequest(apptID, slotID))
	if !errors.Is(err, ErrPartialSend) {
		t.Fatalf("expected ErrPartialSend, got %v", err)
	}
	if slot == nil || slot.Status != schedule.StatusPending {
		t.Fatal("pending state must survive the failed send")
	}
	if len(retries.queued) != 1 {
		t.Fatalf("expected one queued retry, got %d", len(retries.queued))
	}
	if retries.queued[0].ConversationID != "conv-1" {
		t.Fatalf("retry conversation = %q", retries.queued[0].ConversationID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFailSlotMarksPendingTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	apptID, slotID := uuid.New(), uuid.New()
	appt := pendingAppointment(t, apptID, slotID, true)

	mock.ExpectBegin()
	expectLoad(t, mock, appt)
	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := &capturingPublisher{}
	svc := newTestService(mock, &fakeGateway{}, pub)

	err = svc.FailSlot(context.Background(), orgID, apptID, slotID, "proposal SMS undeliverable after repeated attempts")
	if err != nil {
		t.Fatalf("fail slot: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0] != notify.EventNeedsAttention {
		t.Fatalf("published events = %v", pub.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFailSlotLeavesResolvedSlotAlone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	apptID, slotID := uuid.New(), uuid.New()
	appt := pendingAppointment(t, apptID, slotID, true)
	appt.Slots[0].Status = schedule.StatusConfirmed
	appt.Slots[0].Proposed = nil
	appt.Slots[0].Confirmation = &schedule.Confirmation{
		Decision:  schedule.DecisionConfirmed,
		DecidedAt: time.Date(2026, 9, 2, 11, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	expectLoad(t, mock, appt)
	mock.ExpectRollback()

	pub := &capturingPublisher{}
	svc := newTestService(mock, &fakeGateway{}, pub)

	if err := svc.FailSlot(context.Background(), orgID, apptID, slotID, "undeliverable"); err != nil {
		t.Fatalf("fail slot: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("published events = %v, want none", pub.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestProposeRefusedWhileProposalOpen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	apptID, slotID := uuid.New(), uuid.New()
	appt := pendingAppointment(t, apptID, slotID, true)

	mock.ExpectBegin()
	expectLoad(t, mock, appt)
	mock.ExpectRollback()

	svc := newTestService(mock, &fakeGateway{}, &capturingPublisher{})

	_, err = svc.Propose(context.Background(), orgID, proposeRequest(apptID, slotID))
	if !errors.Is(err, schedule.ErrOpenProposal) && !errors.Is(err, schedule.ErrInvalidTransition) {
		t.Fatalf("expected open-proposal refusal, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
