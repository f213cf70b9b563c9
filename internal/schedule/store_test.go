package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStoreGetAppointmentOrgScoped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	apptID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, org_id, patient_name").
		WithArgs(apptID, "org_1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "org_id", "patient_name", "conversation_ref", "participant_ref",
			"root_priority_id", "root_position", "slots", "version", "created_at", "updated_at",
		}).AddRow(apptID, "org_1", "Ada", "conv_1", "part_1", uuid.Nil, 0,
			[]byte(`[{"id":"`+uuid.NewString()+`","status":"Pending","position":0}]`), int64(3), now, now))

	appt, err := store.GetAppointment(context.Background(), nil, "org_1", apptID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if appt.Version != 3 || len(appt.Slots) != 1 || appt.Slots[0].Status != StatusPending {
		t.Fatalf("unexpected aggregate: %+v", appt)
	}
}

func TestStoreGetAppointmentMissingIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	apptID := uuid.New()

	mock.ExpectQuery("SELECT id, org_id, patient_name").
		WithArgs(apptID, "org_other").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetAppointment(context.Background(), nil, "org_other", apptID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("org mismatch: got %v, want ErrNotFound", err)
	}
}

func TestStoreSaveSlotsVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	appt := &Appointment{ID: uuid.New(), OrgID: "org_1", Version: 2}

	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0, appt.ID, "org_1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.SaveSlots(context.Background(), nil, appt); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale version: got %v, want ErrVersionConflict", err)
	}
	if appt.Version != 2 {
		t.Fatalf("version bumped despite conflict: %d", appt.Version)
	}
}

func TestStoreSaveSlotsBumpsVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	appt := &Appointment{ID: uuid.New(), OrgID: "org_1", Version: 2}

	mock.ExpectExec("UPDATE appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0, appt.ID, "org_1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.SaveSlots(context.Background(), nil, appt); err != nil {
		t.Fatalf("SaveSlots: %v", err)
	}
	if appt.Version != 3 {
		t.Fatalf("version = %d, want 3", appt.Version)
	}
}

func TestStoreInsertContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	rec := &ContactAppointment{
		OrgID:         "org_1",
		AppointmentID: uuid.New(),
		SlotID:        uuid.New(),
		Status:        ContactSent,
		StartDate:     time.Now(),
		EndDate:       time.Now().Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO contact_appointments").
		WithArgs(pgxmock.AnyArg(), "org_1", rec.AppointmentID, rec.SlotID, ContactSent,
			rec.StartDate, rec.EndDate, "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.InsertContact(context.Background(), nil, rec); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Fatal("contact id not assigned")
	}
}

func TestStoreUpdateContactStatusNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	contactID := uuid.New()

	mock.ExpectExec("UPDATE contact_appointments").
		WithArgs(ContactConfirmed, contactID, "org_2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.UpdateContactStatus(context.Background(), nil, "org_2", contactID, ContactConfirmed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing contact: got %v, want ErrNotFound", err)
	}
}
