package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both the pool and a pgx.Tx so every store method
// can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists appointment aggregates and contact attempts in Postgres.
// Slot lists live as a JSONB document per appointment row; a version column
// provides the optimistic check that serializes writers per aggregate.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// nullableUUID maps the zero uuid to SQL NULL for optional references.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// InsertAppointment creates the aggregate with its initial slot list.
func (s *Store) InsertAppointment(ctx context.Context, q Querier, appt *Appointment) error {
	if q == nil {
		q = s.pool
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	slots, err := json.Marshal(appt.Slots)
	if err != nil {
		return fmt.Errorf("schedule: marshal slots: %w", err)
	}
	query := `
		INSERT INTO appointments (
			id, org_id, patient_name, conversation_ref, participant_ref,
			root_priority_id, root_position, slots, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
	`
	_, err = q.Exec(ctx, query,
		appt.ID, appt.OrgID, appt.PatientName, appt.ConversationRef, appt.ParticipantRef,
		nullableUUID(appt.RootPriorityID), appt.RootPosition, slots)
	if err != nil {
		return fmt.Errorf("schedule: insert appointment: %w", err)
	}
	appt.Version = 1
	return nil
}

// GetAppointment loads an aggregate scoped to the org. A missing row and an
// org mismatch both come back as ErrNotFound.
func (s *Store) GetAppointment(ctx context.Context, q Querier, orgID string, apptID uuid.UUID) (*Appointment, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, org_id, patient_name, conversation_ref, participant_ref,
			COALESCE(root_priority_id, '00000000-0000-0000-0000-000000000000'::uuid),
			root_position, slots, version, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND org_id = $2
	`
	return s.scanAppointment(q.QueryRow(ctx, query, apptID, orgID))
}

// GetAppointmentByConversation resolves the aggregate the gateway
// conversation belongs to.
func (s *Store) GetAppointmentByConversation(ctx context.Context, q Querier, orgID, conversationRef string) (*Appointment, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, org_id, patient_name, conversation_ref, participant_ref,
			COALESCE(root_priority_id, '00000000-0000-0000-0000-000000000000'::uuid),
			root_position, slots, version, created_at, updated_at
		FROM appointments
		WHERE conversation_ref = $1 AND org_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return s.scanAppointment(q.QueryRow(ctx, query, conversationRef, orgID))
}

func (s *Store) scanAppointment(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var slots []byte
	err := row.Scan(&appt.ID, &appt.OrgID, &appt.PatientName, &appt.ConversationRef,
		&appt.ParticipantRef, &appt.RootPriorityID, &appt.RootPosition, &slots,
		&appt.Version, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedule: load appointment: %w", err)
	}
	if err := json.Unmarshal(slots, &appt.Slots); err != nil {
		return nil, fmt.Errorf("schedule: decode slots: %w", err)
	}
	return &appt, nil
}

// SaveSlots writes the aggregate's slot list back, guarded by the version the
// caller loaded. A lost race surfaces as ErrVersionConflict so the operation
// can be retried from a fresh read.
func (s *Store) SaveSlots(ctx context.Context, q Querier, appt *Appointment) error {
	if q == nil {
		q = s.pool
	}
	slots, err := json.Marshal(appt.Slots)
	if err != nil {
		return fmt.Errorf("schedule: marshal slots: %w", err)
	}
	query := `
		UPDATE appointments
		SET slots = $1,
			root_priority_id = $2,
			root_position = $3,
			version = version + 1,
			updated_at = now()
		WHERE id = $4 AND org_id = $5 AND version = $6
	`
	ct, err := q.Exec(ctx, query, slots, nullableUUID(appt.RootPriorityID), appt.RootPosition,
		appt.ID, appt.OrgID, appt.Version)
	if err != nil {
		return fmt.Errorf("schedule: save slots: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	appt.Version++
	return nil
}

// InsertContact records a contact attempt for a slot's active proposal.
func (s *Store) InsertContact(ctx context.Context, q Querier, rec *ContactAppointment) error {
	if q == nil {
		q = s.pool
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO contact_appointments (
			id, org_id, appointment_id, slot_id, status,
			start_date, end_date, context, conversation_ref, participant_ref
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := q.Exec(ctx, query, rec.ID, rec.OrgID, rec.AppointmentID, rec.SlotID,
		rec.Status, rec.StartDate, rec.EndDate, rec.Context, rec.ConversationRef, rec.ParticipantRef)
	if err != nil {
		return fmt.Errorf("schedule: insert contact: %w", err)
	}
	return nil
}

// LatestContactForSlot returns the most recent contact attempt for the slot.
func (s *Store) LatestContactForSlot(ctx context.Context, q Querier, orgID string, slotID uuid.UUID) (*ContactAppointment, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, org_id, appointment_id, slot_id, status, start_date, end_date,
			context, conversation_ref, participant_ref, created_at, updated_at
		FROM contact_appointments
		WHERE org_id = $1 AND slot_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var rec ContactAppointment
	err := q.QueryRow(ctx, query, orgID, slotID).Scan(
		&rec.ID, &rec.OrgID, &rec.AppointmentID, &rec.SlotID, &rec.Status,
		&rec.StartDate, &rec.EndDate, &rec.Context, &rec.ConversationRef,
		&rec.ParticipantRef, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedule: load contact: %w", err)
	}
	return &rec, nil
}

// UpdateContactStatus moves a contact attempt to a resolved state.
func (s *Store) UpdateContactStatus(ctx context.Context, q Querier, orgID string, contactID uuid.UUID, status ContactStatus) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE contact_appointments
		SET status = $1, updated_at = now()
		WHERE id = $2 AND org_id = $3
	`
	ct, err := q.Exec(ctx, query, status, contactID, orgID)
	if err != nil {
		return fmt.Errorf("schedule: update contact status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountContactsForSlot reports how many contact attempts exist for a slot.
// The resolver uses it to prove idempotent replays do not add attempts.
func (s *Store) CountContactsForSlot(ctx context.Context, q Querier, orgID string, slotID uuid.UUID) (int, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT count(*) FROM contact_appointments WHERE org_id = $1 AND slot_id = $2`
	var n int
	if err := q.QueryRow(ctx, query, orgID, slotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("schedule: count contacts: %w", err)
	}
	return n, nil
}
