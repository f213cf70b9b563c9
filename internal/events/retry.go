package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/gateway"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

// SendRetry is a queued outbound proposal message whose gateway send failed.
type SendRetry struct {
	ID             uuid.UUID
	OrgID          string
	AppointmentID  uuid.UUID
	SlotID         uuid.UUID
	ConversationID string
	Body           string
	Attempts       int
	NextAttemptAt  time.Time
	CreatedAt      time.Time
}

const maxSendAttempts = 5

// RetryStore persists failed sends for later redelivery.
type RetryStore struct {
	pool rowQuerier
}

func NewRetryStore(pool rowQuerier) *RetryStore {
	if pool == nil {
		panic("events: querier required")
	}
	return &RetryStore{pool: pool}
}

// Enqueue schedules a failed send for retry. The first attempt is due
// one minute out; subsequent backoff is computed on reschedule.
func (s *RetryStore) Enqueue(ctx context.Context, r SendRetry) error {
	query := `
		INSERT INTO send_retries (id, org_id, appointment_id, slot_id, conversation_id, body, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now() + interval '1 minute')
	`
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.OrgID, r.AppointmentID, r.SlotID, r.ConversationID, r.Body)
	if err != nil {
		return fmt.Errorf("events: enqueue retry: %w", err)
	}
	return nil
}

// Due returns retries whose next attempt time has passed.
func (s *RetryStore) Due(ctx context.Context, limit int) ([]SendRetry, error) {
	query := `
		SELECT id, org_id, appointment_id, slot_id, conversation_id, body, attempts, next_attempt_at, created_at
		FROM send_retries
		WHERE next_attempt_at <= now() AND attempts < $1
		ORDER BY next_attempt_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, maxSendAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list due retries: %w", err)
	}
	defer rows.Close()

	var out []SendRetry
	for rows.Next() {
		var r SendRetry
		if err := rows.Scan(&r.ID, &r.OrgID, &r.AppointmentID, &r.SlotID,
			&r.ConversationID, &r.Body, &r.Attempts, &r.NextAttemptAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan retry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate retries: %w", err)
	}
	return out, nil
}

// Reschedule bumps the attempt counter and pushes the next attempt out
// with exponential backoff (2^attempts minutes).
func (s *RetryStore) Reschedule(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE send_retries
		SET attempts = attempts + 1,
		    next_attempt_at = now() + (interval '1 minute' * power(2, attempts + 1))
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("events: reschedule retry: %w", err)
	}
	return nil
}

// Complete removes a retry entry once delivery succeeded.
func (s *RetryStore) Complete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM send_retries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("events: complete retry: %w", err)
	}
	return nil
}

// SlotFailer records terminal delivery failure on the slot a retry was
// carrying, once redelivery gives up.
type SlotFailer interface {
	FailSlot(ctx context.Context, orgID string, appointmentID, slotID uuid.UUID, reason string) error
}

// Deliverer polls the retry queue and redrives failed sends through the
// gateway. Run it once per process.
type Deliverer struct {
	store    *RetryStore
	sender   gateway.Sender
	failer   SlotFailer
	logger   *logging.Logger
	interval time.Duration
	batch    int
}

func NewDeliverer(store *RetryStore, sender gateway.Sender, failer SlotFailer, logger *logging.Logger) *Deliverer {
	return &Deliverer{
		store:    store,
		sender:   sender,
		failer:   failer,
		logger:   logger,
		interval: 30 * time.Second,
		batch:    20,
	}
}

// WithInterval overrides the poll interval.
func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Run blocks until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Deliverer) tick(ctx context.Context) {
	due, err := d.store.Due(ctx, d.batch)
	if err != nil {
		d.logger.Error("retry poll failed", "error", err)
		return
	}
	for _, r := range due {
		ref, err := d.sender.SendMessage(ctx, r.ConversationID, r.Body)
		if err != nil {
			if r.Attempts+1 >= maxSendAttempts {
				d.exhaust(ctx, r, err)
				continue
			}
			d.logger.Warn("retry send failed",
				"retry_id", r.ID, "attempts", r.Attempts+1, "error", err)
			if err := d.store.Reschedule(ctx, r.ID); err != nil {
				d.logger.Error("retry reschedule failed", "retry_id", r.ID, "error", err)
			}
			continue
		}
		d.logger.Info("retry send delivered",
			"retry_id", r.ID, "appointment_id", r.AppointmentID, "message_ref", ref)
		if err := d.store.Complete(ctx, r.ID); err != nil {
			d.logger.Error("retry cleanup failed", "retry_id", r.ID, "error", err)
		}
	}
}

// exhaust retires a retry whose final attempt failed: the slot is marked
// Failed so staff see it, and the row is removed from the queue.
func (d *Deliverer) exhaust(ctx context.Context, r SendRetry, sendErr error) {
	d.logger.Error("retry attempts exhausted",
		"retry_id", r.ID, "appointment_id", r.AppointmentID, "slot_id", r.SlotID, "error", sendErr)
	if d.failer != nil {
		if err := d.failer.FailSlot(ctx, r.OrgID, r.AppointmentID, r.SlotID,
			"proposal SMS undeliverable after repeated attempts"); err != nil {
			d.logger.Error("slot failure record failed",
				"retry_id", r.ID, "appointment_id", r.AppointmentID, "error", err)
		}
	}
	if err := d.store.Complete(ctx, r.ID); err != nil {
		d.logger.Error("retry cleanup failed", "retry_id", r.ID, "error", err)
	}
}
