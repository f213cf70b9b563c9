// Package reorder applies batched priority/position moves to appointment
// slots. Each move runs in its own transaction; the batch reports a per-item
// outcome list plus an aggregate.
package reorder

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/observability/metrics"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

// MoveKind distinguishes slot-level moves from the legacy whole-appointment
// variant.
type MoveKind string

const (
	// KindSlot targets one slot's priority/position.
	KindSlot MoveKind = "slot"
	// KindRoot is the legacy whole-appointment move touching the root-level
	// priority/position fields.
	//
	// Deprecated: slot-level ordering supersedes root fields; old clients
	// still send these.
	KindRoot MoveKind = "root"
)

// Move is one requested reposition. SlotID set means a slot move; absent
// means the deprecated root move.
type Move struct {
	AppointmentID uuid.UUID  `json:"appointmentId"`
	SlotID        uuid.UUID  `json:"slotId,omitempty"`
	NewPosition   *int       `json:"newPosition,omitempty"`
	NewPriorityID *uuid.UUID `json:"newPriorityId,omitempty"`
}

// Kind reports which variant the move is.
func (m Move) Kind() MoveKind {
	if m.SlotID != uuid.Nil {
		return KindSlot
	}
	return KindRoot
}

// ItemStatus is the per-move outcome.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
	ItemNoop    ItemStatus = "noop"
)

// AggregateStatus summarizes a batch.
type AggregateStatus string

const (
	AggregateAllSuccess AggregateStatus = "all_success"
	AggregateAllFailed  AggregateStatus = "all_failed"
	AggregateMixed      AggregateStatus = "mixed"
)

// ItemResult is the outcome of one deduplicated move.
type ItemResult struct {
	AppointmentID uuid.UUID  `json:"appointmentId"`
	SlotID        uuid.UUID  `json:"slotId,omitempty"`
	Status        ItemStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
}

// BatchResult is the full reorder response.
type BatchResult struct {
	Items     []ItemResult    `json:"items"`
	Aggregate AggregateStatus `json:"aggregate"`
}

// Service applies reorder batches against the schedule store.
type Service struct {
	store   *schedule.Store
	pub     notify.Publisher
	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger
}

func NewService(store *schedule.Store, pub notify.Publisher, m *metrics.SchedulerMetrics, logger *logging.Logger) *Service {
	if pub == nil {
		pub = notify.NopPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, pub: pub, metrics: m, logger: logger}
}

// ApplyMoves deduplicates the batch by (appointmentId, slotId), later entries
// winning, then applies each surviving move in its own transaction. A failed
// move never aborts the others.
func (s *Service) ApplyMoves(ctx context.Context, orgID string, moves []Move) (*BatchResult, error) {
	if len(moves) == 0 {
		return &BatchResult{Items: []ItemResult{}, Aggregate: AggregateAllSuccess}, nil
	}

	deduped := dedupe(moves)
	result := &BatchResult{Items: make([]ItemResult, 0, len(deduped))}

	var succeeded, failed int
	for _, mv := range deduped {
		item := ItemResult{AppointmentID: mv.AppointmentID, SlotID: mv.SlotID}
		status, err := s.applyOne(ctx, orgID, mv)
		item.Status = status
		switch status {
		case ItemFailed:
			item.Error = err.Error()
			failed++
			s.logger.Warn("reorder move failed",
				"org_id", orgID, "appointment_id", mv.AppointmentID, "slot_id", mv.SlotID, "error", err)
		case ItemSuccess:
			succeeded++
		}
		s.metrics.ObserveReorderMove(string(status))
		result.Items = append(result.Items, item)
	}

	switch {
	case failed == 0:
		result.Aggregate = AggregateAllSuccess
	case succeeded == 0 && failed == len(deduped):
		result.Aggregate = AggregateAllFailed
	default:
		result.Aggregate = AggregateMixed
	}

	if succeeded > 0 {
		s.pub.Publish(ctx, orgID, notify.EventSlotsReordered, result)
	}
	return result, nil
}

// dedupe keeps the last move per (appointmentID, slotID) while preserving the
// first-seen order of surviving keys.
func dedupe(moves []Move) []Move {
	type key struct {
		appt uuid.UUID
		slot uuid.UUID
	}
	idx := make(map[key]int, len(moves))
	out := make([]Move, 0, len(moves))
	for _, mv := range moves {
		k := key{mv.AppointmentID, mv.SlotID}
		if i, seen := idx[k]; seen {
			out[i] = mv
			continue
		}
		idx[k] = len(out)
		out = append(out, mv)
	}
	return out
}

func (s *Service) applyOne(ctx context.Context, orgID string, mv Move) (ItemStatus, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ItemFailed, fmt.Errorf("reorder: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	appt, err := s.store.GetAppointment(ctx, tx, orgID, mv.AppointmentID)
	if err != nil {
		// Org mismatch reads the same as absent.
		return ItemFailed, err
	}

	changed := false
	switch mv.Kind() {
	case KindSlot:
		slot, err := appt.SlotByID(mv.SlotID)
		if err != nil {
			return ItemFailed, err
		}
		if mv.NewPriorityID != nil && slot.PriorityID != *mv.NewPriorityID {
			slot.PriorityID = *mv.NewPriorityID
			changed = true
		}
		if mv.NewPosition != nil && slot.Position != *mv.NewPosition {
			slot.Position = *mv.NewPosition
			changed = true
		}
		if changed {
			normalizePositions(appt, slot.PriorityID, slot.ID)
		}
	case KindRoot:
		if mv.NewPriorityID != nil && appt.RootPriorityID != *mv.NewPriorityID {
			appt.RootPriorityID = *mv.NewPriorityID
			changed = true
		}
		if mv.NewPosition != nil && appt.RootPosition != *mv.NewPosition {
			appt.RootPosition = *mv.NewPosition
			changed = true
		}
	}

	if !changed {
		return ItemNoop, nil
	}
	if err := s.store.SaveSlots(ctx, tx, appt); err != nil {
		return ItemFailed, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ItemFailed, fmt.Errorf("reorder: commit: %w", err)
	}
	return ItemSuccess, nil
}

// normalizePositions re-packs the positions of all slots sharing the moved
// slot's priority into a gapless 0..n-1 run. The moved slot keeps its
// requested position; peers keep their relative order around it.
func normalizePositions(appt *schedule.Appointment, priorityID, movedSlotID uuid.UUID) {
	var peers []*schedule.Slot
	for i := range appt.Slots {
		if appt.Slots[i].PriorityID == priorityID {
			peers = append(peers, &appt.Slots[i])
		}
	}
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].Position != peers[j].Position {
			return peers[i].Position < peers[j].Position
		}
		// The moved slot wins a position tie.
		return peers[i].ID == movedSlotID
	})
	for i, sl := range peers {
		sl.Position = i
	}
}
