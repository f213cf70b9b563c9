package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/matching"
	"github.com/carebook/clinic-scheduler/internal/timeband"
)

// ListPriorityTiers returns the org's tier catalog ordered by rank.
func (s *Store) ListPriorityTiers(ctx context.Context, orgID string) ([]timeband.PriorityTier, error) {
	query := `
		SELECT id, org_id, rank, name, duration_hours, color
		FROM priority_tiers
		WHERE org_id = $1
		ORDER BY rank
	`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list priority tiers: %w", err)
	}
	defer rows.Close()

	var tiers []timeband.PriorityTier
	for rows.Next() {
		var t timeband.PriorityTier
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Rank, &t.Name, &t.DurationHours, &t.Color); err != nil {
			return nil, fmt.Errorf("schedule: scan priority tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ListTimeBlocks returns the availability bands for one weekday, keyed by
// tier. Superseded blocks are excluded; they stay in the table for audit.
func (s *Store) ListTimeBlocks(ctx context.Context, orgID string, weekday time.Weekday) (map[uuid.UUID][]timeband.TimeBlock, error) {
	query := `
		SELECT id, org_id, priority_id, weekday, start_of_day, end_of_day, label
		FROM time_blocks
		WHERE org_id = $1 AND weekday = $2 AND superseded_at IS NULL
		ORDER BY start_of_day
	`
	rows, err := s.pool.Query(ctx, query, orgID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("schedule: list time blocks: %w", err)
	}
	defer rows.Close()

	blocks := make(map[uuid.UUID][]timeband.TimeBlock)
	for rows.Next() {
		var b timeband.TimeBlock
		var priorityID uuid.UUID
		var day int
		if err := rows.Scan(&b.ID, &b.OrgID, &priorityID, &day, &b.StartOfDay, &b.EndOfDay, &b.Label); err != nil {
			return nil, fmt.Errorf("schedule: scan time block: %w", err)
		}
		b.Weekday = time.Weekday(day)
		blocks[priorityID] = append(blocks[priorityID], b)
	}
	return blocks, rows.Err()
}

// ListWaitingCandidates returns appointments whose slots are still waiting
// for a window, in a stable creation order for deterministic match runs.
func (s *Store) ListWaitingCandidates(ctx context.Context, orgID string) ([]matching.Candidate, error) {
	query := `
		SELECT a.id, a.patient_name,
			COALESCE(
				(SELECT (slot->>'priorityId')::uuid
				 FROM jsonb_array_elements(a.slots) WITH ORDINALITY AS s(slot, ord)
				 WHERE slot->>'status' IN ('NotStarted', 'NoContacted', 'Rejected')
				 ORDER BY ord LIMIT 1),
				a.root_priority_id,
				'00000000-0000-0000-0000-000000000000'::uuid)
		FROM appointments a
		WHERE a.org_id = $1
			AND EXISTS (
				SELECT 1 FROM jsonb_array_elements(a.slots) slot
				WHERE slot->>'status' IN ('NotStarted', 'NoContacted', 'Rejected')
			)
		ORDER BY a.created_at, a.id
	`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("schedule: list waiting candidates: %w", err)
	}
	defer rows.Close()

	var cands []matching.Candidate
	for rows.Next() {
		var c matching.Candidate
		if err := rows.Scan(&c.AppointmentID, &c.PatientName, &c.PriorityID); err != nil {
			return nil, fmt.Errorf("schedule: scan candidate: %w", err)
		}
		cands = append(cands, c)
	}
	return cands, rows.Err()
}

// LoadAvailability assembles everything the matcher needs for one weekday.
func (s *Store) LoadAvailability(ctx context.Context, orgID string, weekday time.Weekday) (matching.Availability, error) {
	tiers, err := s.ListPriorityTiers(ctx, orgID)
	if err != nil {
		return matching.Availability{}, err
	}
	blockRows, err := s.ListTimeBlocks(ctx, orgID, weekday)
	if err != nil {
		return matching.Availability{}, err
	}
	cands, err := s.ListWaitingCandidates(ctx, orgID)
	if err != nil {
		return matching.Availability{}, err
	}

	avail := matching.Availability{
		Candidates: cands,
		Tiers:      make(map[uuid.UUID]timeband.PriorityTier, len(tiers)),
		Blocks:     make(map[uuid.UUID]map[time.Weekday][]timeband.TimeBlock),
	}
	for _, t := range tiers {
		avail.Tiers[t.ID] = t
	}
	for priorityID, list := range blockRows {
		avail.Blocks[priorityID] = map[time.Weekday][]timeband.TimeBlock{weekday: list}
	}
	return avail, nil
}
