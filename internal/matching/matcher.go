// Package matching scores waiting appointment candidates against an org's
// configured availability blocks and ranks them for an open time window.
package matching

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/clinic-scheduler/internal/timeband"
)

// Grade labels how much of the requested window a candidate's blocks cover.
type Grade string

const (
	GradePerfect Grade = "Perfect Match"
	GradeHigh    Grade = "High Match"
	GradeMedium  Grade = "Medium Match"
	GradeLow     Grade = "Low Match"
)

// Boundary-inclusive thresholds, in percent of the requested duration.
const (
	perfectThreshold = 95.0
	highThreshold    = 70.0
	mediumThreshold  = 40.0
)

// ErrNoCandidates is returned when the availability carries nothing to rank.
var ErrNoCandidates = errors.New("matching: no candidates in scope")

// Candidate is one appointment competing for the open window.
type Candidate struct {
	AppointmentID uuid.UUID
	PatientName   string
	PriorityID    uuid.UUID // uuid.Nil means the appointment lost its tier reference
}

// Availability is the org catalog the matcher ranks against.
type Availability struct {
	Candidates []Candidate
	Tiers      map[uuid.UUID]timeband.PriorityTier
	// Blocks holds the clinic bands per tier and weekday.
	Blocks map[uuid.UUID]map[time.Weekday][]timeband.TimeBlock
}

// CandidateMatch is one scored candidate.
type CandidateMatch struct {
	AppointmentID       uuid.UUID `json:"appointmentId"`
	PatientName         string    `json:"patientName,omitempty"`
	TotalOverlapMinutes int       `json:"totalOverlapMinutes"`
	MatchPercentage     float64   `json:"matchPercentage"`
	Grade               Grade     `json:"grade"`
}

// TierGroup groups scored candidates under their priority tier, best first.
type TierGroup struct {
	Tier    timeband.PriorityTier `json:"tier"`
	Matches []CandidateMatch      `json:"matches"`
}

// Exclusion records a candidate that was dropped rather than ranked.
type Exclusion struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Reason        string    `json:"reason"`
}

// Report is the deterministic outcome of one match run.
type Report struct {
	Requested       timeband.Interval `json:"requested"`
	DurationMinutes int               `json:"durationMinutes"`
	Weekday         time.Weekday      `json:"weekday"`
	Groups          []TierGroup       `json:"groups"`
	Excluded        []Exclusion       `json:"excluded,omitempty"`
}

// Match ranks every candidate against the blocks of its own priority tier on
// the weekday of the requested window. Only that single weekday is
// considered. Candidates whose blocks never touch the window are excluded,
// as are candidates without a priority reference (with a diagnostic).
func Match(requested timeband.Interval, avail Availability) (Report, error) {
	if err := requested.Validate(); err != nil {
		return Report{}, err
	}
	if len(avail.Candidates) == 0 {
		return Report{}, ErrNoCandidates
	}

	duration := requested.Minutes()
	weekday := requested.Weekday()

	report := Report{
		Requested:       requested,
		DurationMinutes: duration,
		Weekday:         weekday,
	}

	// Keep input order per tier so equal-overlap candidates stay stable.
	grouped := make(map[uuid.UUID][]CandidateMatch)
	var tierOrder []uuid.UUID

	for _, cand := range avail.Candidates {
		if cand.PriorityID == uuid.Nil {
			report.Excluded = append(report.Excluded, Exclusion{
				AppointmentID: cand.AppointmentID,
				Reason:        "missing priority reference",
			})
			continue
		}
		tier, ok := avail.Tiers[cand.PriorityID]
		if !ok {
			report.Excluded = append(report.Excluded, Exclusion{
				AppointmentID: cand.AppointmentID,
				Reason:        "unknown priority tier",
			})
			continue
		}

		total := 0
		for _, block := range avail.Blocks[cand.PriorityID][weekday] {
			total += block.OverlapMinutes(requested)
		}
		if total == 0 {
			report.Excluded = append(report.Excluded, Exclusion{
				AppointmentID: cand.AppointmentID,
				Reason:        "no availability blocks overlap the requested window",
			})
			continue
		}

		pct := float64(total) / float64(duration) * 100

		if _, seen := grouped[tier.ID]; !seen {
			tierOrder = append(tierOrder, tier.ID)
		}
		grouped[tier.ID] = append(grouped[tier.ID], CandidateMatch{
			AppointmentID:       cand.AppointmentID,
			PatientName:         cand.PatientName,
			TotalOverlapMinutes: total,
			MatchPercentage:     pct,
			Grade:               gradeFor(pct),
		})
	}

	sort.SliceStable(tierOrder, func(i, j int) bool {
		return avail.Tiers[tierOrder[i]].Rank < avail.Tiers[tierOrder[j]].Rank
	})

	for _, tierID := range tierOrder {
		matches := grouped[tierID]
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].TotalOverlapMinutes > matches[j].TotalOverlapMinutes
		})
		report.Groups = append(report.Groups, TierGroup{
			Tier:    avail.Tiers[tierID],
			Matches: matches,
		})
	}

	return report, nil
}

func gradeFor(pct float64) Grade {
	switch {
	case pct >= perfectThreshold:
		return GradePerfect
	case pct >= highThreshold:
		return GradeHigh
	case pct >= mediumThreshold:
		return GradeMedium
	default:
		return GradeLow
	}
}
