// Package timeband holds the pure scheduling value types: request intervals,
// clinic time blocks, and the priority tier catalog. Nothing here touches
// storage or transport.
package timeband

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidInterval is returned when an interval does not satisfy start < end.
	ErrInvalidInterval = errors.New("timeband: interval start must be before end")
	// ErrInvalidDayMinutes is returned when a block's minute-of-day bounds are out of range.
	ErrInvalidDayMinutes = errors.New("timeband: minutes of day must be within 0..1440 and start < end")
)

// Interval is a concrete requested time window.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds a validated interval.
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate checks the start < end invariant.
func (iv Interval) Validate() error {
	if !iv.Start.Before(iv.End) {
		return ErrInvalidInterval
	}
	return nil
}

// Minutes returns the interval duration in whole minutes.
func (iv Interval) Minutes() int {
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// Weekday returns the weekday of the interval's start; matching is single-day.
func (iv Interval) Weekday() time.Weekday {
	return iv.Start.Weekday()
}

// MinuteOfDay converts a wall-clock instant to minutes since midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// TimeBlock is a clinic-configured availability band on one weekday.
// Blocks referenced by historical matches are superseded, never edited,
// so past reports stay reproducible.
type TimeBlock struct {
	ID         uuid.UUID    `json:"id"`
	OrgID      string       `json:"orgId"`
	Weekday    time.Weekday `json:"weekday"`
	StartOfDay int          `json:"startOfDay"` // minutes since midnight
	EndOfDay   int          `json:"endOfDay"`   // minutes since midnight
	Label      string       `json:"label"`
}

// Validate checks the block's minute bounds.
func (b TimeBlock) Validate() error {
	if b.StartOfDay < 0 || b.EndOfDay > 24*60 || b.StartOfDay >= b.EndOfDay {
		return ErrInvalidDayMinutes
	}
	return nil
}

// OverlapMinutes computes how many minutes of the request fall inside the
// block, on the request's own day. Zero when they do not touch.
func (b TimeBlock) OverlapMinutes(iv Interval) int {
	reqStart := MinuteOfDay(iv.Start)
	reqEnd := reqStart + iv.Minutes()
	lo := max(b.StartOfDay, reqStart)
	hi := min(b.EndOfDay, reqEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// PriorityTier is one entry of the org's ordered priority catalog. Slots
// reference tiers by id; DisplayName/Color are the denormalized snapshot
// used when a report is rendered without a catalog lookup.
type PriorityTier struct {
	ID            uuid.UUID `json:"id"`
	OrgID         string    `json:"orgId"`
	Rank          int       `json:"rank"` // unique per org, lower is more urgent
	Name          string    `json:"name"`
	DurationHours int       `json:"durationHours"`
	Color         string    `json:"color"`
}

func (p PriorityTier) String() string {
	return fmt.Sprintf("%s (rank %d)", p.Name, p.Rank)
}
