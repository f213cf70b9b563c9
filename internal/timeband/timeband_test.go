package timeband

import (
	"testing"
	"time"
)

func mustInterval(t *testing.T, start, end string) Interval {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	iv, err := NewInterval(s, e)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	return iv
}

func TestNewIntervalRejectsInverted(t *testing.T) {
	now := time.Now()
	if _, err := NewInterval(now, now); err != ErrInvalidInterval {
		t.Fatalf("equal bounds: got %v, want ErrInvalidInterval", err)
	}
	if _, err := NewInterval(now.Add(time.Hour), now); err != ErrInvalidInterval {
		t.Fatalf("inverted bounds: got %v, want ErrInvalidInterval", err)
	}
}

func TestIntervalMinutes(t *testing.T) {
	iv := mustInterval(t, "2025-03-05T09:30:00Z", "2025-03-05T10:30:00Z")
	if got := iv.Minutes(); got != 60 {
		t.Fatalf("Minutes() = %d, want 60", got)
	}
	if iv.Weekday() != time.Wednesday {
		t.Fatalf("Weekday() = %v, want Wednesday", iv.Weekday())
	}
}

func TestTimeBlockOverlapMinutes(t *testing.T) {
	block := TimeBlock{Weekday: time.Wednesday, StartOfDay: 9 * 60, EndOfDay: 11 * 60}

	tests := []struct {
		name  string
		start string
		end   string
		want  int
	}{
		{"fully inside", "2025-03-05T09:30:00Z", "2025-03-05T10:30:00Z", 60},
		{"overhangs end", "2025-03-05T10:00:00Z", "2025-03-05T12:00:00Z", 60},
		{"overhangs start", "2025-03-05T08:00:00Z", "2025-03-05T09:45:00Z", 45},
		{"covers block", "2025-03-05T08:00:00Z", "2025-03-05T12:00:00Z", 120},
		{"disjoint before", "2025-03-05T07:00:00Z", "2025-03-05T08:30:00Z", 0},
		{"disjoint after", "2025-03-05T11:00:00Z", "2025-03-05T12:00:00Z", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := mustInterval(t, tt.start, tt.end)
			if got := block.OverlapMinutes(iv); got != tt.want {
				t.Errorf("OverlapMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTimeBlockValidate(t *testing.T) {
	tests := []struct {
		name    string
		block   TimeBlock
		wantErr bool
	}{
		{"valid", TimeBlock{StartOfDay: 540, EndOfDay: 660}, false},
		{"negative start", TimeBlock{StartOfDay: -1, EndOfDay: 600}, true},
		{"end past midnight", TimeBlock{StartOfDay: 0, EndOfDay: 1441}, true},
		{"zero width", TimeBlock{StartOfDay: 600, EndOfDay: 600}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
