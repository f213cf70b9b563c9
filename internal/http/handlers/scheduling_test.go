package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/carebook/clinic-scheduler/internal/matching"
	"github.com/carebook/clinic-scheduler/internal/reorder"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/internal/tenancy"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

func orgRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(tenancy.WithOrgID(req.Context(), "org-1"))
}

func TestMatchEndpointRanksCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tierID := uuid.New()
	apptID := uuid.New()

	// Wednesday 09:30-10:30 against a 09:00-11:00 block: perfect match.
	mock.ExpectQuery("SELECT id, org_id, rank").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "rank", "name", "duration_hours", "color"}).
			AddRow(tierID, "org-1", 1, "Urgent", 1.0, "#d33"))
	mock.ExpectQuery("SELECT id, org_id, priority_id").
		WithArgs("org-1", int(time.Wednesday)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "priority_id", "weekday", "start_of_day", "end_of_day", "label"}).
			AddRow(uuid.New(), "org-1", tierID, int(time.Wednesday), 9*60, 11*60, "morning"))
	mock.ExpectQuery("SELECT a.id, a.patient_name").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_name", "priority_id"}).
			AddRow(apptID, "Dana Reyes", tierID))

	h := NewSchedulingHandler(SchedulingConfig{
		Store:  schedule.NewStore(mock),
		Logger: logging.Default(),
	})

	body, _ := json.Marshal(map[string]string{
		"start": "2026-09-09T09:30:00Z",
		"end":   "2026-09-09T10:30:00Z",
	})
	rec := httptest.NewRecorder()
	h.Match(rec, orgRequest(http.MethodPost, "/api/match", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var report matching.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Groups) != 1 || len(report.Groups[0].Matches) != 1 {
		t.Fatalf("groups = %+v", report.Groups)
	}
	m := report.Groups[0].Matches[0]
	if m.Grade != matching.GradePerfect {
		t.Fatalf("grade = %s, want perfect", m.Grade)
	}
	if m.TotalOverlapMinutes != 60 {
		t.Fatalf("overlap = %d, want 60", m.TotalOverlapMinutes)
	}
}

func TestMatchEndpointRejectsInvalidInterval(t *testing.T) {
	h := NewSchedulingHandler(SchedulingConfig{Logger: logging.Default()})

	body, _ := json.Marshal(map[string]string{
		"start": "2026-09-09T10:30:00Z",
		"end":   "2026-09-09T09:30:00Z",
	})
	rec := httptest.NewRecorder()
	h.Match(rec, orgRequest(http.MethodPost, "/api/match", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReorderEndpointEmptyBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	h := NewSchedulingHandler(SchedulingConfig{
		Store:   schedule.NewStore(mock),
		Reorder: reorder.NewService(schedule.NewStore(mock), nil, nil, logging.Default()),
		Logger:  logging.Default(),
	})

	body, _ := json.Marshal(map[string]any{"moves": []any{}})
	rec := httptest.NewRecorder()
	h.Reorder(rec, orgRequest(http.MethodPost, "/api/slots/reorder", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result reorder.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Aggregate != reorder.AggregateAllSuccess {
		t.Fatalf("aggregate = %s", result.Aggregate)
	}
}

func TestProposeEndpointValidation(t *testing.T) {
	h := NewSchedulingHandler(SchedulingConfig{Logger: logging.Default()})

	body, _ := json.Marshal(map[string]any{"appointmentId": uuid.Nil})
	rec := httptest.NewRecorder()
	h.Propose(rec, orgRequest(http.MethodPost, "/api/proposals", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
