package events

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestAlreadyProcessedFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("gateway", "evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	store := NewProcessedStore(mock)
	seen, err := store.AlreadyProcessed(context.Background(), "gateway", "evt-1")
	if err != nil {
		t.Fatalf("already processed: %v", err)
	}
	if !seen {
		t.Fatal("expected event to be marked seen")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAlreadyProcessedMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("gateway", "evt-2").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	store := NewProcessedStore(mock)
	seen, err := store.AlreadyProcessed(context.Background(), "gateway", "evt-2")
	if err != nil {
		t.Fatalf("already processed: %v", err)
	}
	if seen {
		t.Fatal("expected event to be unseen")
	}
}

func TestMarkProcessedDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("gateway", "evt-3").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("gateway", "evt-3").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	store := NewProcessedStore(mock)
	first, err := store.MarkProcessed(context.Background(), "gateway", "evt-3")
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	second, err := store.MarkProcessed(context.Background(), "gateway", "evt-3")
	if err != nil {
		t.Fatalf("mark processed again: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first=true second=false, got %v %v", first, second)
	}
}
