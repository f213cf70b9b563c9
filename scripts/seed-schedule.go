package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Seeds a local database with a priority catalog and weekday time blocks so
// the match endpoint has something to rank against. Intended for dev only.
func main() {
	orgID := os.Getenv("ORG_ID")
	if orgID == "" {
		orgID = "dev-org"
	}
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("❌ DATABASE_URL is required")
		os.Exit(1)
	}

	fmt.Printf("🌱 Seeding Scheduler Catalog\n")
	fmt.Printf("============================\n")
	fmt.Printf("Org: %s\n\n", orgID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		fmt.Printf("❌ Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close(ctx) }()

	tiers := []struct {
		name     string
		rank     int
		duration float64
	}{
		{"Urgent", 0, 1},
		{"Standard", 1, 1},
		{"Flexible", 2, 2},
	}

	tierIDs := make([]uuid.UUID, 0, len(tiers))
	for _, tier := range tiers {
		id := uuid.New()
		_, err := conn.Exec(ctx, `
			INSERT INTO priority_tiers (id, org_id, name, rank, duration_hours)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (org_id, rank) DO UPDATE SET name = EXCLUDED.name
		`, id, orgID, tier.name, tier.rank, tier.duration)
		if err != nil {
			fmt.Printf("❌ Error seeding tier %s: %v\n", tier.name, err)
			os.Exit(1)
		}
		tierIDs = append(tierIDs, id)
		fmt.Printf("✅ Tier %s (rank %d)\n", tier.name, tier.rank)
	}

	// Clinic hours: Monday through Friday, 9:00-17:00 for every tier.
	for weekday := 1; weekday <= 5; weekday++ {
		for _, tierID := range tierIDs {
			_, err := conn.Exec(ctx, `
				INSERT INTO time_blocks (id, org_id, priority_id, weekday, start_of_day, end_of_day)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New(), orgID, tierID, weekday, 9*60, 17*60)
			if err != nil {
				fmt.Printf("❌ Error seeding block: %v\n", err)
				os.Exit(1)
			}
		}
	}
	fmt.Printf("✅ Time blocks Mon-Fri 09:00-17:00\n")

	fmt.Printf("\n🎉 Done\n")
}
