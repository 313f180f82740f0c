package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/sna-ai/sna/internal/database"
)

// Wipes all monitored data: tweets, dedup groups, summaries, fetch stats
// and run history. Accounts, follows, filter rules and the schedule config
// are left alone. Destructive, so it refuses to run without -yes.

var monitoredTables = []string{
	"tweets",
	"dedup_groups",
	"summaries",
	"scraper_fetch_stats",
	"scrape_runs",
}

func main() {
	_ = godotenv.Load()

	yes := flag.Bool("yes", false, "actually delete; without it the script only reports")
	flag.Parse()

	dbURL, err := database.BuildDatabaseURL()
	if err != nil {
		log.Fatalf("failed to build database URL: %v", err)
	}
	cfg := database.DefaultConfig()
	cfg.URL = dbURL

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	for _, table := range monitoredTables {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			log.Fatalf("failed to count %s: %v", table, err)
		}
		fmt.Printf("%-22s %d rows\n", table, count)
	}

	if !*yes {
		fmt.Println()
		fmt.Println("dry run: pass -yes to delete the rows listed above")
		return
	}

	// One statement so the circular tweet/group references cannot block the
	// truncate order.
	stmt := "TRUNCATE tweets, dedup_groups, summaries, scraper_fetch_stats, scrape_runs"
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		log.Fatalf("failed to truncate: %v", err)
	}
	fmt.Println()
	fmt.Println("monitored data cleared")
}
