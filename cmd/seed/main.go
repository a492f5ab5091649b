// Command seed populates the database with demo request data.
package main

import (
	"flag"
	"log"

	"requestdesk/internal/config"
	"requestdesk/internal/database"
	"requestdesk/internal/seed"
)

func main() {
	numOpen := flag.Int("open", 15, "Number of open requests to create")
	numHistory := flag.Int("history", 40, "Number of completed requests to create")
	shouldClean := flag.Bool("clean", true, "Clean requests table before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db)
	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	if _, err := s.SeedQueue(*numOpen, *numHistory); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Println("Done.")
}
