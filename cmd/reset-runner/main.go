// reset-runner runs the quota reset jobs against a local database, for
// development and for environments without a scheduler.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/quota"
)

func main() {
	job := flag.String("job", "all", "which job to run: daily, monthly or all")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	if err := db.InitDB(); err != nil {
		log.Fatalf("database init: %v", err)
	}

	ctx := context.Background()
	svc := quota.NewService(db.DB)

	if *job == "daily" || *job == "all" {
		n, err := svc.RunDailyReset(ctx)
		if err != nil {
			log.Fatalf("daily reset: %v", err)
		}
		log.Printf("daily reset complete: %d users reset", n)
	}

	if *job == "monthly" || *job == "all" {
		n, err := svc.RunMonthlyReset(ctx)
		if err != nil {
			log.Fatalf("monthly reset: %v", err)
		}
		log.Printf("monthly reset complete: %d users reset", n)
	}
}
