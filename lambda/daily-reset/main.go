package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/quota"
)

// Triggered by a CloudWatch scheduled event. Re-running early is safe: users
// whose deadline has not passed again simply fail the guard.
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	reset, err := quota.NewService(db.DB).RunDailyReset(ctx)
	if err != nil {
		return fmt.Errorf("daily reset: %v", err)
	}
	log.Printf("daily reset complete: %d users reset", reset)
	return nil
}

func init() {
	if err := db.InitDB(); err != nil {
		fmt.Printf("Error initializing database: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	lambda.Start(handler)
}
