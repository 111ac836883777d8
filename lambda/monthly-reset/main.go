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

// Triggered by a CloudWatch scheduled event. Resets only fire on a confirmed
// payment covering a new period, so the schedule itself carries no billing
// semantics.
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	reset, err := quota.NewService(db.DB).RunMonthlyReset(ctx)
	if err != nil {
		return fmt.Errorf("monthly reset: %v", err)
	}
	log.Printf("monthly reset complete: %d users reset", reset)
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
