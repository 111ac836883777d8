package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/models"
	"github.com/profilerbackend/internal/quota"
)

// BillingEvent is the bridge payload delivered by the billing integration.
// Payload is stored verbatim; the monthly reset job later reads period ends
// out of payment_succeeded payloads.
type BillingEvent struct {
	UserID    string          `json:"userId"`
	EventType string          `json:"eventType"`
	Plan      string          `json:"plan,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	secret := os.Getenv("BILLING_WEBHOOK_SECRET")
	if secret == "" || subtle.ConstantTimeCompare([]byte(request.Headers["X-Webhook-Secret"]), []byte(secret)) != 1 {
		return events.APIGatewayProxyResponse{
			StatusCode: 401,
			Body:       "Unauthorized",
		}, nil
	}

	var event BillingEvent
	if err := json.Unmarshal([]byte(request.Body), &event); err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       fmt.Sprintf("Invalid request: %v", err),
		}, nil
	}
	if event.UserID == "" || event.EventType == "" {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       "userId and eventType are required",
		}, nil
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := db.DB.ExecContext(ctx,
		"INSERT INTO billing_logs (user_id, event_type, payload) VALUES ($1, $2, $3)",
		event.UserID, event.EventType, []byte(payload))
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       fmt.Sprintf("Error recording billing event: %v", err),
		}, nil
	}

	// Plan changes move the quota ceilings in place; counters are untouched.
	if event.EventType == "customer.subscription.updated" && event.Plan != "" {
		plan := models.ParsePlan(event.Plan)
		if err := quota.NewService(db.DB).ApplyPlanChange(ctx, event.UserID, plan); err != nil {
			log.Printf("billing webhook: plan change for user %s: %v", event.UserID, err)
			return events.APIGatewayProxyResponse{
				StatusCode: 500,
				Body:       "Error applying plan change",
			}, nil
		}
	}

	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Body:       `{"received": true}`,
	}, nil
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
