package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/profilerbackend/internal/auth"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/quota"
)

type LogGenerationResponse struct {
	Success     bool `json:"success"`
	Initialized bool `json:"initialized,omitempty"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	traceID := uuid.New().String()
	headers := map[string]string{
		"Content-Type": "application/json",
		"X-Trace-Id":   traceID,
	}

	claims, err := auth.ValidateToken(request.Headers["Authorization"])
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 401,
			Headers:    headers,
			Body:       `{"error": "Unauthorized"}`,
		}, nil
	}

	initialized, err := quota.NewService(db.DB).LogGeneration(ctx, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, quota.ErrDailyLimitReached):
			return events.APIGatewayProxyResponse{
				StatusCode: 403,
				Headers:    headers,
				Body:       `{"error": "Daily limit reached"}`,
			}, nil
		case errors.Is(err, quota.ErrMonthlyLimitReached):
			return events.APIGatewayProxyResponse{
				StatusCode: 403,
				Headers:    headers,
				Body:       `{"error": "Monthly limit reached"}`,
			}, nil
		default:
			log.Printf("[%s] log generation failed for user %s: %v", traceID, claims.UserID, err)
			return events.APIGatewayProxyResponse{
				StatusCode: 500,
				Headers:    headers,
				Body:       `{"error": "Error logging generation"}`,
			}, nil
		}
	}

	body, _ := json.Marshal(LogGenerationResponse{Success: true, Initialized: initialized})
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    headers,
		Body:       string(body),
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
