package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/profilerbackend/internal/auth"
	"github.com/profilerbackend/internal/db"
)

type CreateProfileRequest struct {
	Name string `json:"name"`
	// ReferenceMaterial is the extracted text of an uploaded reference
	// document, used by profiling runs instead of chat history.
	ReferenceMaterial string `json:"referenceMaterial,omitempty"`
}

type CreateProfileResponse struct {
	ProfileID string `json:"profile_id"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	// Validate JWT token
	claims, err := auth.ValidateToken(request.Headers["Authorization"])
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 401,
			Body:       "Unauthorized",
		}, nil
	}

	var req CreateProfileRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       fmt.Sprintf("Invalid request: %v", err),
		}, nil
	}
	if req.Name == "" {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       "Name is required",
		}, nil
	}

	var profileID string
	err = db.DB.QueryRowContext(ctx,
		"INSERT INTO profiles (user_id, name, reference_material) VALUES ($1, $2, $3) RETURNING id",
		claims.UserID, req.Name, req.ReferenceMaterial,
	).Scan(&profileID)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       fmt.Sprintf("Error creating profile: %v", err),
		}, nil
	}

	responseBody, err := json.Marshal(CreateProfileResponse{ProfileID: profileID})
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       "Error creating response",
		}, nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(responseBody),
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
