package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/profilerbackend/internal/auth"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/quota"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Timezone string `json:"timezone,omitempty"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req RegisterRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       fmt.Sprintf("Invalid request: %v", err),
		}, nil
	}
	if req.Email == "" || req.Password == "" {
		return events.APIGatewayProxyResponse{
			StatusCode: 400,
			Body:       "Email and password are required",
		}, nil
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       "Error processing password",
		}, nil
	}

	var userID string
	err = db.DB.QueryRowContext(ctx,
		"INSERT INTO users (email, password) VALUES ($1, $2) RETURNING id",
		req.Email, string(hashedPassword),
	).Scan(&userID)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       fmt.Sprintf("Error creating user: %v", err),
		}, nil
	}

	// Every account starts with a Freemium quota row. The hot path would
	// self-heal a missing one, but creating it here keeps the row's active
	// flag and reset deadline correct from the start.
	quotaService := quota.NewService(db.DB)
	if err := quotaService.EnsureQuotaRow(ctx, userID); err != nil {
		log.Printf("register: quota row for user %s: %v", userID, err)
	}
	if req.Timezone != "" {
		// Best effort; an unknown zone leaves the UTC default in place.
		if err := quotaService.SetTimezone(ctx, userID, req.Timezone); err != nil {
			log.Printf("register: timezone for user %s: %v", userID, err)
		}
	}

	token, err := auth.GenerateToken(userID)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: 500,
			Body:       "Error generating token",
		}, nil
	}

	responseBody, err := json.Marshal(RegisterResponse{UserID: userID, Token: token})
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
