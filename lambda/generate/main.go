package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/profilerbackend/internal/auth"
	"github.com/profilerbackend/internal/chat"
	"github.com/profilerbackend/internal/db"
	"github.com/profilerbackend/internal/encryption"
	"github.com/profilerbackend/internal/idempotency"
	"github.com/profilerbackend/internal/llm"
	"github.com/profilerbackend/internal/models"
	"github.com/profilerbackend/internal/quota"
)

type GenerateRequest struct {
	ProfileID    string `json:"profileId"`
	Prompt       string `json:"prompt,omitempty"`
	ImageBase64  string `json:"imageBase64,omitempty"`
	Profiling    bool   `json:"profiling,omitempty"`
	UserLanguage string `json:"userLanguage,omitempty"`
}

type GenerateResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	traceID := uuid.New().String()

	// Extract user ID from JWT token
	claims, err := auth.ValidateToken(request.Headers["Authorization"])
	if err != nil {
		return errorResponse(traceID, 401, "UNAUTHORIZED", "Invalid or missing authentication token", err.Error()), nil
	}
	userID := claims.UserID

	var req GenerateRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil {
		return errorResponse(traceID, 400, "INVALID_REQUEST", "Invalid JSON in request body", err.Error()), nil
	}
	if req.ProfileID == "" {
		return errorResponse(traceID, 400, "VALIDATION_ERROR", "profileId is required", ""), nil
	}
	if req.Prompt == "" && req.ImageBase64 == "" {
		return errorResponse(traceID, 400, "VALIDATION_ERROR", "prompt or imageBase64 is required", ""), nil
	}

	// The profile must exist and belong to the caller.
	var referenceMaterial sql.NullString
	err = db.DB.QueryRowContext(ctx,
		"SELECT reference_material FROM profiles WHERE id = $1 AND user_id = $2",
		req.ProfileID, userID,
	).Scan(&referenceMaterial)
	if err == sql.ErrNoRows {
		return errorResponse(traceID, 404, "NOT_FOUND", "Profile not found", ""), nil
	}
	if err != nil {
		return errorResponse(traceID, 500, "STORAGE_ERROR", "Error loading profile", err.Error()), nil
	}

	idempotencyService, err := idempotency.NewService(ctx)
	if err != nil {
		return errorResponse(traceID, 500, "SERVICE_ERROR", "Failed to initialize idempotency service", err.Error()), nil
	}

	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		return errorResponse(traceID, 500, "SERVICE_ERROR", "Failed to initialize upstream client", err.Error()), nil
	}

	kmsClient, err := encryption.NewKMSClient(ctx)
	if err != nil {
		return errorResponse(traceID, 500, "SERVICE_ERROR", "Failed to initialize encryption service", err.Error()), nil
	}

	quotaService := quota.NewService(db.DB)
	chatStore := chat.NewStore(db.DB, kmsClient)

	key := idempotency.RequestKey(userID, "POST /generate", request.Body)
	result, err := idempotencyService.Run(ctx, key, userID, func() (interface{}, error) {
		return processGenerate(ctx, traceID, userID, req, referenceMaterial.String, quotaService, chatStore, llmClient)
	})
	if err != nil {
		return errorFor(traceID, err), nil
	}

	responseBody, err := json.Marshal(result)
	if err != nil {
		return errorResponse(traceID, 500, "SERIALIZATION_ERROR", "Failed to serialize response", err.Error()), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    responseHeaders(traceID),
		Body:       string(responseBody),
	}, nil
}

func processGenerate(
	ctx context.Context,
	traceID, userID string,
	req GenerateRequest,
	referenceMaterial string,
	quotaService *quota.Service,
	chatStore *chat.Store,
	llmClient *llm.Client,
) (*GenerateResponse, error) {
	// Cheap read-only gate first: a user already at a limit is turned away
	// before anything is written. The conditional increment in LogGeneration
	// stays the authoritative check.
	if err := quotaService.CheckAdmission(ctx, userID); err != nil {
		return nil, err
	}

	initialized, err := quotaService.LogGeneration(ctx, userID)
	if err != nil {
		return nil, err
	}
	if initialized {
		log.Printf("[%s] quota row initialized for user %s", traceID, userID)
	}

	// The user's turn is recorded before the upstream call, so a crash
	// mid-call still leaves a record of what was asked.
	userTurn := &models.ChatTurn{
		UserID:    userID,
		ProfileID: req.ProfileID,
		Role:      "user",
		Content:   req.Prompt,
	}
	if err := chatStore.SaveTurn(ctx, userTurn); err != nil {
		// %v on purpose: a failure here precedes the generation, so it must
		// not surface as a post-success persistence error.
		return nil, fmt.Errorf("saving user turn: %v", err)
	}

	var priorTurns []models.ChatTurn
	if !req.Profiling {
		priorTurns, err = chatStore.RecentHistory(ctx, userID, req.ProfileID)
		if err != nil {
			return nil, err
		}
	}

	messages := llm.BuildMessages(llm.PromptInput{
		Profiling:         req.Profiling,
		UserLanguage:      req.UserLanguage,
		Prompt:            req.Prompt,
		ImageBase64:       req.ImageBase64,
		PriorTurns:        priorTurns,
		ReferenceMaterial: referenceMaterial,
	})

	// Serialized once; the controller reuses these bytes for every attempt.
	payload, err := llmClient.MarshalPayload(messages)
	if err != nil {
		return nil, err
	}

	answer, err := llmClient.Complete(ctx, payload)
	if err != nil {
		log.Printf("[%s] upstream call failed for user %s: %v", traceID, userID, err)
		return nil, err
	}

	result := chat.Sanitize(answer)

	assistantTurn := &models.ChatTurn{
		UserID:    userID,
		ProfileID: req.ProfileID,
		Role:      "assistant",
		Content:   result,
	}
	if err := chatStore.SaveTurn(ctx, assistantTurn); err != nil {
		log.Printf("[%s] assistant turn not saved for user %s: %v", traceID, userID, err)
		return nil, err
	}

	return &GenerateResponse{Result: result}, nil
}

// errorFor maps pipeline errors to the endpoint's status codes.
func errorFor(traceID string, err error) events.APIGatewayProxyResponse {
	var upstreamErr *llm.UpstreamError

	switch {
	case errors.Is(err, quota.ErrDailyLimitReached):
		return errorResponse(traceID, 403, "DAILY_LIMIT", "Daily limit reached", "")
	case errors.Is(err, quota.ErrMonthlyLimitReached):
		return errorResponse(traceID, 403, "MONTHLY_LIMIT", "Monthly limit reached", "")
	case errors.Is(err, llm.ErrUpstreamTimeout):
		return errorResponse(traceID, 504, "UPSTREAM_TIMEOUT", "Upstream timeout", "")
	case errors.As(err, &upstreamErr):
		return errorResponse(traceID, 500, "UPSTREAM_ERROR",
			fmt.Sprintf("Upstream request failed with status %d", upstreamErr.StatusCode), upstreamErr.Message)
	case errors.Is(err, chat.ErrPersistFailed):
		return errorResponse(traceID, 500, "PERSIST_FAILED", "Generation succeeded but saving the response failed", err.Error())
	default:
		return errorResponse(traceID, 500, "PROCESSING_ERROR", "Failed to process generate request", err.Error())
	}
}

func responseHeaders(traceID string) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"X-Trace-Id":   traceID,
	}
}

func errorResponse(traceID string, statusCode int, code, message, details string) events.APIGatewayProxyResponse {
	log.Printf("[%s] %d %s: %s %s", traceID, statusCode, code, message, details)

	body, _ := json.Marshal(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    responseHeaders(traceID),
		Body:       string(body),
	}
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
