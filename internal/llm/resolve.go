package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// completionResponse is the OpenAI chat completion response format, reduced
// to the fields this service reads.
type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// apiError is the error envelope of an OpenAI-compatible failure body.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const snippetLimit = 300

// resolve turns the final HTTP response of a call sequence into a result: the
// answer text on 2xx JSON, an *UpstreamError on non-2xx JSON, and a generic
// unexpected-response error with a truncated body snippet otherwise.
func resolve(resp *rawResponse) (string, error) {
	if !isJSON(resp) {
		return "", fmt.Errorf("llm: unexpected upstream response (status %d): %s",
			resp.status, snippet(resp.body))
	}

	if resp.status < 200 || resp.status >= 300 {
		var e apiError
		if err := json.Unmarshal(resp.body, &e); err == nil && e.Error.Message != "" {
			return "", &UpstreamError{StatusCode: resp.status, Message: e.Error.Message}
		}
		return "", &UpstreamError{StatusCode: resp.status, Message: snippet(resp.body)}
	}

	return ExtractAnswer(resp.body)
}

// ExtractAnswer pulls the first choice's message content out of a completion
// response body.
func ExtractAnswer(body []byte) (string, error) {
	var cr completionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("llm: unexpected upstream response: %s", snippet(body))
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm: upstream response has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func isJSON(resp *rawResponse) bool {
	if strings.Contains(resp.contentType, "application/json") {
		return true
	}
	return json.Valid(resp.body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		s = s[:snippetLimit]
	}
	return s
}
