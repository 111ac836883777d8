package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// ErrUpstreamTimeout is returned when the operation ran out of budget, or the
// last permitted attempt was cut off by its deadline, without ever obtaining
// an upstream response.
var ErrUpstreamTimeout = errors.New("llm: upstream timeout")

// UpstreamError is a non-2xx response from the completion API, surfaced after
// retries are exhausted (retriable statuses) or immediately (other 4xx).
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream error (status %d): %s", e.StatusCode, e.Message)
}

// safetyMargin absorbs scheduling jitter so our own deadline fires before the
// platform kills the invocation outright.
const safetyMargin = 150 * time.Millisecond

// Config holds the retry and budget tunables. TotalBudget must stay under the
// platform execution ceiling (57s against the 60s Lambda timeout by default).
type Config struct {
	MaxRetries        int           // additional attempts beyond the first
	BackoffBase       time.Duration // base delay before a retry, jittered
	PerAttemptTimeout time.Duration // deadline for a single HTTP call
	TotalBudget       time.Duration // wall-clock allowance for the whole operation
}

// ConfigFromEnv reads the tunables from the environment, keeping the defaults
// for anything unset.
func ConfigFromEnv() Config {
	return Config{
		MaxRetries:        envInt("LLM_MAX_RETRIES", 1),
		BackoffBase:       envMillis("LLM_BACKOFF_BASE_MS", 600),
		PerAttemptTimeout: envMillis("LLM_ATTEMPT_TIMEOUT_MS", 55000),
		TotalBudget:       envMillis("LLM_TOTAL_BUDGET_MS", 57000),
	}
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func envMillis(name string, fallback int) time.Duration {
	return time.Duration(envInt(name, fallback)) * time.Millisecond
}

// Doer is the transport used for upstream calls.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client executes completion requests against an OpenAI-compatible API under
// a hard wall-clock budget with bounded, classification-aware retries.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	cfg      Config

	http   Doer
	now    func() time.Time
	sleep  func(time.Duration)
	jitter func() float64 // uniform in [0, 1)
}

// NewClient creates a client with the given transport. Pass nil to use the
// default HTTP client.
func NewClient(endpoint, apiKey, model string, cfg Config, transport Doer) *Client {
	if transport == nil {
		transport = http.DefaultClient
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		cfg:      cfg,
		http:     transport,
		now:      time.Now,
		sleep:    time.Sleep,
		jitter:   rand.Float64,
	}
}

// NewClientFromEnv builds a client from LLM_API_URL, LLM_API_KEY, LLM_MODEL
// and the retry tunables.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY environment variable is not set")
	}
	endpoint := os.Getenv("LLM_API_URL")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	return NewClient(endpoint, apiKey, model, ConfigFromEnv(), nil), nil
}

// rawResponse is the last HTTP response obtained by the retry loop, success
// or not, with its body already drained.
type rawResponse struct {
	status      int
	contentType string
	body        []byte
}

// Complete executes one logical completion request. payload must be the
// fully serialized request body; it is sent byte-for-byte identical on every
// attempt so retries stay idempotent. Returns the assistant's text on
// success, an *UpstreamError for a final failed response, ErrUpstreamTimeout
// when the budget ran out, or the transport error for other failures.
func (c *Client) Complete(ctx context.Context, payload []byte) (string, error) {
	resp, err := c.execute(ctx, payload)
	if err != nil {
		return "", err
	}
	return resolve(resp)
}

func (c *Client) execute(ctx context.Context, payload []byte) (*rawResponse, error) {
	start := c.now()

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		remaining := c.cfg.TotalBudget - c.now().Sub(start)
		if remaining <= 0 {
			return nil, ErrUpstreamTimeout
		}

		if attempt > 0 {
			if delay := c.backoffDelay(remaining); delay > 0 {
				c.sleep(delay)
			}
			remaining = c.cfg.TotalBudget - c.now().Sub(start)
		}

		timeout := c.cfg.PerAttemptTimeout
		if lim := remaining - safetyMargin; lim < timeout {
			timeout = lim
		}
		if timeout <= 0 {
			return nil, ErrUpstreamTimeout
		}

		resp, err := c.attempt(ctx, payload, timeout)

		var o outcome
		switch {
		case err == nil:
			o = classifyStatus(resp.status)
		case isAttemptTimeout(err):
			o = outcomeTimeout
		default:
			o = outcomeNetworkError
		}

		switch decideNextAction(o, attempt, c.cfg.MaxRetries) {
		case actRetry:
			continue
		case actFailTimeout:
			return nil, ErrUpstreamTimeout
		case actFailError:
			return nil, fmt.Errorf("llm: upstream request failed: %w", err)
		default:
			// Success, or the final response of an exhausted retry sequence;
			// both carry a body for the caller to resolve.
			return resp, nil
		}
	}

	return nil, ErrUpstreamTimeout
}

// backoffDelay returns a jittered backoff clamped so that sleeping never eats
// into the margin needed to still issue an attempt.
func (c *Client) backoffDelay(remaining time.Duration) time.Duration {
	d := time.Duration(float64(c.cfg.BackoffBase) * (0.5 + c.jitter()))
	if lim := remaining - safetyMargin; d > lim {
		d = lim
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (c *Client) attempt(ctx context.Context, payload []byte, timeout time.Duration) (*rawResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &rawResponse{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

// isAttemptTimeout reports whether an attempt failed because its deadline
// fired. Every other transport error is terminal by policy.
func isAttemptTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
