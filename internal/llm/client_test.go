package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successBody = `{"choices":[{"message":{"role":"assistant","content":"profile ready"}}]}`

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type stubResult struct {
	status      int
	body        string
	contentType string
	err         error
	elapsed     time.Duration
}

// stubTransport replays canned results and records every request body it saw.
type stubTransport struct {
	clock     *fakeClock
	results   []stubResult
	calls     int
	bodies    [][]byte
	deadlines []time.Duration
}

func (t *stubTransport) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	t.bodies = append(t.bodies, body)
	if dl, ok := req.Context().Deadline(); ok {
		t.deadlines = append(t.deadlines, time.Until(dl))
	}

	idx := t.calls
	if idx >= len(t.results) {
		idx = len(t.results) - 1
	}
	t.calls++

	r := t.results[idx]
	if t.clock != nil {
		t.clock.Advance(r.elapsed)
	}
	if r.err != nil {
		return nil, r.err
	}
	contentType := r.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func newTestClient(t *testing.T, cfg Config, tr *stubTransport) (*Client, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr.clock = clk

	c := NewClient("https://upstream.test/v1/chat/completions", "test-key", "test-model", cfg, tr)
	c.now = clk.Now
	c.sleep = clk.Advance
	c.jitter = func() float64 { return 0.5 } // fixed multiplier of 1.0
	return c, clk
}

func defaultTestConfig() Config {
	return Config{
		MaxRetries:        1,
		BackoffBase:       600 * time.Millisecond,
		PerAttemptTimeout: 55 * time.Second,
		TotalBudget:       57 * time.Second,
	}
}

func TestComplete_SuccessFirstAttempt(t *testing.T) {
	tr := &stubTransport{results: []stubResult{{status: 200, body: successBody, elapsed: time.Second}}}
	c, _ := newTestClient(t, defaultTestConfig(), tr)

	answer, err := c.Complete(context.Background(), []byte(`{"model":"test-model"}`))
	require.NoError(t, err)
	assert.Equal(t, "profile ready", answer)
	assert.Equal(t, 1, tr.calls)
}

func TestComplete_PayloadIdenticalAcrossAttempts(t *testing.T) {
	tr := &stubTransport{results: []stubResult{
		{status: 429, body: `{"error":{"message":"rate limited"}}`, elapsed: time.Second},
		{status: 200, body: successBody, elapsed: time.Second},
	}}
	c, _ := newTestClient(t, defaultTestConfig(), tr)

	payload := []byte(`{"model":"test-model","messages":[{"role":"user","content":"hi"}]}`)
	answer, err := c.Complete(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "profile ready", answer)

	require.Equal(t, 2, tr.calls)
	assert.Equal(t, tr.bodies[0], tr.bodies[1])
	assert.Equal(t, payload, tr.bodies[0])
}

func TestComplete_TerminalStatusShortCircuits(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxRetries = 3
	tr := &stubTransport{results: []stubResult{
		{status: 401, body: `{"error":{"message":"bad api key"}}`, elapsed: time.Second},
	}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, 401, upstreamErr.StatusCode)
	assert.Equal(t, "bad api key", upstreamErr.Message)
	assert.Equal(t, 1, tr.calls)
}

func TestComplete_RetriableExhaustionReturnsFinalResponse(t *testing.T) {
	tr := &stubTransport{results: []stubResult{
		{status: 503, body: `{"error":{"message":"overloaded"}}`, elapsed: time.Second},
		{status: 503, body: `{"error":{"message":"overloaded"}}`, elapsed: time.Second},
	}}
	c, _ := newTestClient(t, defaultTestConfig(), tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.Error(t, err)

	// The second attempt's failed response is the result, not a timeout.
	assert.NotErrorIs(t, err, ErrUpstreamTimeout)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, 503, upstreamErr.StatusCode)
	assert.Equal(t, 2, tr.calls)
}

func TestComplete_RetryBound(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxRetries = 3
	tr := &stubTransport{results: []stubResult{
		{status: 500, body: `{"error":{"message":"boom"}}`, elapsed: time.Second},
	}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, cfg.MaxRetries+1, tr.calls)
}

func TestComplete_BudgetExhaustedWithoutSecondAttempt(t *testing.T) {
	// First attempt hangs until its deadline, which the budget has clamped to
	// 1850ms. The 150ms left afterwards cannot fit another attempt.
	cfg := Config{
		MaxRetries:        1,
		BackoffBase:       600 * time.Millisecond,
		PerAttemptTimeout: 5 * time.Second,
		TotalBudget:       2 * time.Second,
	}
	tr := &stubTransport{results: []stubResult{
		{err: context.DeadlineExceeded, elapsed: 1850 * time.Millisecond},
	}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, 1, tr.calls)
}

func TestComplete_AttemptTimeoutRetriedThenSucceeds(t *testing.T) {
	tr := &stubTransport{results: []stubResult{
		{err: context.DeadlineExceeded, elapsed: 2 * time.Second},
		{status: 200, body: successBody, elapsed: time.Second},
	}}
	c, _ := newTestClient(t, defaultTestConfig(), tr)

	answer, err := c.Complete(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "profile ready", answer)
	assert.Equal(t, 2, tr.calls)
}

func TestComplete_AttemptDeadlineClampedToBudget(t *testing.T) {
	cfg := Config{
		MaxRetries:        0,
		BackoffBase:       600 * time.Millisecond,
		PerAttemptTimeout: 5 * time.Second,
		TotalBudget:       time.Second,
	}
	tr := &stubTransport{results: []stubResult{{status: 200, body: successBody}}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.NoError(t, err)

	// remaining - safetyMargin = 850ms, well under the 5s per-attempt cap.
	require.Len(t, tr.deadlines, 1)
	assert.LessOrEqual(t, tr.deadlines[0], 850*time.Millisecond)
	assert.Greater(t, tr.deadlines[0], 500*time.Millisecond)
}

func TestComplete_NetworkErrorNotRetried(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxRetries = 3
	transportErr := errors.New("connection refused")
	tr := &stubTransport{results: []stubResult{{err: transportErr, elapsed: time.Second}}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.Equal(t, 1, tr.calls)
}

func TestComplete_NonJSONFailureBodyTruncated(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxRetries = 0
	longBody := "<html>" + strings.Repeat("x", 1000)
	tr := &stubTransport{results: []stubResult{{status: 502, body: longBody, contentType: "text/html", elapsed: time.Second}}}
	c, _ := newTestClient(t, cfg, tr)

	_, err := c.Complete(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected upstream response")
	assert.Contains(t, err.Error(), "<html>")
	assert.Less(t, len(err.Error()), 400)
}

func TestBackoffDelay_ClampedToRemainingBudget(t *testing.T) {
	tr := &stubTransport{results: []stubResult{{status: 200, body: successBody}}}
	c, _ := newTestClient(t, defaultTestConfig(), tr)

	// Plenty of budget: the jittered base comes through unclamped.
	assert.Equal(t, 600*time.Millisecond, c.backoffDelay(10*time.Second))
	// Tight budget: the delay leaves the safety margin untouched.
	assert.Equal(t, 150*time.Millisecond, c.backoffDelay(300*time.Millisecond))
	// No usable budget: never negative.
	assert.Equal(t, time.Duration(0), c.backoffDelay(100*time.Millisecond))
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   outcome
	}{
		{200, outcomeSuccess},
		{201, outcomeSuccess},
		{408, outcomeRetriable},
		{429, outcomeRetriable},
		{500, outcomeRetriable},
		{503, outcomeRetriable},
		{400, outcomeTerminal},
		{401, outcomeTerminal},
		{404, outcomeTerminal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyStatus(tc.status), "status %d", tc.status)
	}
}

func TestDecideNextAction(t *testing.T) {
	cases := []struct {
		name       string
		outcome    outcome
		attempt    int
		maxRetries int
		want       action
	}{
		{"success", outcomeSuccess, 0, 1, actSucceed},
		{"retriable with attempts left", outcomeRetriable, 0, 1, actRetry},
		{"retriable exhausted", outcomeRetriable, 1, 1, actFailResponse},
		{"timeout with attempts left", outcomeTimeout, 0, 1, actRetry},
		{"timeout exhausted", outcomeTimeout, 1, 1, actFailTimeout},
		{"terminal on first attempt", outcomeTerminal, 0, 3, actFailResponse},
		{"network error on first attempt", outcomeNetworkError, 0, 3, actFailError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decideNextAction(tc.outcome, tc.attempt, tc.maxRetries))
		})
	}
}
