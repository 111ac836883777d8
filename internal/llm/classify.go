package llm

// outcome classifies a single attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetriable
	outcomeTerminal
	outcomeTimeout
	outcomeNetworkError
)

// classifyStatus maps an HTTP status to an attempt outcome. 408, 429 and any
// 5xx are transient; every other non-2xx is terminal.
func classifyStatus(code int) outcome {
	switch {
	case code >= 200 && code < 300:
		return outcomeSuccess
	case code == 408 || code == 429 || code >= 500:
		return outcomeRetriable
	default:
		return outcomeTerminal
	}
}

// action is the controller's next step after an attempt.
type action int

const (
	actSucceed action = iota
	actRetry
	actFailResponse // surface the attempt's response as the final result
	actFailTimeout
	actFailError
)

// decideNextAction is the retry policy: retriable outcomes and attempt
// timeouts get another try while attempts remain; an exhausted retriable
// sequence ends with its last response, an exhausted timeout sequence with a
// timeout; terminal statuses and non-timeout transport errors end
// immediately.
func decideNextAction(o outcome, attempt, maxRetries int) action {
	switch o {
	case outcomeSuccess:
		return actSucceed
	case outcomeRetriable:
		if attempt < maxRetries {
			return actRetry
		}
		return actFailResponse
	case outcomeTimeout:
		if attempt < maxRetries {
			return actRetry
		}
		return actFailTimeout
	case outcomeTerminal:
		return actFailResponse
	default:
		return actFailError
	}
}
