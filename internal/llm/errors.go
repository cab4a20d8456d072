package llm

import "errors"

// Sentinel errors classifying remote endpoint failures. Endpoint
// implementations wrap these so policy code can use errors.Is without
// knowing the transport's own error types.
var (
	// ErrRateLimited indicates a 429-class rate limit response.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrServer indicates a 5xx-class server failure.
	ErrServer = errors.New("llm: server error")

	// ErrTimeout indicates the request deadline was exceeded.
	ErrTimeout = errors.New("llm: request timeout")

	// ErrConnection indicates a network-level connection failure.
	ErrConnection = errors.New("llm: connection failure")

	// ErrExhausted wraps the terminal failure after all retries and any
	// fallback attempts are spent.
	ErrExhausted = errors.New("llm: all attempts exhausted")
)

// Class is the retry policy verdict for a failed attempt.
type Class int

// Classification outcomes, from most to least recoverable.
const (
	// ClassFallbackEligible errors are retryable and, once primary
	// retries are spent, justify switching to the fallback model.
	ClassFallbackEligible Class = iota

	// ClassRetryable errors are worth retrying on the same model but
	// never trigger fallback: a network problem is not fixed by
	// switching models.
	ClassRetryable

	// ClassFatal errors abort immediately with no retry.
	ClassFatal
)

// String returns the class name for logs.
func (c Class) String() string {
	switch c {
	case ClassFallbackEligible:
		return "fallback_eligible"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps an attempt error to its retry policy verdict.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServer):
		return ClassFallbackEligible
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrConnection):
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// ShouldFallback reports whether the failure that exhausted the primary
// model justifies trying the fallback model. Only rate limit and server
// errors qualify, and only when a fallback model is configured.
func ShouldFallback(err error, fallbackConfigured bool) bool {
	if !fallbackConfigured {
		return false
	}
	return Classify(err) == ClassFallbackEligible
}
