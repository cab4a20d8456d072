package relay

import (
	"errors"
	"fmt"

	"github.com/flemzord/chatrelay/internal/llm"
)

// Category is the user-facing failure bucket for an exchange. Internal
// detail like model names or attempt counts never reaches the user; only
// the category's message does.
type Category int

const (
	CategoryRateLimited Category = iota
	CategoryTimeout
	CategoryConnection
	CategoryGeneric
)

// String returns the category name for logs and events.
func (c Category) String() string {
	switch c {
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryTimeout:
		return "timeout"
	case CategoryConnection:
		return "connection"
	case CategoryGeneric:
		return "generic"
	}
	return "unknown"
}

// UserMessage returns the safe text delivered to the user for this
// failure category.
func (c Category) UserMessage() string {
	switch c {
	case CategoryRateLimited:
		return "Request limit reached. Please try again in a minute."
	case CategoryTimeout:
		return "The request took too long. Please try again."
	case CategoryConnection:
		return "Having trouble reaching the assistant. Please try again later."
	}
	return "Could not process your request. Please try again later."
}

// Error is a failed exchange with its user-facing category. The cause is
// preserved for logs and errors.Is checks.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: %s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// categorize maps a pipeline error to its user-facing category. Rate
// limiting is checked first: a combined exhaustion error can wrap several
// sentinels and the most specific one wins.
func categorize(err error) Category {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return CategoryRateLimited
	case errors.Is(err, llm.ErrTimeout):
		return CategoryTimeout
	case errors.Is(err, llm.ErrConnection):
		return CategoryConnection
	default:
		return CategoryGeneric
	}
}
