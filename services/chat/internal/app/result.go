package app

import "roomchat/pkg/domain"

// Outcome classifies the result of a chat operation.
type Outcome int

const (
	OK Outcome = iota
	RateLimited
	NotFound
	Forbidden
	Invalid
	Transient
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Invalid:
		return "invalid"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

const (
	msgRateLimited = "Rate limit exceeded. Please try again later."
	msgNotFound    = "Message not found"
	msgForbidden   = "You can only delete your own messages"
	msgTransient   = "Temporary failure. Please try again later."
	msgNoIdentity  = "Identity required"
)

// Result is what every chat operation returns. Messages is set for reads,
// Message for a successful send. Cause is only set for Transient and is
// never shown to callers.
type Result struct {
	Outcome  Outcome
	Text     string
	Messages []domain.Message
	Message  *domain.Message
	Cause    error
}

func rateLimited() Result {
	return Result{Outcome: RateLimited, Text: msgRateLimited}
}

func invalid(text string) Result {
	return Result{Outcome: Invalid, Text: text}
}

func transient(err error) Result {
	return Result{Outcome: Transient, Text: msgTransient, Cause: err}
}
