// Package protocol defines the error codes reported to clients.
package protocol

// Code identifies the reason of an error event.
type Code string

const (
	CodeInvalidToken     Code = "invalid_token"
	CodeTokenExpired     Code = "token_expired"
	CodeAlreadyBound     Code = "already_bound"
	CodeNotAuthenticated Code = "not_authenticated"
	CodeMalformed        Code = "malformed_payload"
	CodeUnknownEvent     Code = "unknown_event"
	CodeNotSubscribed    Code = "not_subscribed"
	CodeForbidden        Code = "forbidden"
	CodeRateLimited      Code = "rate_limited"
	CodeSpinInProgress   Code = "spin_in_progress"
	CodeNotInGame        Code = "not_in_game"
	CodeInternal         Code = "internal_error"
)

// ErrorEvent builds an error event. origin is the client event type that
// triggered it and may be empty when the frame could not be parsed.
func ErrorEvent(code Code, message string, origin EventType) Event {
	fields := Fields{"code": code, "message": message}
	if origin != "" {
		fields["event"] = origin
	}
	return New(Error, fields)
}
