package domain

import "errors"

// Coordinator error taxonomy. All of these are recovered at the handler
// boundary: logged, the handler exits without broadcasting, and nothing
// is surfaced to the client beyond the explicit keyNotValid response.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrPlayerNotFound  = errors.New("player not found in room")
	ErrInvalidMessage  = errors.New("message must be a non-empty string")
	ErrMalformedRecord = errors.New("stored record is not a valid room")
)
