package registry

import "fmt"

// Kind is a domain error taxonomy, surfaced to RPC callers as the
// human-readable Message, never as a transport-level fault (spec §7).
type Kind string

const (
	KindInvalidCode       Kind = "INVALID_CODE"
	KindRoomNotFound      Kind = "ROOM_NOT_FOUND"
	KindNotAHost          Kind = "NOT_A_HOST"
	KindPeerNotPending    Kind = "PEER_NOT_PENDING"
	KindNotInRoom         Kind = "NOT_IN_ROOM"
	KindNotAuthorized     Kind = "NOT_AUTHORIZED"
	KindTargetNotFound    Kind = "TARGET_NOT_FOUND"
	KindAlreadyInRoom     Kind = "ALREADY_IN_ROOM"
	KindRateLimitedConn   Kind = "RATE_LIMITED_CONNECTION"
	KindRateLimitedRoom   Kind = "RATE_LIMITED_ROOM"
	KindRateLimitedJoin   Kind = "RATE_LIMITED_JOIN"
	KindRateLimitedSignal Kind = "RATE_LIMITED_SIGNAL"
	KindIPRoomCap         Kind = "IP_ROOM_CAP"
	KindPayloadTooLarge   Kind = "PAYLOAD_TOO_LARGE"
	KindPendingFull       Kind = "PENDING_FULL"
)

var messages = map[Kind]string{
	KindInvalidCode:       "Invalid code format",
	KindRoomNotFound:      "Room not found",
	KindNotAHost:          "Not a host",
	KindPeerNotPending:    "Peer not found in pending",
	KindNotInRoom:         "Not in a room",
	KindNotAuthorized:     "Not authorized to signal",
	KindTargetNotFound:    "Target not found",
	KindAlreadyInRoom:     "Already in a room",
	KindRateLimitedConn:   "Too many connection attempts. Please try again later.",
	KindRateLimitedRoom:   "Too many rooms created. Please try again later.",
	KindRateLimitedJoin:   "Too many join attempts. Please try again later.",
	KindRateLimitedSignal: "Too many signals sent. Please slow down.",
	KindPayloadTooLarge:   "Payload too large.",
	KindPendingFull:       "Room has too many pending requests. Please try again later.",
}

// Error is a domain error: a Kind plus the exact text the RPC surface
// shows the caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Public satisfies internal/rpc's PublicError interface: domain errors
// are always safe to surface verbatim to the RPC caller (spec §7).
func (e *Error) Public() string { return e.Message }

func newErr(k Kind) *Error {
	return &Error{Kind: k, Message: messages[k]}
}

// IPRoomCapError formats the "N rooms per IP" message, since N is a
// runtime configuration value rather than a fixed string.
func IPRoomCapError(maxRoomsPerIP int) *Error {
	return &Error{
		Kind:    KindIPRoomCap,
		Message: fmt.Sprintf("Maximum %d rooms per IP reached.", maxRoomsPerIP),
	}
}

// The following constructors surface taxonomy errors that originate at
// the Session Coordinator layer (spec §4.4) rather than inside the
// Registry itself: rate limiting, the per-IP room cap, the per-room
// pending cap, oversized signal payloads, and code shape rejection all
// run before a Registry operation is ever called.

func ErrRateLimitedConnection() *Error { return newErr(KindRateLimitedConn) }
func ErrRateLimitedRoom() *Error       { return newErr(KindRateLimitedRoom) }
func ErrRateLimitedJoin() *Error       { return newErr(KindRateLimitedJoin) }
func ErrRateLimitedSignal() *Error     { return newErr(KindRateLimitedSignal) }
func ErrInvalidCode() *Error           { return newErr(KindInvalidCode) }
func ErrPendingFull() *Error           { return newErr(KindPendingFull) }
func ErrPayloadTooLarge() *Error       { return newErr(KindPayloadTooLarge) }
