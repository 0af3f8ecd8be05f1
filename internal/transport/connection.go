// Package transport defines the Connection contract the broker consumes
// (spec §6) and a concrete adapter over gorilla/websocket. The broker
// never depends on gorilla/websocket directly — only on this interface —
// so the registry and session packages can be tested against a fake.
package transport

// Connection is an opaque handle supplied by the transport layer. It is
// owned by the session coordinator for the connection's lifetime and
// destroyed when the transport reports disconnect.
type Connection interface {
	// ID is the connection's conn_id, stable for its life.
	ID() string

	// RemoteIP is derived from transport headers: X-Forwarded-For's
	// first segment if present, else the peer address, else "unknown".
	RemoteIP() string

	// IsLive reports whether the underlying transport is still up.
	IsLive() bool

	// Send is an asynchronous, fire-and-forget emit of a named event to
	// this connection. Implementations must preserve the order in which
	// Send is called for a single Connection.
	Send(event string, payload any)

	// Subscribe and Leave model the transport's room-channel membership.
	// The broker does not route through channels; events go to single
	// connections via Send. These exist so a Connection's channel membership
	// stays observable/testable, not as a delivery mechanism.
	Subscribe(channel string)
	Leave(channel string)

	// OnDisconnect registers a callback invoked exactly once when the
	// transport reports this connection has gone away.
	OnDisconnect(cb func())

	// Close forcibly disconnects the transport. Used by the session
	// coordinator's idle timer (spec §4.4/§5). Close triggers the same
	// OnDisconnect callbacks a
	// transport-initiated disconnect would.
	Close()
}
