package broker

import "github.com/google/uuid"

// NoticeType enumerates the server-originated notification frames.
type NoticeType string

const (
	NoticeWaiting      NoticeType = "waiting"
	NoticePartnerFound NoticeType = "partner-found"
	NoticePartnerLeft  NoticeType = "partner-left"
	NoticeNoPartner    NoticeType = "no-partner"
	NoticeSkipped      NoticeType = "skipped"
	NoticeLeft         NoticeType = "left"
)

// Notice is a server-originated notification delivered to one peer.
type Notice struct {
	Type NoticeType

	// Partner is the counterpart's connection id; set only for
	// NoticePartnerFound.
	Partner uuid.UUID
}

// Peer is the transport-side view of a connection. Implementations must keep
// Notify/Forward ordered per connection, and all methods must be safe to call
// after the underlying transport has closed (returning an error is fine).
type Peer interface {
	// Notify delivers a server-originated notification frame.
	Notify(n Notice) error

	// Forward delivers a relayed frame verbatim, exactly as the sending client
	// encoded it.
	Forward(frame []byte) error

	// Ping sends a liveness probe.
	Ping() error

	// Close force-closes the transport.
	Close() error
}
