// Package signaling implements the WebSocket surface of the broker: the
// per-connection admission gate, the wire message schema, and the dispatch of
// matchmaking and relay frames into the broker.
//
// Relayed payloads (offer/answer/candidate/chat) are opaque to this package;
// only the message kind field is ever inspected.
package signaling
