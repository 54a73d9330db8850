// Package broker owns the shared state of the signaling service: the registry
// of live connections, the waiting queue, and the pairing relation between
// connections.
//
// Every mutation that touches a pairing (setting or clearing both partner
// references, queue membership) runs inside one mutex-guarded critical
// section, so a half-formed pairing is never observable. Notifications to
// peers are collected while the lock is held and delivered after it is
// released, keeping network writes out of the critical section.
package broker
