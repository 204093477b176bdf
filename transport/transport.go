// Package transport is the abstract boundary between the core and the
// concrete datagram transport (spec.md §6, §9 "Dynamic dispatch"). The core
// only ever talks to the small Adapter capability; callers inject a
// concrete implementation per remote device.
package transport

// Adapter is a best-effort, non-blocking, unreliable datagram channel to
// one remote device.
type Adapter interface {
	// Send best-effort-sends message. Never blocks and never returns an
	// error — a dropped datagram is indistinguishable from one that was
	// simply lost on the wire, which is the contract spec.md §6 asks for.
	Send(message []byte)

	// Poll returns the datagrams buffered since the last call, in arrival
	// order.
	Poll() [][]byte
}
