package transport

import (
	"net"
	"sync"
)

// UDPAdapter reaches one remote device over a shared net.PacketConn. The
// teacher's own network.TCPTransport/TCPConnection left datagram framing as
// an open TODO ("Length prefix for framing") and is stream-oriented besides
// — wrong shape for a contract that must never block and tolerates loss.
// UDP's datagram boundaries already match spec.md §6's one-message-per-
// datagram wire format with no framing needed at all.
type UDPAdapter struct {
	conn   net.PacketConn
	remote net.Addr

	mu      sync.Mutex
	pending [][]byte
}

// NewUDPAdapter creates an adapter that sends to remote over the given
// shared connection. The caller is expected to run one shared goroutine
// reading conn and calling Deliver on the adapter for the sender's address
// (see Dispatcher), since a single UDP socket serves every remote device in
// the session.
func NewUDPAdapter(conn net.PacketConn, remote net.Addr) *UDPAdapter {
	return &UDPAdapter{conn: conn, remote: remote}
}

// Send writes message to the remote address. Errors are swallowed — per
// the Adapter contract this is a best-effort, non-blocking send, and a
// write failure is just another form of packet loss.
func (u *UDPAdapter) Send(message []byte) {
	_, _ = u.conn.WriteTo(message, u.remote)
}

// Deliver queues a datagram received from this adapter's remote address.
// Called by the shared socket-reading goroutine, never by the core.
func (u *UDPAdapter) Deliver(message []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, message)
}

// Poll drains and returns everything delivered since the last call.
func (u *UDPAdapter) Poll() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.pending) == 0 {
		return nil
	}

	out := u.pending
	u.pending = nil
	return out
}

// Dispatcher fans datagrams read off one shared net.PacketConn out to the
// UDPAdapter registered for the sender's address, the single-socket-many-
// peers pattern a session with up to 8 devices needs (spec.md §1 "sessions
// larger than a fixed small number of peers" is out of scope, but even a
// handful of peers share one local port).
type Dispatcher struct {
	conn net.PacketConn

	mu       sync.Mutex
	adapters map[string]*UDPAdapter
}

// NewDispatcher creates a dispatcher reading from conn.
func NewDispatcher(conn net.PacketConn) *Dispatcher {
	return &Dispatcher{conn: conn, adapters: make(map[string]*UDPAdapter)}
}

// Register associates a remote address with the adapter that should
// receive datagrams from it.
func (d *Dispatcher) Register(remote net.Addr, adapter *UDPAdapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[remote.String()] = adapter
}

// Run reads datagrams off the socket until it errors or is closed,
// dispatching each to its registered adapter. Unrecognized senders are
// discarded (spec.md §7 UnknownSender: discarded, never fatal). Intended to
// run on its own goroutine — the core itself never blocks.
func (d *Dispatcher) Run() error {
	buf := make([]byte, 2048)

	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return err
		}

		d.mu.Lock()
		adapter, ok := d.adapters[addr.String()]
		d.mu.Unlock()

		if !ok {
			continue // UnknownSender: discard silently
		}

		msg := append([]byte(nil), buf[:n]...)
		adapter.Deliver(msg)
	}
}
