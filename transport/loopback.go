package transport

// LoopbackAdapter connects two in-process devices via a pair of buffered
// channels, the same toSend/toRecv shape used by alex-yte-dendy's
// netplay.Netplay for its single TCP-backed peer connection, generalized
// here to an in-memory pair for tests and the demo harness — no socket
// involved, so it never needs a goroutine to drain a blocking Read.
type LoopbackAdapter struct {
	out chan []byte
	in  chan []byte
}

// NewLoopbackPair creates two adapters wired to each other: sends on one
// side are received by Poll on the other.
func NewLoopbackPair(buffer int) (a, b *LoopbackAdapter) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)

	a = &LoopbackAdapter{out: ab, in: ba}
	b = &LoopbackAdapter{out: ba, in: ab}

	return a, b
}

// Send buffers message for delivery to the paired adapter. Drops the
// message if the buffer is full rather than blocking, matching the
// contract's "never blocks" requirement.
func (l *LoopbackAdapter) Send(message []byte) {
	msg := append([]byte(nil), message...)

	select {
	case l.out <- msg:
	default:
		// Buffer full: simulate packet loss rather than block.
	}
}

// Poll drains and returns everything received since the last call.
func (l *LoopbackAdapter) Poll() [][]byte {
	var received [][]byte

	for {
		select {
		case msg := <-l.in:
			received = append(received, msg)
		default:
			return received
		}
	}
}
