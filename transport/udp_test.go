package transport

import (
	"net"
	"testing"
	"time"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDispatcherRoutesToRegisteredAdapter(t *testing.T) {
	serverConn := listenUDP(t)
	clientConn := listenUDP(t)

	dispatcher := NewDispatcher(serverConn)
	go func() { _ = dispatcher.Run() }()

	// adapterForClient is how the server side talks back to the client;
	// it's registered under the client's address so the dispatcher knows
	// where inbound datagrams from that address should land.
	adapterForClient := NewUDPAdapter(serverConn, clientConn.LocalAddr())
	dispatcher.Register(clientConn.LocalAddr(), adapterForClient)

	sender := NewUDPAdapter(clientConn, serverConn.LocalAddr())
	sender.Send([]byte("ping"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := adapterForClient.Poll()
		if len(got) == 1 && string(got[0]) == "ping" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("datagram was not routed to the registered adapter within the deadline")
}

func TestDispatcherDiscardsUnregisteredSender(t *testing.T) {
	serverConn := listenUDP(t)
	strangerConn := listenUDP(t)
	knownConn := listenUDP(t)

	dispatcher := NewDispatcher(serverConn)
	go func() { _ = dispatcher.Run() }()

	known := NewUDPAdapter(serverConn, knownConn.LocalAddr())
	dispatcher.Register(knownConn.LocalAddr(), known)

	stranger := NewUDPAdapter(strangerConn, serverConn.LocalAddr())
	stranger.Send([]byte("unsolicited"))

	// Give the dispatcher a moment to have discarded it, then confirm the
	// registered adapter never saw it.
	time.Sleep(50 * time.Millisecond)
	if got := known.Poll(); len(got) != 0 {
		t.Fatalf("known.Poll() = %v, want empty (message came from an unregistered sender)", got)
	}
}

func TestUDPAdapterPollDrains(t *testing.T) {
	serverConn := listenUDP(t)
	clientConn := listenUDP(t)

	dispatcher := NewDispatcher(serverConn)
	go func() { _ = dispatcher.Run() }()

	adapterForClient := NewUDPAdapter(serverConn, clientConn.LocalAddr())
	dispatcher.Register(clientConn.LocalAddr(), adapterForClient)

	sender := NewUDPAdapter(clientConn, serverConn.LocalAddr())
	sender.Send([]byte("one"))
	sender.Send([]byte("two"))

	// Wait until both datagrams have been drained, so the next Poll has
	// nothing left that could still be in flight.
	received := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && received < 2 {
		received += len(adapterForClient.Poll())
		if received < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	if got := adapterForClient.Poll(); len(got) != 0 {
		t.Fatalf("second Poll() = %v, want empty (already drained)", got)
	}
}

func TestUDPAdapterSendDoesNotBlockOnClosedConn(t *testing.T) {
	conn := listenUDP(t)
	adapter := NewUDPAdapter(conn, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	_ = conn.Close()

	// Send swallows write errors (spec.md §6 non-blocking contract); this
	// must not panic or block even though the connection is already closed.
	adapter.Send([]byte("anything"))
}
