// Package device holds the per-peer descriptor (role, remote frame
// tracking, handshake state) that the Sync Engine and Session coordinate
// over.
package device

import (
	"math/rand"
	"time"

	"github.com/foxglove-games/rollsync/input"
	"github.com/foxglove-games/rollsync/transport"
)

// Role distinguishes the one local device from the (up to 7) remote
// devices in a session.
type Role int

const (
	// Local is the role of the one device whose input the host submits
	// directly (via Session.AdvanceFrame).
	Local Role = iota
	// Remote is the role of a peer device reached over a transport.Adapter.
	Remote
)

func (r Role) String() string {
	if r == Local {
		return "local"
	}
	return "remote"
}

// HandshakeState is a remote device's position in the
// Syncing -> Synced -> Running state machine (spec.md §4.5).
type HandshakeState int

const (
	Syncing HandshakeState = iota
	Synced
	Running
)

func (s HandshakeState) String() string {
	switch s {
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Device is a peer descriptor: role, player count, remote frame/advantage
// tracking, handshake state, and (for remote devices) the adapter used to
// reach it.
type Device struct {
	ID          int
	Role        Role
	PlayerCount int

	Queue *input.Queue

	remoteFrame     int64
	remoteAdvantage int64

	handshake       HandshakeState
	nonce           uint32
	lastHandshakeAt time.Time
	lastPingAt      time.Time
	rttMillis       int64

	Adapter transport.Adapter
}

// NewLocal creates the session's single local device.
func NewLocal(id, playerCount int, frameDelay int64, maxRollbackFrames int, sizePerPlayer int, adapter transport.Adapter) *Device {
	return &Device{
		ID:          id,
		Role:        Local,
		PlayerCount: playerCount,
		Queue:       input.NewQueue(maxRollbackFrames, frameDelay, sizePerPlayer, playerCount),
		handshake:   Running, // the local device doesn't shake hands with itself
		Adapter:     adapter,
		remoteFrame: -1,
	}
}

// NewRemote creates a remote device, starting in the Syncing handshake
// state with a fresh random nonce.
func NewRemote(id, playerCount int, maxRollbackFrames int, sizePerPlayer int, adapter transport.Adapter, rng *rand.Rand) *Device {
	return &Device{
		ID:          id,
		Role:        Remote,
		PlayerCount: playerCount,
		Queue:       input.NewQueue(maxRollbackFrames, 0, sizePerPlayer, playerCount),
		handshake:   Syncing,
		nonce:       rng.Uint32(),
		Adapter:     adapter,
		remoteFrame: -1,
	}
}

// RemoteFrame implements timesync.RemoteView.
func (d *Device) RemoteFrame() int64 { return d.remoteFrame }

// RemoteAdvantage implements timesync.RemoteView.
func (d *Device) RemoteAdvantage() int64 { return d.remoteAdvantage }

// SetRemoteFrame records that frame f has been acknowledged by this remote
// device, along with the advantage as of the local frame it arrived at.
func (d *Device) SetRemoteFrame(f int64, localFrame int64) {
	if f > d.remoteFrame {
		d.remoteFrame = f
		d.remoteAdvantage = localFrame - f
	}
}

// HandshakeState returns the device's current handshake state.
func (d *Device) HandshakeState() HandshakeState { return d.handshake }

// IsRunning reports whether this device has completed the handshake.
func (d *Device) IsRunning() bool { return d.handshake == Running }

// Nonce returns the nonce this device last generated for a SyncRequest.
func (d *Device) Nonce() uint32 { return d.nonce }

// MarkSynced transitions the device to Synced if n matches the nonce this
// device last sent. Idempotent: a duplicate SyncReply with the same nonce
// re-confirms the same state rather than erroring.
func (d *Device) MarkSynced(n uint32) {
	if n == d.nonce && d.handshake == Syncing {
		d.handshake = Synced
	}
}

// MarkRunning promotes the device to Running. Called by the session once
// every remote device has reached Synced.
func (d *Device) MarkRunning() {
	if d.handshake == Synced {
		d.handshake = Running
	}
}

// RecordPing stamps the send time of the most recent outgoing QualityReport.
func (d *Device) RecordPing(sentAt time.Time) {
	d.lastPingAt = sentAt
}

// RecordPong computes an RTT estimate as the time since the last
// RecordPing. Replies are not matched to a particular report.
func (d *Device) RecordPong(receivedAt time.Time) {
	if d.lastPingAt.IsZero() {
		return
	}
	d.rttMillis = receivedAt.Sub(d.lastPingAt).Milliseconds()
}

// ShouldSendSyncRequest reports whether interval has elapsed since this
// device's last SyncRequest send — it has no effect once the device is
// Synced or Running, since handshake messages stop once the device reaches
// those states (spec.md §4.5).
func (d *Device) ShouldSendSyncRequest(now time.Time, interval time.Duration) bool {
	if d.handshake != Syncing {
		return false
	}
	return now.Sub(d.lastHandshakeAt) >= interval
}

// NoteSyncRequestSent stamps the time a SyncRequest was just sent, for the
// next ShouldSendSyncRequest check.
func (d *Device) NoteSyncRequestSent(now time.Time) {
	d.lastHandshakeAt = now
}

// ShouldSendPing reports whether interval has elapsed since the last
// QualityReport was sent to this device. Only meaningful once the device is
// Running — quality reporting is post-handshake liveness (spec.md §4.5).
func (d *Device) ShouldSendPing(now time.Time, interval time.Duration) bool {
	if d.handshake != Running {
		return false
	}
	return now.Sub(d.lastPingAt) >= interval
}

// Ping returns the last measured round-trip estimate in milliseconds, 0 if
// none has been measured yet. Advisory only — spec.md §4.5 marks quality
// reporting as optional liveness, unused by the rollback decision itself.
func (d *Device) Ping() int64 { return d.rttMillis }
