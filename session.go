// Package rollsync is a peer-to-peer rollback network synchronization
// core for real-time multiplayer games: every participant simulates the
// full game deterministically, and the session hides round-trip latency by
// speculatively advancing on predicted remote input, detecting mispredictions
// once authoritative input arrives, and rolling the simulation back to the
// last verified frame before re-advancing it.
//
// Session owns exactly one Local device and up to seven Remote devices. The
// host drives it with Poll (drain transports, advance the handshake) and
// AdvanceFrame (step the simulation one tick), and executes the returned
// Directive list — Session never touches game state itself; that's the
// host's job (see package engine).
package rollsync

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/foxglove-games/rollsync/device"
	"github.com/foxglove-games/rollsync/engine"
	"github.com/foxglove-games/rollsync/protocol"
	"github.com/foxglove-games/rollsync/statestore"
	"github.com/foxglove-games/rollsync/transport"
)

// Config holds session-wide tunables.
type Config struct {
	MaxRollbackFrames  int
	InputSizePerPlayer int
	RedundancyFrames   int64
	HandshakeInterval  time.Duration
	PingInterval       time.Duration
}

// DefaultConfig returns the defaults called out in spec.md §6.
func DefaultConfig(inputSizePerPlayer int) Config {
	return Config{
		MaxRollbackFrames:  8,
		InputSizePerPlayer: inputSizePerPlayer,
		RedundancyFrames:   engine.DefaultRedundancyFrames,
		HandshakeInterval:  250 * time.Millisecond,
		PingInterval:       time.Second,
	}
}

var (
	// ErrLocalDeviceAlreadySet is returned by SetLocalDevice when the
	// session already has a local device.
	ErrLocalDeviceAlreadySet = errors.New("rollsync: local device already set")
	// ErrNoLocalDevice is returned by operations that require a local
	// device before one has been set.
	ErrNoLocalDevice = errors.New("rollsync: no local device set")
	// ErrDuplicateDeviceID is returned when a device ID collides with one
	// already registered.
	ErrDuplicateDeviceID = errors.New("rollsync: duplicate device id")
)

// Session is the Host contract of spec.md §6: a single coordinator owning
// one local device, its remote peers, the time-synchronizer, state storage
// and the Sync Engine that ties them together.
type Session struct {
	mu sync.Mutex

	cfg Config
	rng *rand.Rand

	local     *device.Device
	remotes   map[int]*device.Device
	remoteIDs []int // stable iteration order, ascending
	store     *statestore.Store
	eng       *engine.Engine
	running   bool
	rollbacks int

	pending []engine.Directive
}

// New creates a session. Devices are registered afterward via
// SetLocalDevice/AddRemoteDevice.
func New(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		remotes: make(map[int]*device.Device),
		store:   statestore.New(cfg.MaxRollbackFrames),
	}
}

// SetLocalDevice registers the session's one local device.
func (s *Session) SetLocalDevice(id, playerCount int, frameDelay int64, adapter transport.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local != nil {
		return ErrLocalDeviceAlreadySet
	}
	if _, ok := s.remotes[id]; ok {
		return fmt.Errorf("rollsync: device %d: %w", id, ErrDuplicateDeviceID)
	}

	s.local = device.NewLocal(id, playerCount, frameDelay, s.cfg.MaxRollbackFrames, s.cfg.InputSizePerPlayer, adapter)

	if s.eng == nil {
		s.eng = engine.New(s.engineConfig(), s.store, s.local, nil)
	}

	return nil
}

// AddRemoteDevice registers a remote peer. SetLocalDevice must be called
// first — the engine is constructed around the local device.
func (s *Session) AddRemoteDevice(id, playerCount int, adapter transport.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return ErrNoLocalDevice
	}
	if id == s.local.ID {
		return fmt.Errorf("rollsync: device %d: %w", id, ErrDuplicateDeviceID)
	}
	if _, ok := s.remotes[id]; ok {
		return fmt.Errorf("rollsync: device %d: %w", id, ErrDuplicateDeviceID)
	}

	d := device.NewRemote(id, playerCount, s.cfg.MaxRollbackFrames, s.cfg.InputSizePerPlayer, adapter, s.rng)
	s.remotes[id] = d
	s.remoteIDs = append(s.remoteIDs, id)
	sort.Ints(s.remoteIDs)

	s.eng.AddRemote(d)

	log.Printf("[INFO] rollsync: remote device %d registered, players=%d", id, playerCount)

	return nil
}

func (s *Session) engineConfig() engine.Config {
	cfg := engine.DefaultConfig(s.cfg.InputSizePerPlayer)
	cfg.TimeSync.MaxRollbackFrames = int64(s.cfg.MaxRollbackFrames)
	cfg.RedundancyFrames = s.cfg.RedundancyFrames
	return cfg
}

// IsRunning reports whether every remote device has completed the
// handshake and the session has been promoted to Running.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Poll drains every remote adapter, dispatches decoded messages, and
// advances the handshake — the first half of a tick, per spec.md §2's data
// flow ("the host calls poll() ... then the host calls advance(...)").
func (s *Session) Poll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return ErrNoLocalDevice
	}

	now := time.Now()

	for _, id := range s.remoteIDs {
		d := s.remotes[id]
		s.pollDevice(d, now)
	}

	s.maybePromoteRunning()

	return nil
}

func (s *Session) pollDevice(d *device.Device, now time.Time) {
	for _, raw := range d.Adapter.Poll() {
		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("[ERROR] rollsync: malformed message from device %d: %v", d.ID, err)
			continue // MalformedMessage: logged and discarded, never fatal (spec.md §7)
		}

		s.dispatch(d, msg, now)
	}

	if d.ShouldSendSyncRequest(now, s.cfg.HandshakeInterval) {
		d.Adapter.Send(protocol.EncodeSyncRequest(protocol.SyncRequest{Nonce: d.Nonce()}))
		d.NoteSyncRequestSent(now)
	}

	if d.ShouldSendPing(now, s.cfg.PingInterval) {
		frame := uint32(0)
		if lf := s.eng.TimeSync().LocalFrame(); lf > 0 {
			frame = uint32(lf)
		}
		d.Adapter.Send(protocol.EncodeQualityReport(protocol.QualityReport{Frame: frame, Advantage: int32(d.RemoteAdvantage())}))
		d.RecordPing(now)
	}
}

func (s *Session) dispatch(d *device.Device, msg protocol.Message, now time.Time) {
	switch msg.Tag {
	case protocol.TagSyncRequest:
		d.Adapter.Send(protocol.EncodeSyncReply(protocol.SyncReply{Nonce: msg.SyncRequest.Nonce}))

	case protocol.TagSyncReply:
		d.MarkSynced(msg.SyncReply.Nonce)

	case protocol.TagInputBatch:
		acks, err := s.eng.IngestRemoteInput(d, msg.InputBatch)
		if err != nil {
			log.Printf("[ERROR] rollsync: ingest from device %d: %v", d.ID, err)
			return
		}
		for _, ack := range acks {
			d.Adapter.Send(protocol.EncodeInputAck(ack))
		}

	case protocol.TagInputAck:
		// Idempotent, advisory only — the core doesn't retransmit, so
		// there is nothing to reconcile against an ack (spec.md §7).

	case protocol.TagQualityReport:
		d.Adapter.Send(protocol.EncodeQualityReply(protocol.QualityReply{Frame: msg.QualityReport.Frame}))

	case protocol.TagQualityReply:
		d.RecordPong(now)
	}
}

func (s *Session) maybePromoteRunning() {
	if s.running {
		return
	}

	for _, id := range s.remoteIDs {
		if s.remotes[id].HandshakeState() != device.Synced {
			return
		}
	}

	if len(s.remoteIDs) == 0 {
		return
	}

	for _, id := range s.remoteIDs {
		s.remotes[id].MarkRunning()
	}

	s.running = true
	log.Printf("[INFO] rollsync: all %d remote device(s) synced, session running", len(s.remoteIDs))
}

// AdvanceFrame steps the simulation one tick using localInput and returns
// the directives the host must execute in order.
func (s *Session) AdvanceFrame(localInput []byte) ([]engine.Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return nil, ErrNoLocalDevice
	}

	directives, err := s.eng.Advance(localInput)
	if err != nil {
		return nil, err
	}

	for _, d := range directives {
		if d.Kind == engine.Load {
			s.rollbacks++
		}
	}

	return directives, nil
}

// AddLocalInput is the alternate entry point named in spec.md §6, for hosts
// that consume directives somewhere other than AdvanceFrame's return value
// (e.g. a separate directive-processing goroutine). It runs the same
// Engine.Advance call and appends the result to an internal buffer drained
// by TakeDirectives.
func (s *Session) AddLocalInput(localInput []byte) error {
	directives, err := s.AdvanceFrame(localInput)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = append(s.pending, directives...)
	s.mu.Unlock()

	return nil
}

// TakeDirectives drains and returns everything accumulated by
// AddLocalInput since the last call.
func (s *Session) TakeDirectives() []engine.Directive {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	return out
}

// Stats is a point-in-time snapshot for spectators/monitoring tools —
// never consulted by the rollback decision itself.
type Stats struct {
	LocalFrame int64
	SyncFrame  int64
	Running    bool
	Rollbacks  int
	Devices    []DeviceStats
}

// DeviceStats is one remote peer's contribution to a Stats snapshot.
type DeviceStats struct {
	ID              int
	HandshakeState  device.HandshakeState
	RemoteFrame     int64
	RemoteAdvantage int64
	PingMillis      int64
}

// Stats returns a snapshot of the session's current frame/handshake/
// rollback counters, intended for a terminal dashboard or spectator feed
// (SPEC_FULL's supplemented feature over the distilled core).
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Running:   s.running,
		Rollbacks: s.rollbacks,
	}

	if s.eng != nil {
		stats.LocalFrame = s.eng.TimeSync().LocalFrame()
		stats.SyncFrame = s.eng.TimeSync().SyncFrame()
	}

	for _, id := range s.remoteIDs {
		d := s.remotes[id]
		stats.Devices = append(stats.Devices, DeviceStats{
			ID:              d.ID,
			HandshakeState:  d.HandshakeState(),
			RemoteFrame:     d.RemoteFrame(),
			RemoteAdvantage: d.RemoteAdvantage(),
			PingMillis:      d.Ping(),
		})
	}

	return stats
}
