// Package engine implements the per-tick Sync Engine state machine
// (spec.md §4.4) — the heart of the module. Engine.Advance evaluates time
// sync, verifies outstanding predictions, rolls back on mismatch, and
// advances the local simulation, returning the ordered list of directives
// the host must execute.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/foxglove-games/rollsync/device"
	"github.com/foxglove-games/rollsync/input"
	"github.com/foxglove-games/rollsync/protocol"
	"github.com/foxglove-games/rollsync/statestore"
	"github.com/foxglove-games/rollsync/timesync"
)

// InitialFrame is the frame whose checkpoint is established before any
// input is simulated, per spec.md §6.
const InitialFrame int64 = 0

// DefaultRedundancyFrames is the trailing window of already-sent frames
// re-included in every outgoing InputBatch, masking packet loss without a
// retransmission protocol (spec.md §4.4).
const DefaultRedundancyFrames int64 = 8

// Kind discriminates the Directive sum type (spec.md §9: "prefer a sum type
// over subclassing").
type Kind int

const (
	// Save asks the host to serialize current game state into Store at Frame.
	Save Kind = iota
	// Load asks the host to restore game state from Store at Frame.
	Load
	// Advance asks the host to step the simulation once using Inputs.
	Advance
)

func (k Kind) String() string {
	switch k {
	case Save:
		return "save"
	case Load:
		return "load"
	case Advance:
		return "advance"
	default:
		return "unknown"
	}
}

// Directive is one save/load/advance instruction returned by Advance. Save
// and Load carry Store, the "storage handle" spec.md §4.4 refers to — the
// host writes/reads state through it directly; the core never touches the
// bytes.
type Directive struct {
	Kind   Kind
	Frame  int64
	Inputs []byte            // populated only for Advance
	Store  *statestore.Store // populated only for Save/Load
}

// ErrWrongDeviceRole is returned when a caller addresses the wrong role for
// an operation (spec.md §7).
var ErrWrongDeviceRole = errors.New("engine: wrong device role")

// Config holds the engine's own tunables, layered on top of timesync.Config.
type Config struct {
	TimeSync           timesync.Config
	RedundancyFrames   int64
	InputSizePerPlayer int
}

// DefaultConfig returns the defaults called out in spec.md §6.
func DefaultConfig(inputSizePerPlayer int) Config {
	return Config{
		TimeSync:           timesync.DefaultConfig(),
		RedundancyFrames:   DefaultRedundancyFrames,
		InputSizePerPlayer: inputSizePerPlayer,
	}
}

// Engine is the per-session Sync Engine.
type Engine struct {
	cfg Config
	ts  *timesync.State

	store *statestore.Store

	local   *device.Device
	remotes []*device.Device

	initialSaveEmitted bool
}

// New creates an Engine. store is owned by the caller (the Session) and
// shared by reference — Save/Load directives carry it through so the host
// can act on it directly.
//
// local_frame starts at InitialFrame (0), not timesync's own NoFrame (-1)
// default: frame 0 is the pre-simulation checkpoint established by the
// initial-frame save below, and the first simulated frame is 1. This
// resolves the scenario text in spec.md §8 ("Single-peer lock-step" expects
// the exact trace Save(0), Advance(1), Save(1), ..., Advance(60), Save(60))
// in favor of the more precisely specified concrete scenario over the
// looser boundary-behavior prose ("emits Save(0) and an initial
// Advance(0)") a few lines above it in the same document.
func New(cfg Config, store *statestore.Store, local *device.Device, remotes []*device.Device) *Engine {
	ts := timesync.New(cfg.TimeSync)
	ts.SetLocalFrame(InitialFrame)

	return &Engine{
		cfg:     cfg,
		ts:      ts,
		store:   store,
		local:   local,
		remotes: remotes,
	}
}

// TimeSync exposes the engine's time-sync state for monitoring/tests.
func (e *Engine) TimeSync() *timesync.State { return e.ts }

// AddRemote registers a remote device discovered after the engine was
// constructed (devices are added to a session incrementally per spec.md
// §6's AddRemoteDevice).
func (e *Engine) AddRemote(d *device.Device) {
	e.remotes = append(e.remotes, d)
}

func (e *Engine) allDevices() []*device.Device {
	all := make([]*device.Device, 0, len(e.remotes)+1)
	all = append(all, e.local)
	all = append(all, e.remotes...)

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return all
}

func (e *Engine) remoteViews() []timesync.RemoteView {
	views := make([]timesync.RemoteView, 0, len(e.remotes))
	for _, d := range e.remotes {
		views = append(views, d)
	}
	return views
}

// combinedInputsAt concatenates every device's input at frame f in
// device-id order (spec.md §4.4).
func (e *Engine) combinedInputsAt(f int64) []byte {
	var buf []byte
	for _, d := range e.allDevices() {
		gi := d.Queue.GetInput(f)
		buf = append(buf, gi.Bytes...)
	}
	return buf
}

// updateSyncFrame runs the prediction-verification sweep of spec.md §4.4
// step 2 and reports whether it found a misprediction. For every frame from
// sync_frame+1 up to ceiling, every device's prediction (if any) is checked
// against its confirmed input (if any) and then cleared, regardless of
// outcome — so that, per the boundary note in spec.md §8, "all predictions
// at frames <= m are cleared" after a mismatch at m, not just the
// mismatching device's.
func (e *Engine) updateSyncFrame() bool {
	remoteFrame := timesync.RemoteFrame(e.remoteViews())
	localFrame := e.ts.LocalFrame()

	ceiling := localFrame
	if remoteFrame < ceiling {
		ceiling = remoteFrame
	}

	devices := e.allDevices()
	newSyncFrame := ceiling
	foundMismatch := false

	for i := e.ts.SyncFrame() + 1; i <= ceiling; i++ {
		mismatch := false

		for _, d := range devices {
			pred := d.Queue.GetPredictedInput(i)
			if pred.Frame == i && d.Queue.HasConfirmed(i) {
				confirmed := d.Queue.PeekInput(i)
				if !pred.Equal(confirmed, false) {
					mismatch = true
				}
			}
		}

		for _, d := range devices {
			d.Queue.ResetPrediction(i)
		}

		if mismatch {
			newSyncFrame = i - 1
			foundMismatch = true
			break
		}
	}

	e.ts.SetSyncFrame(newSyncFrame)

	return foundMismatch
}

// shouldRollback implements the full spec.md §4.3 should_rollback: sync_frame
// < local_frame AND there is at least one frame in that gap for which every
// device's authoritative input was just resolved and disagreed with what had
// been speculated. foundMismatch comes straight out of this tick's
// updateSyncFrame sweep: sync_frame trailing local_frame merely because a
// remote's confirmation routinely lands a few frames behind local_frame
// (ordinary network latency, not misprediction) must not by itself trigger a
// replay — nothing diverged, so replaying would only reproduce the same
// state on every single tick forever. sync_frame == NoFrame means nothing
// has ever been verified (e.g. before the first remote input has arrived) —
// there is no saved state to Load in that case either.
func (e *Engine) shouldRollback(foundMismatch bool) bool {
	return foundMismatch && e.ts.SyncFrame() >= 0 && e.ts.SyncFrame() < e.ts.LocalFrame()
}

// broadcastLocalInput sends every remote device an InputBatch covering the
// trailing redundancy window through local_frame+frame_delay (spec.md
// §4.4).
func (e *Engine) broadcastLocalInput() {
	localFrame := e.ts.LocalFrame()
	delay := e.local.Queue.FrameDelay()

	start := localFrame - e.cfg.RedundancyFrames
	if start < 0 {
		start = 0
	}
	end := localFrame + delay

	var payload []byte
	for f := start; f <= end; f++ {
		gi := e.local.Queue.PeekInput(f)
		payload = append(payload, gi.Bytes...)
	}

	msg := protocol.EncodeInputBatch(protocol.InputBatch{
		StartFrame: uint32(start),
		EndFrame:   uint32(end),
		Payload:    payload,
	})

	for _, d := range e.remotes {
		if d.Adapter != nil {
			d.Adapter.Send(msg)
		}
	}
}

// Advance is the engine's single public operation (spec.md §4.4): evaluate
// time sync, verify predictions, roll back on mismatch, and (if not
// stalled) advance the local simulation by one frame using localInput.
func (e *Engine) Advance(localInput []byte) ([]Directive, error) {
	wantLen := e.local.PlayerCount * e.cfg.InputSizePerPlayer
	if len(localInput) != wantLen {
		return nil, fmt.Errorf("engine: local input len=%d want=%d: %w", len(localInput), wantLen, input.ErrSizeMismatch)
	}

	var directives []Directive

	// Step 1: determine time-sync state.
	mayAdvance := e.ts.IsTimeSynced(e.remoteViews())

	// Step 2: prediction-verification sweep.
	foundMismatch := e.updateSyncFrame()

	// Step 3: initial-frame checkpoint, emitted exactly once.
	if e.ts.LocalFrame() == InitialFrame && !e.initialSaveEmitted {
		directives = append(directives, Directive{Kind: Save, Frame: InitialFrame, Store: e.store})
		e.initialSaveEmitted = true
	}

	// Step 4: rollback pass.
	if e.shouldRollback(foundMismatch) {
		syncFrame := e.ts.SyncFrame()
		localFrame := e.ts.LocalFrame()

		directives = append(directives, Directive{Kind: Load, Frame: syncFrame, Store: e.store})

		for i := syncFrame + 1; i <= localFrame; i++ {
			directives = append(directives, Directive{Kind: Advance, Frame: i, Inputs: e.combinedInputsAt(i)})
			directives = append(directives, Directive{Kind: Save, Frame: i, Store: e.store})
		}
	}

	// Step 5: normal advance.
	if mayAdvance {
		newFrame := e.ts.LocalFrame() + 1
		e.ts.SetLocalFrame(newFrame)

		gi := input.New(newFrame, e.cfg.InputSizePerPlayer, e.local.PlayerCount)
		if err := gi.SetSlice(0, e.local.PlayerCount, localInput); err != nil {
			return nil, err
		}
		e.local.Queue.AddInput(newFrame, gi)

		e.broadcastLocalInput()

		directives = append(directives, Directive{Kind: Advance, Frame: newFrame, Inputs: e.combinedInputsAt(newFrame)})
		directives = append(directives, Directive{Kind: Save, Frame: newFrame, Store: e.store})

		if newFrame == InitialFrame {
			e.initialSaveEmitted = true
		}
	}

	return directives, nil
}

// IngestRemoteInput applies an inbound InputBatch from a remote device to
// that device's queue, and returns the acks to send back. Per the "Idempotent
// replay" scenario in spec.md §8, a frame is only acked the first time it is
// newer than the device's previously known remote_frame — the trailing
// redundancy window spec.md §4.4 mandates resends already-acked frames on
// every outgoing batch, and those resends must produce zero new acks, not a
// fresh one apiece.
func (e *Engine) IngestRemoteInput(from *device.Device, batch protocol.InputBatch) ([]protocol.InputAck, error) {
	if from.Role != device.Remote {
		return nil, fmt.Errorf("engine: ingest target device %d: %w", from.ID, ErrWrongDeviceRole)
	}

	frameSize := from.PlayerCount * e.cfg.InputSizePerPlayer
	if frameSize == 0 {
		return nil, nil
	}

	frameCount := int(batch.EndFrame-batch.StartFrame) + 1
	if frameCount <= 0 || len(batch.Payload) != frameCount*frameSize {
		return nil, nil // malformed batch: discard silently (spec.md §7)
	}

	var acks []protocol.InputAck

	for i := 0; i < frameCount; i++ {
		frame := int64(batch.StartFrame) + int64(i)
		chunk := batch.Payload[i*frameSize : (i+1)*frameSize]

		isNew := frame > from.RemoteFrame()

		from.SetRemoteFrame(frame, e.ts.LocalFrame())

		gi := input.New(frame, e.cfg.InputSizePerPlayer, from.PlayerCount)
		_ = gi.SetSlice(0, from.PlayerCount, chunk)
		from.Queue.AddInput(frame, gi)

		if isNew {
			acks = append(acks, protocol.InputAck{Frame: uint32(frame)})
		}
	}

	return acks, nil
}
