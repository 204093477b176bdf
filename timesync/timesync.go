// Package timesync tracks the local and remote frame counters for a
// session, computes each peer's "advantage", and decides when the local
// simulation should stall (to let a faster peer catch up) or roll back
// (because a prediction has since proven wrong).
package timesync

// Config holds the tunable thresholds behind IsTimeSynced. Exposed as
// fields rather than compiled-in constants per spec.md §9's open question 3
// ("implementers should expose them as configuration").
type Config struct {
	// MaxRollbackFrames is the rollback window reported by
	// State.MaxRollbackFrames. IsTimeSynced does not consult it, so it does
	// not stop local_frame from running further ahead of sync_frame.
	MaxRollbackFrames int64

	// MinFrameAdvantage is the minimum local_advantage before a stall is
	// even considered.
	MinFrameAdvantage int64

	// FrameAdvantageDifference is how far local_advantage must exceed the
	// best remote advantage before a stall is triggered.
	FrameAdvantageDifference int64
}

// DefaultConfig returns the typical thresholds called out in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxRollbackFrames:        8,
		MinFrameAdvantage:        3,
		FrameAdvantageDifference: 2,
	}
}

// RemoteView is the subset of device state the time synchronizer needs
// from each remote device to make its decisions. Implemented by
// *device.Device; kept as a small interface here so timesync never imports
// device (it would be the only consumer-side dependency the core has).
type RemoteView interface {
	RemoteFrame() int64
	RemoteAdvantage() int64
}

// State is the per-session time-synchronization state of spec.md §3.
type State struct {
	cfg Config

	localFrame int64
	syncFrame  int64
}

// New creates a State with local_frame and sync_frame both at NoFrame (-1).
func New(cfg Config) *State {
	return &State{
		cfg:        cfg,
		localFrame: -1,
		syncFrame:  -1,
	}
}

// LocalFrame returns the most recently simulated local frame.
func (s *State) LocalFrame() int64 { return s.localFrame }

// SyncFrame returns the highest frame at or before which all state is
// authoritative.
func (s *State) SyncFrame() int64 { return s.syncFrame }

// SetLocalFrame updates local_frame. Called by the engine after it advances
// the simulation by one frame, or after a rollback replay catches back up.
func (s *State) SetLocalFrame(f int64) { s.localFrame = f }

// SetSyncFrame updates sync_frame. Called by the engine after its
// prediction-verification sweep.
func (s *State) SetSyncFrame(f int64) { s.syncFrame = f }

// RemoteFrame returns min over remote devices of their last acknowledged
// frame. Returns NoFrame (-1) if devices is empty.
func RemoteFrame(devices []RemoteView) int64 {
	if len(devices) == 0 {
		return -1
	}

	min := devices[0].RemoteFrame()
	for _, d := range devices[1:] {
		if f := d.RemoteFrame(); f < min {
			min = f
		}
	}

	return min
}

// RemoteAdvantageUsed returns max over remote devices of device.remote_advantage.
func RemoteAdvantageUsed(devices []RemoteView) int64 {
	var max int64
	for i, d := range devices {
		a := d.RemoteAdvantage()
		if i == 0 || a > max {
			max = a
		}
	}

	return max
}

// LocalAdvantage returns local_frame - remote_frame.
func (s *State) LocalAdvantage(devices []RemoteView) int64 {
	return s.localFrame - RemoteFrame(devices)
}

// IsTimeSynced returns true when the local peer should advance its local
// frame this tick, and false when it should stall one frame to let a
// faster remote peer catch up.
//
// Stall condition (spec.md §4.3): "local_advantage >= remote_advantage +
// threshold AND local_advantage >= min_frame_advantage AND local_advantage -
// remote_advantage >= frame_advantage_difference". The first and third
// clauses are algebraically identical (local_advantage - remote_advantage >=
// threshold), so threshold and frame_advantage_difference are the same
// configuration knob here; the check below is the minimal equivalent
// two-part test.
func (s *State) IsTimeSynced(devices []RemoteView) bool {
	if len(devices) == 0 {
		return true
	}

	localAdvantage := s.LocalAdvantage(devices)
	remoteAdvantage := RemoteAdvantageUsed(devices)

	if localAdvantage >= s.cfg.MinFrameAdvantage &&
		localAdvantage-remoteAdvantage >= s.cfg.FrameAdvantageDifference {
		return false
	}

	return true
}

// ShouldRollback returns true iff sync_frame < local_frame. This is only the
// first half of spec.md §4.3's should_rollback condition — the engine layers
// the second half ("there is at least one frame ... for which every device
// has a resolvable authoritative input") on top, since that requires
// consulting the input queues and the current tick's prediction-verification
// outcome, neither of which this package has access to.
func (s *State) ShouldRollback() bool {
	return s.syncFrame < s.localFrame
}

// MaxRollbackFrames returns the configured rollback window.
func (s *State) MaxRollbackFrames() int64 {
	return s.cfg.MaxRollbackFrames
}
