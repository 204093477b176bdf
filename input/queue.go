package input

// DefaultSlack is the extra ring headroom kept on top of
// MaxRollbackFrames+FrameDelay, so that a queue never has to grow at
// runtime even when writes/reads race slightly ahead of each other within
// one tick.
const DefaultSlack = 8

// prediction is the record kept when a frame's confirmed input was missing
// at GetInput time.
type prediction struct {
	frame int64
	bytes []byte
}

// Queue holds, for one device, the confirmed inputs received so far and the
// predictions synthesized on demand for frames not yet confirmed.
//
// Both streams live in ring buffers of capacity entries, indexed by
// frame mod capacity. Slots older than the current tail are considered
// empty (frame sentinel NoFrame) — the queue never grows past capacity.
type Queue struct {
	sizePerPlayer int
	playerCount   int
	frameDelay    int64
	capacity      int

	confirmed   []GameInput
	predictions []prediction

	lastConfirmed GameInput // most recent confirmed input, used to seed predictions
	haveLast      bool
}

// NewQueue creates a queue for a device that buffers up to maxRollbackFrames
// of rollback depth, frameDelay frames of local input delay (0 for remote
// queues), for a player shape of sizePerPlayer*playerCount bytes.
func NewQueue(maxRollbackFrames int, frameDelay int64, sizePerPlayer, playerCount int) *Queue {
	capacity := maxRollbackFrames + int(frameDelay) + DefaultSlack
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue{
		sizePerPlayer: sizePerPlayer,
		playerCount:   playerCount,
		frameDelay:    frameDelay,
		capacity:      capacity,
		confirmed:     make([]GameInput, capacity),
		predictions:   make([]prediction, capacity),
	}

	for i := range q.confirmed {
		q.confirmed[i] = nilInput(sizePerPlayer, playerCount)
		q.predictions[i] = prediction{frame: NoFrame}
	}

	return q
}

// FrameDelay returns the queue's configured delay.
func (q *Queue) FrameDelay() int64 {
	return q.frameDelay
}

func (q *Queue) slot(frame int64) int {
	idx := frame % int64(q.capacity)
	if idx < 0 {
		idx += int64(q.capacity)
	}
	return int(idx)
}

// AddInput stores input as the confirmed input at frame f. For queues with a
// non-zero frame delay the value becomes visible at f+delay. Writing the
// same bytes twice at the same frame is idempotent; writing different bytes
// at a frame that was already confirmed is a caller bug and is ignored here
// — the Sync Engine is responsible for never doing that (spec §3 invariant:
// confirmed input, once written, is never overwritten by a different
// value).
func (q *Queue) AddInput(f int64, gi GameInput) {
	target := f + q.frameDelay
	slot := q.slot(target)

	existing := q.confirmed[slot]
	if existing.Frame == target && !existing.IsNil() {
		return
	}

	stored := gi
	stored.Frame = target
	q.confirmed[slot] = stored

	if !q.haveLast || target >= q.lastConfirmed.Frame {
		q.lastConfirmed = stored
		q.haveLast = true
	}
}

// GetInput returns the confirmed input at frame f if present; otherwise it
// synthesizes a predicted input equal to the last known confirmed input (or
// a zero-filled input if none exists yet), records the prediction, and
// returns it. Reads past the end never fail.
func (q *Queue) GetInput(f int64) GameInput {
	return q.getInput(f, true)
}

// PeekInput is GetInput without the recording side effect, used by the
// engine when it only needs to read a value without creating a new
// prediction record (e.g. building the redundancy window for broadcast).
func (q *Queue) PeekInput(f int64) GameInput {
	return q.getInput(f, false)
}

func (q *Queue) getInput(f int64, recordPrediction bool) GameInput {
	slot := q.slot(f)
	existing := q.confirmed[slot]

	if existing.Frame == f && !existing.IsNil() {
		return existing
	}

	var predicted GameInput
	if q.haveLast {
		predicted = q.lastConfirmed
	} else {
		predicted = nilInput(q.sizePerPlayer, q.playerCount)
	}
	predicted.Frame = f

	if recordPrediction {
		q.predictions[slot] = prediction{frame: f, bytes: append([]byte(nil), predicted.Bytes...)}
	}

	return predicted
}

// GetPredictedInput returns the prediction record made for frame f, with
// Frame == NoFrame if none was made (or it was since reset).
func (q *Queue) GetPredictedInput(f int64) GameInput {
	slot := q.slot(f)
	p := q.predictions[slot]

	if p.frame != f {
		return GameInput{Frame: NoFrame}
	}

	return GameInput{
		Frame:         p.frame,
		SizePerPlayer: q.sizePerPlayer,
		PlayerCount:   q.playerCount,
		Bytes:         p.bytes,
	}
}

// ResetPrediction clears the prediction record at frame f. Idempotent.
func (q *Queue) ResetPrediction(f int64) {
	slot := q.slot(f)
	if q.predictions[slot].frame == f {
		q.predictions[slot] = prediction{frame: NoFrame}
	}
}

// HasConfirmed reports whether a confirmed input exists at frame f.
func (q *Queue) HasConfirmed(f int64) bool {
	slot := q.slot(f)
	existing := q.confirmed[slot]
	return existing.Frame == f && !existing.IsNil()
}
