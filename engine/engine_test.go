package engine

import (
	"math/rand"
	"testing"

	"github.com/foxglove-games/rollsync/device"
	"github.com/foxglove-games/rollsync/protocol"
	"github.com/foxglove-games/rollsync/statestore"
)

const inputSize = 1 // one byte per player, enough for these tests

func newFixture(t *testing.T, maxRollback int, frameDelay int64) (*Engine, *device.Device, *device.Device) {
	t.Helper()
	return newFixtureWithConfig(t, DefaultConfig(inputSize), maxRollback, frameDelay)
}

func newFixtureWithConfig(t *testing.T, cfg Config, maxRollback int, frameDelay int64) (*Engine, *device.Device, *device.Device) {
	t.Helper()

	local := device.NewLocal(0, 1, frameDelay, maxRollback, inputSize, nil)
	remote := device.NewRemote(1, 1, maxRollback, inputSize, nil, rand.New(rand.NewSource(1)))
	remote.MarkSynced(remote.Nonce())
	remote.MarkRunning()

	e := New(cfg, statestore.New(maxRollback), local, []*device.Device{remote})

	return e, local, remote
}

func TestSingleDeviceLockStepNoRemotes(t *testing.T) {
	// No remote devices at all: IsTimeSynced treats an empty device list
	// as "always advance" (there is no advantage to compute against).
	e := New(DefaultConfig(inputSize), statestore.New(8), device.NewLocal(0, 1, 0, 8, inputSize, nil), nil)

	for f := int64(1); f <= 5; f++ {
		directives, err := e.Advance([]byte{0x00})
		if err != nil {
			t.Fatalf("Advance(%d): %v", f, err)
		}
		if f == 1 {
			// The first call also carries the initial-frame checkpoint.
			if len(directives) != 3 || directives[0].Kind != Save || directives[0].Frame != InitialFrame {
				t.Fatalf("frame 1: got %+v, want Save(0) before advance+save", directives)
			}
			directives = directives[1:]
		}
		if len(directives) != 2 {
			t.Fatalf("frame %d: got %d directives, want 2 (advance+save)", f, len(directives))
		}
		if directives[0].Kind != Advance || directives[0].Frame != f {
			t.Fatalf("frame %d: directive[0] = %+v", f, directives[0])
		}
		if directives[1].Kind != Save || directives[1].Frame != f {
			t.Fatalf("frame %d: directive[1] = %+v", f, directives[1])
		}
	}
}

func TestFirstAdvanceEmitsInitialCheckpoint(t *testing.T) {
	e, _, remote := newFixture(t, 8, 0)

	// Remote has confirmed frame 0 already (simulating a synchronous
	// loopback where both peers submit the same input every tick).
	remote.SetRemoteFrame(0, 0)

	directives, err := e.Advance([]byte{0x00})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if len(directives) != 3 {
		t.Fatalf("got %d directives, want 3 (initial save, advance, save): %+v", len(directives), directives)
	}
	if directives[0].Kind != Save || directives[0].Frame != 0 {
		t.Fatalf("directive[0] = %+v, want Save(0)", directives[0])
	}
	if directives[1].Kind != Advance || directives[1].Frame != 1 {
		t.Fatalf("directive[1] = %+v, want Advance(1)", directives[1])
	}
	if directives[2].Kind != Save || directives[2].Frame != 1 {
		t.Fatalf("directive[2] = %+v, want Save(1)", directives[2])
	}

	// A subsequent call must never re-emit the initial checkpoint.
	remote.SetRemoteFrame(1, 1)
	directives, err = e.Advance([]byte{0x00})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	for _, d := range directives {
		if d.Kind == Save && d.Frame == 0 {
			t.Fatalf("initial checkpoint re-emitted: %+v", directives)
		}
	}
}

func TestRollbackOnMispredictedRemoteInput(t *testing.T) {
	// This test isolates the rollback/replay mechanism from the stall
	// mechanism (covered separately by TestAdvantageStallDoesNotAdvanceLocalFrame):
	// a remote that has confirmed nothing beyond frame 0 drives
	// local_advantage well past DefaultConfig's MinFrameAdvantage before
	// the 8-tick speculative window closes, which would otherwise stall
	// local_frame at 3 for reasons unrelated to what's under test here.
	cfg := DefaultConfig(inputSize)
	cfg.TimeSync.MinFrameAdvantage = 1000
	cfg.TimeSync.FrameAdvantageDifference = 1000

	e, _, remote := newFixtureWithConfig(t, cfg, 8, 0)
	remote.SetRemoteFrame(0, 0)

	// Advance eight local frames with no remote confirmation beyond frame
	// 0: the remote queue predicts zero-filled input for frames 1..8.
	for f := int64(1); f <= 8; f++ {
		if _, err := e.Advance([]byte{0x00}); err != nil {
			t.Fatalf("Advance(%d): %v", f, err)
		}
	}

	if got := e.TimeSync().SyncFrame(); got != 0 {
		t.Fatalf("sync_frame = %d, want 0 (remote_frame never advanced past 0)", got)
	}

	// Now the remote's actual input for frames 1..8 arrives, and frame 1
	// disagrees with what was predicted (0x00).
	payload := make([]byte, 8)
	payload[0] = 0x01
	acks, err := e.IngestRemoteInput(remote, protocol.InputBatch{StartFrame: 1, EndFrame: 8, Payload: payload})
	if err != nil {
		t.Fatalf("IngestRemoteInput: %v", err)
	}
	if len(acks) != 8 {
		t.Fatalf("len(acks) = %d, want 8", len(acks))
	}

	directives, err := e.Advance([]byte{0x00})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if len(directives) == 0 || directives[0].Kind != Load || directives[0].Frame != 0 {
		t.Fatalf("directives[0] = %v, want Load(0): %+v", directives, directives)
	}

	// Load(0), then Advance/Save pairs for frames 1..8 (the replay), plus
	// the normal-advance Advance/Save for the new frame 9.
	wantPairs := 8 + 1
	if (len(directives)-1)/2 != wantPairs {
		t.Fatalf("got %d directives after Load, want %d advance/save pairs: %+v", len(directives)-1, wantPairs, directives)
	}

	for i := 0; i < wantPairs; i++ {
		adv := directives[1+i*2]
		save := directives[2+i*2]
		wantFrame := int64(1 + i)
		if adv.Kind != Advance || adv.Frame != wantFrame {
			t.Fatalf("pair %d: got %+v, want Advance(%d)", i, adv, wantFrame)
		}
		if save.Kind != Save || save.Frame != wantFrame {
			t.Fatalf("pair %d: got %+v, want Save(%d)", i, save, wantFrame)
		}
	}
}

func TestAdvantageStallDoesNotAdvanceLocalFrame(t *testing.T) {
	e, _, _ := newFixture(t, 20, 0)

	// Remote never confirms anything: remote_frame stays -1, so local
	// advantage grows without bound as local_frame increases, eventually
	// stalling per timesync.IsTimeSynced.
	stalled := false
	for i := 0; i < 20; i++ {
		before := e.TimeSync().LocalFrame()
		if _, err := e.Advance([]byte{0x00}); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if e.TimeSync().LocalFrame() == before {
			stalled = true
			break
		}
	}

	if !stalled {
		t.Fatal("expected local_frame to stop advancing once advantage exceeded the configured threshold")
	}
}

func TestIngestRemoteInputRejectsLocalDevice(t *testing.T) {
	e, local, _ := newFixture(t, 8, 0)

	_, err := e.IngestRemoteInput(local, protocol.InputBatch{StartFrame: 1, EndFrame: 1, Payload: []byte{0x00}})
	if err == nil {
		t.Fatal("expected error ingesting a batch addressed to the local device")
	}
}

func TestIngestRemoteInputIsIdempotent(t *testing.T) {
	e, _, remote := newFixture(t, 8, 0)

	batch := protocol.InputBatch{StartFrame: 1, EndFrame: 1, Payload: []byte{0x07}}

	firstAcks, err := e.IngestRemoteInput(remote, batch)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if len(firstAcks) != 1 || firstAcks[0].Frame != 1 {
		t.Fatalf("first ingest acks = %+v, want [{Frame:1}]", firstAcks)
	}
	before := remote.Queue.PeekInput(1)

	// Per spec.md §8's "Idempotent replay" scenario: delivering the same
	// batch twice in a row produces zero state changes and no acks
	// re-emitted beyond the first.
	secondAcks, err := e.IngestRemoteInput(remote, batch)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(secondAcks) != 0 {
		t.Fatalf("second ingest acks = %+v, want none", secondAcks)
	}
	after := remote.Queue.PeekInput(1)

	if !before.Equal(after, true) {
		t.Fatalf("re-ingesting the same batch changed stored input: before=%+v after=%+v", before, after)
	}
}

func TestIngestRemoteInputOnlyAcksNewFramesInRedundancyWindow(t *testing.T) {
	e, _, remote := newFixture(t, 8, 0)

	first := protocol.InputBatch{StartFrame: 1, EndFrame: 4, Payload: make([]byte, 4)}
	acks, err := e.IngestRemoteInput(remote, first)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if len(acks) != 4 {
		t.Fatalf("first ingest acks = %+v, want 4", acks)
	}

	// The trailing redundancy window (spec.md §4.4) resends already-acked
	// frames alongside genuinely new ones every batch; only the new frames
	// should be acked again.
	second := protocol.InputBatch{StartFrame: 1, EndFrame: 6, Payload: make([]byte, 6)}
	acks, err = e.IngestRemoteInput(remote, second)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(acks) != 2 || acks[0].Frame != 5 || acks[1].Frame != 6 {
		t.Fatalf("second ingest acks = %+v, want frames 5 and 6 only", acks)
	}
}
