package timesync

import "testing"

type fakeRemote struct {
	remoteFrame     int64
	remoteAdvantage int64
}

func (f fakeRemote) RemoteFrame() int64     { return f.remoteFrame }
func (f fakeRemote) RemoteAdvantage() int64 { return f.remoteAdvantage }

func TestIsTimeSyncedNoDevices(t *testing.T) {
	s := New(DefaultConfig())
	if !s.IsTimeSynced(nil) {
		t.Fatal("with no remote devices, should always advance")
	}
}

func TestIsTimeSyncedAdvancesWhenClose(t *testing.T) {
	s := New(DefaultConfig())
	s.SetLocalFrame(10)

	devices := []RemoteView{fakeRemote{remoteFrame: 9, remoteAdvantage: 1}}
	if !s.IsTimeSynced(devices) {
		t.Fatal("small advantage should not stall")
	}
}

func TestIsTimeSyncedStallsWhenFarAhead(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg)
	s.SetLocalFrame(20)

	// local_advantage = 20 - 10 = 10 >= MinFrameAdvantage(3).
	// remote_advantage_used = 0, so local_advantage - remote = 10 >= 2.
	devices := []RemoteView{fakeRemote{remoteFrame: 10, remoteAdvantage: 0}}

	if s.IsTimeSynced(devices) {
		t.Fatal("expected a stall")
	}
}

func TestIsTimeSyncedNotStalledWhenRemoteAlsoAhead(t *testing.T) {
	s := New(DefaultConfig())
	s.SetLocalFrame(20)

	// Remote peer is nearly as far ahead, so the difference is small.
	devices := []RemoteView{fakeRemote{remoteFrame: 10, remoteAdvantage: 9}}

	if !s.IsTimeSynced(devices) {
		t.Fatal("expected no stall: remote is keeping pace")
	}
}

func TestRemoteFrameIsMinimum(t *testing.T) {
	devices := []RemoteView{
		fakeRemote{remoteFrame: 5},
		fakeRemote{remoteFrame: 2},
		fakeRemote{remoteFrame: 9},
	}

	if got := RemoteFrame(devices); got != 2 {
		t.Fatalf("RemoteFrame = %d, want 2", got)
	}
}

func TestRemoteAdvantageUsedIsMaximum(t *testing.T) {
	devices := []RemoteView{
		fakeRemote{remoteAdvantage: 5},
		fakeRemote{remoteAdvantage: 11},
		fakeRemote{remoteAdvantage: 3},
	}

	if got := RemoteAdvantageUsed(devices); got != 11 {
		t.Fatalf("RemoteAdvantageUsed = %d, want 11", got)
	}
}

func TestShouldRollback(t *testing.T) {
	s := New(DefaultConfig())
	s.SetLocalFrame(10)
	s.SetSyncFrame(10)

	if s.ShouldRollback() {
		t.Fatal("sync_frame == local_frame: no rollback needed")
	}

	s.SetSyncFrame(7)
	if !s.ShouldRollback() {
		t.Fatal("sync_frame < local_frame: rollback needed")
	}
}

func TestInitialState(t *testing.T) {
	s := New(DefaultConfig())
	if s.LocalFrame() != -1 {
		t.Fatalf("LocalFrame() = %d, want -1", s.LocalFrame())
	}
	if s.SyncFrame() != -1 {
		t.Fatalf("SyncFrame() = %d, want -1", s.SyncFrame())
	}
}
