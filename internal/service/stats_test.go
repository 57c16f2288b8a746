package service

import "testing"

func TestSnapshotCopiesCounters(t *testing.T) {
	s := &Stats{}
	s.spawned.Add(5)
	s.completed.Add(3)
	s.timeouts.Add(1)
	s.requeued.Add(2)

	sn := s.Snapshot()
	if sn.Spawned != 5 || sn.Completed != 3 || sn.Timeouts != 1 || sn.Requeued != 2 {
		t.Errorf("unexpected snapshot %+v", sn)
	}

	// Mutations after the snapshot must not leak into it.
	s.spawned.Add(1)
	if sn.Spawned != 5 {
		t.Error("snapshot is not a copy")
	}
}

func TestContextEfficiency(t *testing.T) {
	sn := StatsSnapshot{BytesExternalized: 750, BytesTotal: 1000}
	if got := sn.ContextEfficiency(); got != 0.75 {
		t.Errorf("efficiency = %v, want 0.75", got)
	}

	empty := StatsSnapshot{}
	if got := empty.ContextEfficiency(); got != 0 {
		t.Errorf("efficiency with no context = %v, want 0", got)
	}
}
