package metrics

import "testing"

func TestStatsSnapshot(t *testing.T) {
	s := &Stats{}
	s.SetConnected(true)
	s.IncDropped()
	s.IncDropped()
	s.IncFanoutErrors()
	s.SetQueueSize(42)
	s.IncActiveConnections()
	s.IncActiveConnections()
	s.DecActiveConnections()
	s.IncTimeouts()
	s.IncParseErrors()
	s.IncMongoErrors()
	s.IncBatchesFlushed()

	snap := s.Snapshot()
	if !snap.Connected {
		t.Error("expected connected")
	}
	if snap.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", snap.Dropped)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("active_connections = %d, want 1", snap.ActiveConnections)
	}
	if snap.LastMessage != nil {
		t.Error("expected no last_message before TouchLastMessage")
	}
}
