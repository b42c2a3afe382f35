package link

import "testing"

func TestSentinelBeforeAnyComparison(t *testing.T) {
	s := NewStats()
	if got := s.BER(); got != SentinelBER {
		t.Errorf("BER = %g before any comparison, want sentinel", got)
	}
	if got := s.RecentBER(); got != SentinelBER {
		t.Errorf("RecentBER = %g before any comparison, want sentinel", got)
	}
	if got := s.FER(); got != SentinelBER {
		t.Errorf("FER = %g before any comparison, want sentinel", got)
	}

	s.SetConnected(true)
	s.RecordBlock(0, 1000, true)
	if got := s.BER(); got != 0 {
		t.Errorf("BER = %g after a clean block, want 0", got)
	}
}

func TestCumulativeRates(t *testing.T) {
	s := NewStats()
	s.SetConnected(true)
	s.RecordBlock(10, 1000, false)
	s.RecordBlock(0, 1000, true)
	s.RecordBlock(0, 1000, true)
	s.RecordBlock(30, 1000, false)

	if got, want := s.BER(), 40.0/4000.0; got != want {
		t.Errorf("BER = %g, want %g", got, want)
	}
	if got, want := s.FER(), 2.0/4.0; got != want {
		t.Errorf("FER = %g, want %g", got, want)
	}

	snap := s.Snapshot()
	if snap.BitErrors != 40 || snap.BitsCompared != 4000 {
		t.Errorf("snapshot bits = %d/%d, want 40/4000", snap.BitErrors, snap.BitsCompared)
	}
	if snap.FrameErrors != 2 || snap.FramesCompared != 4 {
		t.Errorf("snapshot frames = %d/%d, want 2/4", snap.FrameErrors, snap.FramesCompared)
	}
}

func TestRecentBERWindow(t *testing.T) {
	s := NewStats()
	s.SetConnected(true)

	// Early bad blocks age out of the recent window.
	s.RecordBlock(500, 1000, false)
	s.RecordBlock(500, 1000, false)
	s.RecordBlock(0, 1000, true)
	s.RecordBlock(0, 1000, true)

	if got := s.RecentBER(); got != 0 {
		t.Errorf("RecentBER = %g after clean trailing blocks, want 0", got)
	}
	if got := s.BER(); got != 0.25 {
		t.Errorf("BER = %g, want 0.25", got)
	}

	s.RecordBlock(100, 1000, false)
	if got, want := s.RecentBER(), 100.0/2000.0; got != want {
		t.Errorf("RecentBER = %g, want %g", got, want)
	}
}

func TestLossOfLockKeepsMeasurements(t *testing.T) {
	// A lock lost at end of stream must not erase the run's measurements;
	// the sentinel is reserved for runs that never compared anything.
	s := NewStats()
	s.SetConnected(true)
	s.RecordBlock(0, 1000, true)
	s.RecordBlock(0, 1000, true)
	if got := s.BER(); got != 0 {
		t.Fatalf("BER = %g while connected, want 0", got)
	}

	s.SetConnected(false)
	if s.Connected() {
		t.Error("Connected() = true after loss")
	}
	if got := s.BER(); got != 0 {
		t.Errorf("BER = %g after losing lock, want 0", got)
	}
	if got := s.RecentBER(); got != 0 {
		t.Errorf("RecentBER = %g after losing lock, want 0", got)
	}
	if got := s.FER(); got != 0 {
		t.Errorf("FER = %g after losing lock, want 0", got)
	}
}
