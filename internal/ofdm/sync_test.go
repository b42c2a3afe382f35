package ofdm

import (
	"math"
	"math/rand"
	"testing"
)

func embedFrame(frame []complex64, lead, trail int) []complex64 {
	out := make([]complex64, lead+len(frame)+trail)
	copy(out[lead:], frame)
	return out
}

func TestSearchFindsFrame(t *testing.T) {
	p := testParams()
	frame, _ := encodeTestFrame(t, p, 21)
	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, lead := range []int{0, 37, 500} {
		window := embedFrame(frame, lead, 200)
		found, off := sync.Search(window)
		if !found {
			t.Fatalf("lead %d: header not found, peak %g", lead, sync.LastPeak())
		}
		if off != lead {
			t.Errorf("lead %d: offset %d", lead, off)
		}
		if sync.Status() != StatusConnected {
			t.Errorf("lead %d: status %v after detection", lead, sync.Status())
		}
	}
}

func TestSearchPicksEarliestHeader(t *testing.T) {
	// A transmit buffer tiles one frame, so the search window usually holds
	// several bit-identical headers. The earliest must win; an argmax over
	// equal peaks is decided by rounding noise and drops the leading frames.
	p := testParams()
	frame, _ := encodeTestFrame(t, p, 31)
	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}

	for _, lead := range []int{0, 300} {
		window := make([]complex64, lead, lead+3*len(frame))
		window = append(window, frame...)
		window = append(window, frame...)
		window = append(window, frame...)
		found, off := sync.Search(window)
		if !found {
			t.Fatalf("lead %d: header not found, peak %g", lead, sync.LastPeak())
		}
		if off != lead {
			t.Errorf("lead %d: offset %d, want the first header", lead, off)
		}
	}
}

func TestSearchRejectsNoise(t *testing.T) {
	p := testParams()
	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))
	window := make([]complex64, 2*p.FrameLength())
	for i := range window {
		window[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
	}
	if found, _ := sync.Search(window); found {
		t.Errorf("false detection on noise, peak %g", sync.LastPeak())
	}
	if sync.Status() != StatusSearching {
		t.Errorf("status %v on noise", sync.Status())
	}
}

func TestSearchRejectsCorruptedHeader(t *testing.T) {
	p := testParams()
	frame, _ := encodeTestFrame(t, p, 23)
	corrupted := make([]complex64, len(frame))
	copy(corrupted, frame)
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < p.SymbolLength(); i++ {
		corrupted[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
	}
	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}
	if found, _ := sync.Search(embedFrame(corrupted, 100, 100)); found {
		t.Errorf("detected corrupted header, peak %g", sync.LastPeak())
	}
}

func TestSearchEstimatesCFO(t *testing.T) {
	p := testParams()
	frame, _ := encodeTestFrame(t, p, 25)
	const cfo = 500.0
	rotated, _ := Derotate(frame, -cfo, p.SampleRate, 0)

	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}
	found, _ := sync.Search(embedFrame(rotated, 0, 100))
	if !found {
		t.Fatalf("header not found under %g Hz offset", cfo)
	}
	if got := sync.CFOHz(); math.Abs(got-cfo) > 1 {
		t.Errorf("CFO estimate %g Hz, want %g", got, cfo)
	}
}

func TestTrackHoldsAndLosesLock(t *testing.T) {
	p := testParams()
	frame, _ := encodeTestFrame(t, p, 27)
	sync, err := NewSynchronizer(p)
	if err != nil {
		t.Fatal(err)
	}
	if found, _ := sync.Search(embedFrame(frame, 50, 50)); !found {
		t.Fatal("initial detection failed")
	}

	// A drifted frame within the track span refines the offset.
	window := embedFrame(frame, 60, 50)
	off, ok := sync.Track(window, 55, p.CyclicPrefix)
	if !ok || off != 60 {
		t.Fatalf("Track = (%d, %v), want (60, true)", off, ok)
	}
	if sync.Drift() != 5 {
		t.Errorf("drift %d, want 5", sync.Drift())
	}

	// Consecutive empty windows demote the lock back to searching.
	empty := make([]complex64, len(window))
	for i := 0; i < maxTrackMisses; i++ {
		if sync.Status() != StatusConnected {
			t.Fatalf("lock lost after %d misses, want %d", i, maxTrackMisses)
		}
		if _, ok := sync.Track(empty, 55, p.CyclicPrefix); ok {
			t.Fatal("tracked an empty window")
		}
	}
	if sync.Status() != StatusSearching {
		t.Errorf("status %v after %d misses", sync.Status(), maxTrackMisses)
	}
}
