package ofdm

import (
	"math"
	"math/cmplx"
)

// Synchronizer detection tuning. The detect threshold gates the transition
// out of Searching; once connected, the correlation peak only has to clear
// the lower hold threshold, and the lock survives a bounded number of
// consecutive misses before falling back to Searching.
const (
	detectThreshold = 0.5
	holdThreshold   = 0.2
	maxTrackMisses  = 3
	cfoSmoothing    = 0.5
)

// SyncStatus is the synchronizer lock state.
type SyncStatus int

const (
	StatusSearching SyncStatus = iota
	StatusConnected
)

func (s SyncStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	default:
		return "searching"
	}
}

// Synchronizer locates frame boundaries in a continuous sample stream by
// correlating against the known header waveform. It is stateful across
// calls; construct a fresh instance to reset it.
type Synchronizer struct {
	p            Params
	header       []complex128
	headerEnergy float64

	status SyncStatus
	misses int
	cfoHz  float64
	peak   float64
	drift  int
}

// NewSynchronizer builds a synchronizer for the given geometry.
func NewSynchronizer(p Params) (*Synchronizer, error) {
	enc, err := NewEncoder(p)
	if err != nil {
		return nil, err
	}
	h := enc.HeaderWaveform()
	energy := 0.0
	for _, v := range h {
		energy += real(v)*real(v) + imag(v)*imag(v)
	}
	return &Synchronizer{p: p, header: h, headerEnergy: energy}, nil
}

// Status returns the current lock state.
func (s *Synchronizer) Status() SyncStatus { return s.status }

// CFOHz returns the current carrier-frequency-offset estimate in Hz.
func (s *Synchronizer) CFOHz() float64 { return s.cfoHz }

// LastPeak returns the last normalized correlation peak in [0, 1].
func (s *Synchronizer) LastPeak() float64 { return s.peak }

// Drift returns the cumulative sample-timing drift observed while connected.
func (s *Synchronizer) Drift() int { return s.drift }

// Search scans the whole window for a frame header. On success the
// synchronizer transitions to Connected and returns the header start offset
// within the window.
func (s *Synchronizer) Search(window []complex64) (bool, int) {
	best, bestOff := s.scan(window, 0, len(window)-len(s.header), detectThreshold)
	s.peak = best
	if best < detectThreshold {
		return false, 0
	}
	s.status = StatusConnected
	s.misses = 0
	s.drift = 0
	if s.p.EnableCFO {
		s.cfoHz = s.measureCFO(window, bestOff)
	}
	return true, bestOff
}

// Track refines the predicted header position of the next frame with a local
// correlation search of +-span samples. While the peak stays above the hold
// threshold the lock persists; after maxTrackMisses consecutive misses the
// synchronizer falls back to Searching and Track reports the loss.
func (s *Synchronizer) Track(window []complex64, expected, span int) (int, bool) {
	lo := expected - span
	if lo < 0 {
		lo = 0
	}
	hi := expected + span
	if max := len(window) - len(s.header); hi > max {
		hi = max
	}
	if hi < lo {
		hi = lo
	}
	best, bestOff := s.scan(window, lo, hi, 0)
	s.peak = best
	if best < holdThreshold {
		s.misses++
		if s.misses >= maxTrackMisses {
			s.status = StatusSearching
		}
		return expected, false
	}
	s.misses = 0
	s.drift += bestOff - expected
	if s.p.EnableCFO {
		// Windows arrive uncorrected, so each measurement is the total
		// offset; smooth toward it.
		s.cfoHz += cfoSmoothing * (s.measureCFO(window, bestOff) - s.cfoHz)
	}
	return bestOff, true
}

// scan computes the normalized cross-correlation metric over [lo, hi] and
// returns the best metric and its offset. A positive accept threshold stops
// the scan at the first offset that clears it: a stream of repeated frames
// holds many bit-identical headers, and the argmax over them is decided by
// rounding noise in the sliding energy, so acceptance must resolve to the
// earliest header rather than the numerically luckiest one.
func (s *Synchronizer) scan(window []complex64, lo, hi int, accept float64) (float64, int) {
	if hi < lo || lo < 0 || len(window) < len(s.header) {
		return 0, 0
	}
	n := len(s.header)
	bestMetric := 0.0
	bestOff := lo

	// Sliding window energy.
	winEnergy := 0.0
	for m := 0; m < n; m++ {
		v := window[lo+m]
		winEnergy += float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
	}

	for d := lo; d <= hi; d++ {
		var corr complex128
		for m := 0; m < n; m++ {
			corr += cmplx.Conj(s.header[m]) * complex128(window[d+m])
		}
		denom := s.headerEnergy * winEnergy
		if denom > 0 {
			metric := (real(corr)*real(corr) + imag(corr)*imag(corr)) / denom
			if accept > 0 && metric >= accept {
				return metric, d
			}
			if metric > bestMetric {
				bestMetric = metric
				bestOff = d
			}
		}
		if d+n < len(window) {
			out := window[d]
			in := window[d+n]
			winEnergy -= float64(real(out))*float64(real(out)) + float64(imag(out))*float64(imag(out))
			winEnergy += float64(real(in))*float64(real(in)) + float64(imag(in))*float64(imag(in))
		}
	}
	return bestMetric, bestOff
}

// measureCFO estimates the frequency offset from the phase rotation between
// the two identical halves of the header symbol located at off.
func (s *Synchronizer) measureCFO(window []complex64, off int) float64 {
	half := s.p.FFTLength / 2
	start := off + s.p.CyclicPrefix
	if start+s.p.FFTLength > len(window) {
		return 0
	}
	var p complex128
	for m := 0; m < half; m++ {
		a := complex128(window[start+m])
		b := complex128(window[start+half+m])
		p += cmplx.Conj(a) * b
	}
	if p == 0 {
		return 0
	}
	angle := math.Atan2(imag(p), real(p))
	return angle / (2 * math.Pi) * s.p.SampleRate / float64(half)
}
