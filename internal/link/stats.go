// Package link tracks the quality statistics of a sounding run: cumulative
// and recent bit error rate and frame error rate over the compared transport
// blocks.
package link

import "sync"

// SentinelBER is reported while no synchronized comparison exists. A random
// uncorrelated bit stream has this error rate, so the sentinel reads as
// "no better than chance".
const SentinelBER = 0.5

// recentBlocks is the window length of the RecentBER figure.
const recentBlocks = 2

type blockResult struct {
	errs int
	bits int
}

// Stats accumulates link quality counters. Safe for concurrent use; the
// receiver updates it while reporters read snapshots.
type Stats struct {
	mu        sync.Mutex
	connected bool

	bitErrors   uint64
	bitsTotal   uint64
	frameErrors uint64
	framesTotal uint64

	recent []blockResult
}

// NewStats returns zeroed counters in the unconnected state.
func NewStats() *Stats { return &Stats{} }

// SetConnected records whether the receiver currently has frame lock. The
// flag is independent of the error-rate figures: counters accumulated while
// locked survive a later loss of lock.
func (s *Stats) SetConnected(c bool) {
	s.mu.Lock()
	s.connected = c
	s.mu.Unlock()
}

// Connected reports the last recorded lock state.
func (s *Stats) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// RecordBlock adds one compared transport block: the number of bit errors,
// the number of bits compared, and whether the block as a whole was good.
func (s *Stats) RecordBlock(bitErrs, bitCount int, frameOK bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitErrors += uint64(bitErrs)
	s.bitsTotal += uint64(bitCount)
	s.framesTotal++
	if !frameOK {
		s.frameErrors++
	}
	s.recent = append(s.recent, blockResult{errs: bitErrs, bits: bitCount})
	if len(s.recent) > recentBlocks {
		s.recent = s.recent[len(s.recent)-recentBlocks:]
	}
}

// BER is the cumulative bit error rate over every compared block, or the
// sentinel before any block was compared.
func (s *Stats) BER() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bitsTotal == 0 {
		return SentinelBER
	}
	return float64(s.bitErrors) / float64(s.bitsTotal)
}

// RecentBER is the bit error rate over the trailing comparison window, with
// the same sentinel behavior as BER.
func (s *Stats) RecentBER() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recent) == 0 {
		return SentinelBER
	}
	errs, bits := 0, 0
	for _, b := range s.recent {
		errs += b.errs
		bits += b.bits
	}
	if bits == 0 {
		return SentinelBER
	}
	return float64(errs) / float64(bits)
}

// FER is the cumulative frame error rate, with the same sentinel behavior as
// BER.
func (s *Stats) FER() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framesTotal == 0 {
		return SentinelBER
	}
	return float64(s.frameErrors) / float64(s.framesTotal)
}

// Snapshot is a consistent copy of all counters.
type Snapshot struct {
	Connected      bool    `json:"connected"`
	BER            float64 `json:"ber"`
	RecentBER      float64 `json:"recent_ber"`
	FER            float64 `json:"fer"`
	BitErrors      uint64  `json:"bit_errors"`
	BitsCompared   uint64  `json:"bits_compared"`
	FrameErrors    uint64  `json:"frame_errors"`
	FramesCompared uint64  `json:"frames_compared"`
}

// Snapshot returns all counters captured under one lock.
func (s *Stats) Snapshot() Snapshot {
	ber := s.BER()
	recent := s.RecentBER()
	fer := s.FER()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Connected:      s.connected,
		BER:            ber,
		RecentBER:      recent,
		FER:            fer,
		BitErrors:      s.bitErrors,
		BitsCompared:   s.bitsTotal,
		FrameErrors:    s.frameErrors,
		FramesCompared: s.framesTotal,
	}
}
