// Package ofdm implements the sounding frame codec: resource-grid mapping,
// cyclic-prefix OFDM modulation and demodulation, frame synchronization, and
// pilot-based channel estimation and equalization.
package ofdm

import (
	"fmt"
	"math/rand"
)

// Params is the OFDM geometry shared by both ends of the link. All positions
// derived from it (pilot bins, header bins, the header sequence) are
// deterministic functions of the parameter values and the seed.
type Params struct {
	FFTLength       int
	CyclicPrefix    int
	Subcarriers     int
	PilotSpacing    int
	ModulationOrder int
	SymbolsPerFrame int
	SampleRate      float64
	Seed            int64
	EnableCFO       bool
	EnableCPE       bool
}

func (p Params) validate() error {
	if p.FFTLength <= 0 || p.FFTLength&(p.FFTLength-1) != 0 {
		return fmt.Errorf("fft length must be a positive power of two, got %d", p.FFTLength)
	}
	if p.CyclicPrefix <= 0 || p.CyclicPrefix >= p.FFTLength {
		return fmt.Errorf("cyclic prefix %d out of range for fft length %d", p.CyclicPrefix, p.FFTLength)
	}
	if p.Subcarriers <= 0 || p.Subcarriers%2 != 0 || p.Subcarriers >= p.FFTLength {
		return fmt.Errorf("subcarrier count %d invalid for fft length %d", p.Subcarriers, p.FFTLength)
	}
	if p.PilotSpacing <= 1 {
		return fmt.Errorf("pilot spacing must be at least 2, got %d", p.PilotSpacing)
	}
	if p.SymbolsPerFrame <= 0 {
		return fmt.Errorf("symbols per frame must be positive, got %d", p.SymbolsPerFrame)
	}
	switch p.ModulationOrder {
	case 2, 4, 16:
	default:
		return fmt.Errorf("unsupported modulation order %d", p.ModulationOrder)
	}
	return nil
}

// SymbolLength is the time-domain symbol length including the cyclic prefix.
func (p Params) SymbolLength() int { return p.FFTLength + p.CyclicPrefix }

// FrameLength is the frame length in samples: header symbol plus data symbols.
func (p Params) FrameLength() int { return (1 + p.SymbolsPerFrame) * p.SymbolLength() }

// SubcarrierOffset maps an active-subcarrier index (0..Subcarriers-1) to its
// frequency offset in subcarrier units. The band is centered on DC with the
// DC bin itself unused: offsets run -N/2..-1 and 1..N/2.
func (p Params) SubcarrierOffset(i int) int {
	half := p.Subcarriers / 2
	if i < half {
		return i - half
	}
	return i - half + 1
}

// Bin maps an active-subcarrier index to its FFT bin.
func (p Params) Bin(i int) int {
	off := p.SubcarrierOffset(i)
	return (off + p.FFTLength) % p.FFTLength
}

// IsPilot reports whether active-subcarrier index i carries a pilot in data
// symbols.
func (p Params) IsPilot(i int) bool { return i%p.PilotSpacing == 0 }

// PilotIndices returns the active-subcarrier indices of the pilots.
func (p Params) PilotIndices() []int {
	var out []int
	for i := 0; i < p.Subcarriers; i += p.PilotSpacing {
		out = append(out, i)
	}
	return out
}

// DataIndices returns the active-subcarrier indices carrying data.
func (p Params) DataIndices() []int {
	out := make([]int, 0, p.Subcarriers)
	for i := 0; i < p.Subcarriers; i++ {
		if !p.IsPilot(i) {
			out = append(out, i)
		}
	}
	return out
}

// DataSubcarriers is the number of data subcarriers per symbol.
func (p Params) DataSubcarriers() int { return len(p.DataIndices()) }

// BitsPerSymbol is log2 of the data modulation order.
func (p Params) BitsPerSymbol() int {
	switch p.ModulationOrder {
	case 2:
		return 1
	case 4:
		return 2
	case 16:
		return 4
	default:
		return 0
	}
}

// FrameCapacityBits is the number of coded bits one frame carries.
func (p Params) FrameCapacityBits() int {
	return p.DataSubcarriers() * p.BitsPerSymbol() * p.SymbolsPerFrame
}

// headerOffsets returns the subcarrier offsets occupied by the header symbol:
// the even offsets within the active band. Restricting the header to even
// offsets makes its two time-domain halves identical, which the synchronizer
// exploits for detection and frequency-offset estimation.
func (p Params) headerOffsets() []int {
	half := p.Subcarriers / 2
	var out []int
	for off := -half; off <= half; off += 2 {
		if off == 0 {
			continue
		}
		out = append(out, off)
	}
	return out
}

// headerSequence returns the known BPSK values on the header offsets.
func (p Params) headerSequence() []complex128 {
	offs := p.headerOffsets()
	rng := rand.New(rand.NewSource(p.Seed))
	seq := make([]complex128, len(offs))
	for i := range seq {
		if rng.Intn(2) == 0 {
			seq[i] = 1
		} else {
			seq[i] = -1
		}
	}
	return seq
}

// pilotSequence returns the known BPSK pilot values, indexed like
// PilotIndices. The same pilot values are used in every data symbol.
func (p Params) pilotSequence() []complex128 {
	rng := rand.New(rand.NewSource(p.Seed + 1))
	pilots := p.PilotIndices()
	seq := make([]complex128, len(pilots))
	for i := range seq {
		if rng.Intn(2) == 0 {
			seq[i] = 1
		} else {
			seq[i] = -1
		}
	}
	return seq
}
