package ofdm

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// peakAmplitude is the full-scale headroom target for transmitted waveforms.
// The Pluto DAC clips above 1.0, so frames are normalized to 0.8 peak.
const peakAmplitude = 0.8

// Grid is one frame's resource grid in the frequency domain: the header
// symbol spectrum followed by the data symbol spectra, each FFTLength bins.
type Grid struct {
	Header  []complex128
	Symbols [][]complex128
}

// Encoder builds the transmit waveform for one frame from coded transport
// bits.
type Encoder struct {
	p         Params
	cons      *Constellation
	fft       *fourier.CmplxFFT
	headerSeq []complex128
	pilotSeq  []complex128
}

// NewEncoder constructs a frame encoder for the given geometry.
func NewEncoder(p Params) (*Encoder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Encoder{
		p:         p,
		cons:      NewConstellation(p.ModulationOrder),
		fft:       fourier.NewCmplxFFT(p.FFTLength),
		headerSeq: p.headerSequence(),
		pilotSeq:  p.pilotSequence(),
	}, nil
}

// Encode maps codedBits onto the resource grid and produces the baseband
// frame waveform. len(codedBits) must equal FrameCapacityBits.
func (e *Encoder) Encode(codedBits []byte) ([]complex64, *Grid, error) {
	capacity := e.p.FrameCapacityBits()
	if len(codedBits) != capacity {
		return nil, nil, fmt.Errorf("coded bit count %d does not match frame capacity %d", len(codedBits), capacity)
	}

	grid := &Grid{
		Header:  e.headerSpectrum(),
		Symbols: make([][]complex128, e.p.SymbolsPerFrame),
	}

	dataIdx := e.p.DataIndices()
	pilotIdx := e.p.PilotIndices()
	bitsPerSym := len(dataIdx) * e.p.BitsPerSymbol()

	for s := 0; s < e.p.SymbolsPerFrame; s++ {
		points := e.cons.MapBits(codedBits[s*bitsPerSym : (s+1)*bitsPerSym])
		spec := make([]complex128, e.p.FFTLength)
		for j, i := range pilotIdx {
			spec[e.p.Bin(i)] = e.pilotSeq[j]
		}
		for j, i := range dataIdx {
			spec[e.p.Bin(i)] = points[j]
		}
		grid.Symbols[s] = spec
	}

	waveform := make([]complex128, 0, e.p.FrameLength())
	waveform = append(waveform, e.symbolTime(grid.Header)...)
	for _, spec := range grid.Symbols {
		waveform = append(waveform, e.symbolTime(spec)...)
	}

	return normalizePeak(waveform), grid, nil
}

// HeaderWaveform returns the time-domain header symbol including cyclic
// prefix, normalized the same way as a transmitted frame. The synchronizer
// correlates against it.
func (e *Encoder) HeaderWaveform() []complex128 {
	td := e.symbolTime(e.headerSpectrum())
	out := make([]complex128, len(td))
	copy(out, td)
	return out
}

func (e *Encoder) headerSpectrum() []complex128 {
	spec := make([]complex128, e.p.FFTLength)
	for j, off := range e.p.headerOffsets() {
		bin := (off + e.p.FFTLength) % e.p.FFTLength
		spec[bin] = e.headerSeq[j]
	}
	return spec
}

// symbolTime inverse-transforms one symbol spectrum and prepends the cyclic
// prefix.
func (e *Encoder) symbolTime(spec []complex128) []complex128 {
	n := e.p.FFTLength
	td := e.fft.Sequence(nil, spec)
	scale := complex(1/float64(n), 0)
	for i := range td {
		td[i] *= scale
	}
	out := make([]complex128, e.p.CyclicPrefix+n)
	copy(out, td[n-e.p.CyclicPrefix:])
	copy(out[e.p.CyclicPrefix:], td)
	return out
}

func normalizePeak(samples []complex128) []complex64 {
	peak := 0.0
	for _, s := range samples {
		if a := cmplx.Abs(s); a > peak {
			peak = a
		}
	}
	scale := 1.0
	if peak > 0 {
		scale = peakAmplitude / peak
	}
	out := make([]complex64, len(samples))
	for i, s := range samples {
		out[i] = complex64(s * complex(scale, 0))
	}
	return out
}

// Decoder recovers the resource grid from a received frame.
type Decoder struct {
	p    Params
	cons *Constellation
	fft  *fourier.CmplxFFT
}

// NewDecoder constructs a frame decoder for the given geometry.
func NewDecoder(p Params) (*Decoder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Decoder{
		p:    p,
		cons: NewConstellation(p.ModulationOrder),
		fft:  fourier.NewCmplxFFT(p.FFTLength),
	}, nil
}

// Demodulate transforms one received frame back into a resource grid. The
// frame slice must start at the frame boundary located by the synchronizer
// and hold at least FrameLength samples. advance moves the FFT window
// advance samples into the cyclic prefix; the induced per-bin phase ramp is
// compensated here so the channel estimate stays ramp-free.
func (d *Decoder) Demodulate(frame []complex64, advance int) (*Grid, error) {
	if advance < 0 || advance > d.p.CyclicPrefix {
		return nil, fmt.Errorf("timing advance %d outside cyclic prefix %d", advance, d.p.CyclicPrefix)
	}
	if len(frame) < d.p.FrameLength() {
		return nil, fmt.Errorf("frame too short: %d < %d samples", len(frame), d.p.FrameLength())
	}

	grid := &Grid{Symbols: make([][]complex128, d.p.SymbolsPerFrame)}
	symLen := d.p.SymbolLength()
	for slot := 0; slot <= d.p.SymbolsPerFrame; slot++ {
		start := slot*symLen + d.p.CyclicPrefix - advance
		window := make([]complex128, d.p.FFTLength)
		for i := 0; i < d.p.FFTLength; i++ {
			window[i] = complex128(frame[start+i])
		}
		spec := d.fft.Coefficients(nil, window)
		if advance != 0 {
			d.compensateAdvance(spec, advance)
		}
		if slot == 0 {
			grid.Header = spec
		} else {
			grid.Symbols[slot-1] = spec
		}
	}
	return grid, nil
}

// compensateAdvance removes the linear phase introduced by sampling advance
// samples early within the cyclic prefix.
func (d *Decoder) compensateAdvance(spec []complex128, advance int) {
	n := d.p.FFTLength
	for k := range spec {
		// FFT bin k corresponds to frequency index k (mod n, signed).
		fk := k
		if fk > n/2 {
			fk -= n
		}
		phase := 2 * math.Pi * float64(fk) * float64(advance) / float64(n)
		spec[k] *= cmplx.Exp(complex(0, phase))
	}
}

// DataBits demaps equalized data points (one slice per data symbol, in
// active-index order) to hard bits.
func (d *Decoder) DataBits(equalized [][]complex128) []byte {
	bits := make([]byte, 0, d.p.FrameCapacityBits())
	for _, syms := range equalized {
		bits = append(bits, d.cons.DemapSymbols(syms)...)
	}
	return bits
}

// Derotate applies a per-sample phase rotation cancelling a carrier
// frequency offset of cfoHz, starting from startPhase radians. It returns
// the corrected samples and the phase at the end of the buffer, so the
// correction stays continuous across consecutive buffers.
func Derotate(samples []complex64, cfoHz, sampleRate, startPhase float64) ([]complex64, float64) {
	if cfoHz == 0 {
		return samples, startPhase
	}
	step := -2 * math.Pi * cfoHz / sampleRate
	out := make([]complex64, len(samples))
	phase := startPhase
	for i, s := range samples {
		rot := cmplx.Exp(complex(0, phase))
		out[i] = complex64(complex128(s) * rot)
		phase += step
	}
	return out, phase
}
