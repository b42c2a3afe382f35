package ofdm

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Channel estimation tuning. Per-symbol estimates are a 50/50 blend of the
// header-based full-band estimate and the pilot-based estimate, then smoothed
// over time with a one-pole filter.
const (
	headerBlend    = 0.5
	smoothingAlpha = 0.7
	pilotFloor     = 1e-9
)

// ChannelEstimate is the per-active-subcarrier channel gain after one frame,
// indexed like SubcarrierOffset.
type ChannelEstimate struct {
	Gains []complex128
}

// MagnitudeDB returns the gain magnitude profile in dB.
func (c *ChannelEstimate) MagnitudeDB() []float64 {
	out := make([]float64, len(c.Gains))
	for i, g := range c.Gains {
		a := cmplx.Abs(g)
		if a <= 0 {
			out[i] = math.Inf(-1)
			continue
		}
		out[i] = 20 * math.Log10(a)
	}
	return out
}

// ChannelEstimator tracks the channel frequency response across frames. It
// carries the trailing smoothed estimate of the previous frame so smoothing
// is continuous over the whole run; construct a fresh instance to reset it.
type ChannelEstimator struct {
	p         Params
	headerSeq []complex128
	pilotSeq  []complex128
	prev      []complex128
}

// NewChannelEstimator builds an estimator for the given geometry.
func NewChannelEstimator(p Params) (*ChannelEstimator, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &ChannelEstimator{
		p:         p,
		headerSeq: p.headerSequence(),
		pilotSeq:  p.pilotSequence(),
	}, nil
}

// EqualizeFrame estimates the channel from the header and pilots of one
// demodulated frame and returns the equalized data points, one slice per data
// symbol in active-index order, together with the frame's trailing channel
// estimate and the per-symbol common-phase-error corrections in radians.
func (e *ChannelEstimator) EqualizeFrame(grid *Grid) ([][]complex128, *ChannelEstimate, []float64, error) {
	if grid == nil || len(grid.Header) != e.p.FFTLength || len(grid.Symbols) != e.p.SymbolsPerFrame {
		return nil, nil, nil, fmt.Errorf("grid shape does not match geometry")
	}

	headerGains := e.headerEstimate(grid.Header)
	smoothed := e.prev
	if smoothed == nil {
		smoothed = headerGains
	}

	pilotIdx := e.p.PilotIndices()
	dataIdx := e.p.DataIndices()
	equalized := make([][]complex128, e.p.SymbolsPerFrame)
	cpe := make([]float64, e.p.SymbolsPerFrame)

	for s, spec := range grid.Symbols {
		pilotGains, ok := e.pilotEstimate(spec, pilotIdx)
		if !ok {
			// Degenerate pilots: hold the running estimate for this symbol.
			pilotGains = smoothed
		}

		inst := make([]complex128, e.p.Subcarriers)
		for i := range inst {
			inst[i] = complex(headerBlend, 0)*headerGains[i] + complex(1-headerBlend, 0)*pilotGains[i]
		}
		cur := make([]complex128, e.p.Subcarriers)
		for i := range cur {
			cur[i] = complex(smoothingAlpha, 0)*smoothed[i] + complex(1-smoothingAlpha, 0)*inst[i]
		}
		smoothed = cur

		theta := 0.0
		if e.p.EnableCPE {
			theta = e.commonPhase(spec, pilotIdx, cur)
		}
		rot := cmplx.Exp(complex(0, -theta))
		cpe[s] = theta

		eq := make([]complex128, len(dataIdx))
		for j, i := range dataIdx {
			g := cur[i]
			if g == 0 {
				g = 1
			}
			eq[j] = spec[e.p.Bin(i)] / g * rot
		}
		equalized[s] = eq
	}

	e.prev = smoothed
	gains := make([]complex128, len(smoothed))
	copy(gains, smoothed)
	return equalized, &ChannelEstimate{Gains: gains}, cpe, nil
}

// headerEstimate divides the received header bins by the known sequence and
// interpolates the result over the full active band.
func (e *ChannelEstimator) headerEstimate(header []complex128) []complex128 {
	offs := e.p.headerOffsets()
	samples := make([]complex128, len(offs))
	for j, off := range offs {
		bin := (off + e.p.FFTLength) % e.p.FFTLength
		samples[j] = header[bin] / e.headerSeq[j]
	}
	return e.interpolate(offs, samples)
}

// pilotEstimate divides the received pilot bins by the known pilot values.
// It reports false when any pilot is too weak to divide by.
func (e *ChannelEstimator) pilotEstimate(spec []complex128, pilotIdx []int) ([]complex128, bool) {
	offs := make([]int, len(pilotIdx))
	samples := make([]complex128, len(pilotIdx))
	for j, i := range pilotIdx {
		y := spec[e.p.Bin(i)]
		if cmplx.Abs(y) < pilotFloor {
			return nil, false
		}
		offs[j] = e.p.SubcarrierOffset(i)
		samples[j] = y / e.pilotSeq[j]
	}
	return e.interpolate(offs, samples), true
}

// interpolate linearly interpolates channel samples given at the subcarrier
// offsets in offs (ascending) onto every active subcarrier, holding the edge
// values beyond the outermost samples.
func (e *ChannelEstimator) interpolate(offs []int, samples []complex128) []complex128 {
	out := make([]complex128, e.p.Subcarriers)
	for i := range out {
		target := e.p.SubcarrierOffset(i)
		switch {
		case target <= offs[0]:
			out[i] = samples[0]
		case target >= offs[len(offs)-1]:
			out[i] = samples[len(samples)-1]
		default:
			k := 0
			for offs[k+1] < target {
				k++
			}
			if offs[k+1] == target {
				out[i] = samples[k+1]
				continue
			}
			t := float64(target-offs[k]) / float64(offs[k+1]-offs[k])
			out[i] = samples[k] + complex(t, 0)*(samples[k+1]-samples[k])
		}
	}
	return out
}

// commonPhase measures the residual common phase rotation of one symbol from
// its equalized pilots.
func (e *ChannelEstimator) commonPhase(spec []complex128, pilotIdx []int, gains []complex128) float64 {
	var acc complex128
	for j, i := range pilotIdx {
		g := gains[i]
		if g == 0 {
			continue
		}
		acc += spec[e.p.Bin(i)] / g * cmplx.Conj(e.pilotSeq[j])
	}
	if acc == 0 {
		return 0
	}
	return math.Atan2(imag(acc), real(acc))
}
