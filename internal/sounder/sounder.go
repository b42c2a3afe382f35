// Package sounder runs the channel-sounding link: a transmit loop repeating
// one known frame, a receive loop that synchronizes, equalizes and scores
// the stream, and a harness running both against one radio port.
package sounder

import (
	"math/rand"

	"github.com/sdrlink/plutosounder/internal/config"
	"github.com/sdrlink/plutosounder/internal/ofdm"
)

// transportSeedOffset separates the transport bit stream from the header and
// pilot sequences derived from the same configured seed.
const transportSeedOffset = 2

// ofdmParams derives the frame geometry from the run parameters.
func ofdmParams(cfg config.Parameters) ofdm.Params {
	return ofdm.Params{
		FFTLength:       cfg.FFTLength,
		CyclicPrefix:    cfg.CyclicPrefix,
		Subcarriers:     cfg.Subcarriers,
		PilotSpacing:    cfg.PilotSpacing,
		ModulationOrder: cfg.ModulationOrder,
		SymbolsPerFrame: cfg.SymbolsPerFrame,
		SampleRate:      cfg.SampleRate(),
		Seed:            cfg.Seed,
		EnableCFO:       cfg.EnableCFO,
		EnableCPE:       cfg.EnableCPE,
	}
}

// transportBits generates the known pseudo-random transport block. Both ends
// derive it from the configured seed, so the receiver can score bit errors
// without a side channel. Every frame carries the same block.
func transportBits(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed + transportSeedOffset))
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
	}
	return bits
}
