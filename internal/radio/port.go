// Package radio provides the sample I/O ports of the sounder: an ADALM-Pluto
// backend speaking the IIOD protocol, an in-process loopback backend with
// configurable channel impairments, and mDNS discovery of IIOD endpoints.
package radio

import "context"

// Port is a half- or full-duplex complex baseband sample stream plus the
// tuning controls shared by all backends.
type Port interface {
	// Transmit queues one buffer of samples and returns the number
	// actually accepted by the hardware.
	Transmit(ctx context.Context, samples []complex64) (int, error)
	// Receive blocks for the next n samples.
	Receive(ctx context.Context, n int) ([]complex64, error)

	SetCenterFrequency(ctx context.Context, hz float64) error
	SetSampleRate(ctx context.Context, rateHz, bandwidthHz float64) error
	SetGain(ctx context.Context, txDB, rxDB float64) error

	// Identity describes the attached hardware for logs and reports.
	Identity(ctx context.Context) (string, error)
	Close() error
}

// Tile repeats a waveform whole until it reaches at least min samples, so
// hardware with a minimum buffer length always receives an integral number
// of repetitions. A waveform already long enough is returned unchanged.
func Tile(samples []complex64, min int) []complex64 {
	if len(samples) == 0 || len(samples) >= min {
		return samples
	}
	reps := (min + len(samples) - 1) / len(samples)
	out := make([]complex64, 0, reps*len(samples))
	for i := 0; i < reps; i++ {
		out = append(out, samples...)
	}
	return out
}
