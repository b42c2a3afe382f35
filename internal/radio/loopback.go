package radio

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// LoopbackConfig describes the simulated channel between the loopback port's
// transmit and receive sides. The zero value is a clean wire.
type LoopbackConfig struct {
	SampleRate float64

	// NoiseStdDev is the AWGN standard deviation per I/Q component.
	NoiseStdDev float64
	// CFOHz rotates the stream to emulate a carrier frequency offset.
	CFOHz float64
	// DelaySamples prepends silence before the first transmitted sample.
	DelaySamples int
	// Taps convolves the stream with a FIR channel impulse response.
	Taps []complex64

	// CorruptHeader overwrites the first HeaderLength samples of every
	// FrameLength-sample block with noise, which defeats frame detection
	// while leaving the stream energy plausible.
	CorruptHeader bool
	FrameLength   int
	HeaderLength  int

	// IdleWait bounds how long Receive waits for the transmit side to
	// catch up before padding with noise. Zero pads immediately.
	IdleWait time.Duration

	// Seed makes the noise reproducible.
	Seed int64
}

// Loopback connects transmit directly to receive through the configured
// impairments. Reads past the queued samples return pure noise, like a
// receiver tuned to an idle channel.
type Loopback struct {
	cfg LoopbackConfig

	mu      sync.Mutex
	queue   []complex64
	rng     *rand.Rand
	phase   float64
	history []complex64
	txTotal int
	closed  bool

	centerHz float64
	rateHz   float64
	txGainDB float64
	rxGainDB float64
}

// NewLoopback builds the loopback port.
func NewLoopback(cfg LoopbackConfig) *Loopback {
	lb := &Loopback{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.DelaySamples > 0 {
		lb.queue = make([]complex64, cfg.DelaySamples)
	}
	if len(cfg.Taps) > 1 {
		lb.history = make([]complex64, len(cfg.Taps)-1)
	}
	return lb
}

// Transmit pushes samples through the impairment chain into the receive
// queue.
func (l *Loopback) Transmit(ctx context.Context, samples []complex64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("loopback is closed")
	}

	out := samples
	if l.cfg.CorruptHeader && l.cfg.FrameLength > 0 && l.cfg.HeaderLength > 0 {
		out = l.corruptHeaders(out)
	}
	if len(l.cfg.Taps) > 0 {
		out = l.convolve(out)
	}
	if l.cfg.CFOHz != 0 && l.cfg.SampleRate > 0 {
		out = l.rotate(out)
	}
	l.queue = append(l.queue, out...)
	l.txTotal += len(samples)
	return len(samples), nil
}

// Receive pops the next n samples, padding with noise when the transmit side
// has gone quiet, and adds the configured noise floor.
func (l *Loopback) Receive(ctx context.Context, n int) ([]complex64, error) {
	deadline := time.Now().Add(l.cfg.IdleWait)
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.cfg.IdleWait > 0 && len(l.queue) < n && !l.closed {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		l.mu.Unlock()
		time.Sleep(time.Millisecond)
		l.mu.Lock()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.closed {
		return nil, fmt.Errorf("loopback is closed")
	}

	out := make([]complex64, n)
	got := copy(out, l.queue)
	l.queue = l.queue[got:]
	for i := got; i < n; i++ {
		out[i] = 0
	}
	if l.cfg.NoiseStdDev > 0 {
		for i := range out {
			out[i] += complex(
				float32(l.rng.NormFloat64()*l.cfg.NoiseStdDev),
				float32(l.rng.NormFloat64()*l.cfg.NoiseStdDev),
			)
		}
	}
	return out, nil
}

func (l *Loopback) corruptHeaders(samples []complex64) []complex64 {
	out := make([]complex64, len(samples))
	copy(out, samples)
	amp := rmsAmplitude(samples)
	for start := 0; start < len(out); start += l.cfg.FrameLength {
		end := start + l.cfg.HeaderLength
		if end > len(out) {
			end = len(out)
		}
		for i := start; i < end; i++ {
			out[i] = complex(
				float32(l.rng.NormFloat64()*amp),
				float32(l.rng.NormFloat64()*amp),
			)
		}
	}
	return out
}

func (l *Loopback) convolve(samples []complex64) []complex64 {
	taps := l.cfg.Taps
	out := make([]complex64, len(samples))
	for i := range samples {
		var acc complex64
		for k, tap := range taps {
			j := i - k
			var x complex64
			if j >= 0 {
				x = samples[j]
			} else if h := len(l.history) + j; h >= 0 {
				x = l.history[h]
			}
			acc += tap * x
		}
		out[i] = acc
	}
	if m := len(taps) - 1; m > 0 {
		if len(samples) >= m {
			copy(l.history, samples[len(samples)-m:])
		} else {
			l.history = append(l.history[len(samples):], samples...)
		}
	}
	return out
}

func (l *Loopback) rotate(samples []complex64) []complex64 {
	step := 2 * math.Pi * l.cfg.CFOHz / l.cfg.SampleRate
	out := make([]complex64, len(samples))
	for i, s := range samples {
		sin, cos := math.Sincos(l.phase)
		out[i] = s * complex(float32(cos), float32(sin))
		l.phase += step
	}
	return out
}

func rmsAmplitude(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, s := range samples {
		acc += float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s))
	}
	return math.Sqrt(acc / float64(len(samples)) / 2)
}

// Pending is the number of queued samples not yet received. Tests use it to
// observe drainage.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Transmitted is the total number of samples accepted so far.
func (l *Loopback) Transmitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txTotal
}

func (l *Loopback) SetCenterFrequency(ctx context.Context, hz float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.centerHz = hz
	return nil
}

func (l *Loopback) SetSampleRate(ctx context.Context, rateHz, bandwidthHz float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rateHz = rateHz
	return nil
}

func (l *Loopback) SetGain(ctx context.Context, txDB, rxDB float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txGainDB, l.rxGainDB = txDB, rxDB
	return nil
}

func (l *Loopback) Identity(ctx context.Context) (string, error) {
	return "loopback", nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.queue = nil
	return nil
}
