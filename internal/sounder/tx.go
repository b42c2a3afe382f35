package sounder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdrlink/plutosounder/internal/config"
	"github.com/sdrlink/plutosounder/internal/fec"
	"github.com/sdrlink/plutosounder/internal/logging"
	"github.com/sdrlink/plutosounder/internal/ofdm"
	"github.com/sdrlink/plutosounder/internal/radio"
)

// TxReport summarizes one transmit run.
type TxReport struct {
	Buffers   int           `json:"buffers"`
	Frames    int           `json:"frames"`
	Samples   int           `json:"samples"`
	Underruns int           `json:"underruns"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Transmitter repeats one precomputed sounding buffer until its frame or
// time budget runs out. The buffer is the encoded frame tiled up to the
// hardware minimum, so every push is an integral number of frames.
type Transmitter struct {
	cfg    config.Parameters
	port   radio.Port
	log    logging.Logger
	buffer []complex64
	frames int
}

// NewTransmitter builds the frame once. The transport block is the seeded
// pseudo-random pattern the receiver knows to expect.
func NewTransmitter(cfg config.Parameters, port radio.Port, log logging.Logger) (*Transmitter, error) {
	if log == nil {
		log = logging.Default()
	}
	params := ofdmParams(cfg)
	enc, err := ofdm.NewEncoder(params)
	if err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	num, den, err := cfg.CodeRatio()
	if err != nil {
		return nil, err
	}
	coder, err := fec.New(cfg.Coding, params.FrameCapacityBits(), num, den)
	if err != nil {
		return nil, fmt.Errorf("build coder: %w", err)
	}
	coded, err := coder.Encode(transportBits(cfg.Seed, coder.TransportBlockBits()))
	if err != nil {
		return nil, fmt.Errorf("encode transport block: %w", err)
	}
	frame, _, err := enc.Encode(coded)
	if err != nil {
		return nil, fmt.Errorf("modulate frame: %w", err)
	}
	buffer := radio.Tile(frame, cfg.Radio.MinTxBuffer)
	log.Info("transmit buffer ready",
		logging.F("frame_samples", len(frame)),
		logging.F("buffer_samples", len(buffer)),
		logging.F("frames_per_buffer", len(buffer)/len(frame)),
		logging.F("transport_bits", coder.TransportBlockBits()))

	return &Transmitter{
		cfg:    cfg,
		port:   port,
		log:    log,
		buffer: buffer,
		frames: len(buffer) / len(frame),
	}, nil
}

// FramesPerBuffer is the number of whole frames each transmitted buffer
// carries.
func (t *Transmitter) FramesPerBuffer() int { return t.frames }

// Run pushes buffers until the context is cancelled, the configured frame
// count is reached, or the configured duration elapses. Cancellation is a
// clean stop, not an error.
func (t *Transmitter) Run(ctx context.Context) (TxReport, error) {
	duration, infinite, err := t.cfg.RunDuration()
	if err != nil {
		return TxReport{}, err
	}
	var deadline time.Time
	if duration > 0 {
		deadline = time.Now().Add(duration)
	}

	start := time.Now()
	var report TxReport
	for {
		if err := ctx.Err(); err != nil {
			break
		}
		if !infinite && t.cfg.FrameCount > 0 && report.Frames >= t.cfg.FrameCount {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}

		accepted, err := t.port.Transmit(ctx, t.buffer)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("transmit buffer %d: %w", report.Buffers, err)
		}
		if accepted < len(t.buffer) {
			report.Underruns++
			t.log.Warn("short transmit",
				logging.F("accepted", accepted),
				logging.F("expected", len(t.buffer)))
		}
		report.Buffers++
		report.Frames += t.frames
		report.Samples += accepted
	}
	report.Elapsed = time.Since(start)
	t.log.Info("transmit loop finished",
		logging.F("buffers", report.Buffers),
		logging.F("frames", report.Frames),
		logging.F("underruns", report.Underruns),
		logging.F("elapsed", report.Elapsed.String()))
	return report, nil
}
