package sounder

import (
	"context"
	"fmt"
	"time"

	"github.com/sdrlink/plutosounder/internal/config"
	"github.com/sdrlink/plutosounder/internal/logging"
	"github.com/sdrlink/plutosounder/internal/radio"
	"github.com/sdrlink/plutosounder/internal/telemetry"
)

// rxStartDelay holds the receiver back so the transmitter's first buffer is
// already in flight when the search begins.
const rxStartDelay = 100 * time.Millisecond

// rxDrainGrace is how long the receiver may keep draining queued samples
// after the transmitter has finished.
const rxDrainGrace = 5 * time.Second

// DualReport pairs the two sides of one full-duplex run.
type DualReport struct {
	Tx TxReport `json:"tx"`
	Rx RxReport `json:"rx"`
}

// ConfigurePort programs the radio with the run's tuning before any
// streaming starts.
func ConfigurePort(ctx context.Context, cfg config.Parameters, port radio.Port) error {
	if err := port.SetSampleRate(ctx, cfg.SampleRate(), cfg.ChannelBandwidthHz); err != nil {
		return fmt.Errorf("configure sample rate: %w", err)
	}
	if err := port.SetCenterFrequency(ctx, cfg.Radio.CenterFrequencyHz); err != nil {
		return fmt.Errorf("configure center frequency: %w", err)
	}
	if err := port.SetGain(ctx, cfg.Radio.TxGainDB, cfg.Radio.RxGainDB); err != nil {
		return fmt.Errorf("configure gain: %w", err)
	}
	return nil
}

// RunDual drives the transmit and receive loops concurrently over one port.
// The receiver starts after a short delay, so the transmitter already has
// samples in flight when the search begins. Teardown is ordered: the
// transmitter stops first, the receiver drains the
// queued samples, then both results are collected. The caller closes the
// port.
func RunDual(ctx context.Context, cfg config.Parameters, port radio.Port, reporter telemetry.Reporter, log logging.Logger) (DualReport, error) {
	if log == nil {
		log = logging.Default()
	}
	tx, err := NewTransmitter(cfg, port, log.With(logging.F("side", "tx")))
	if err != nil {
		return DualReport{}, err
	}
	rx, err := NewReceiver(cfg, port, reporter, log.With(logging.F("side", "rx")))
	if err != nil {
		return DualReport{}, err
	}

	txCtx, cancelTx := context.WithCancel(ctx)
	defer cancelTx()
	// The receiver deliberately survives outer cancellation long enough to
	// drain what the transmitter already queued.
	rxCtx, cancelRx := context.WithCancel(context.Background())
	defer cancelRx()

	type txResult struct {
		report TxReport
		err    error
	}
	type rxResult struct {
		report RxReport
		err    error
	}
	txDone := make(chan txResult, 1)
	rxDone := make(chan rxResult, 1)

	go func() {
		report, err := tx.Run(txCtx)
		txDone <- txResult{report, err}
	}()
	go func() {
		select {
		case <-time.After(rxStartDelay):
		case <-ctx.Done():
		}
		report, err := rx.Run(rxCtx)
		rxDone <- rxResult{report, err}
	}()

	var out DualReport
	txRes := <-txDone
	out.Tx = txRes.report

	select {
	case rxRes := <-rxDone:
		out.Rx = rxRes.report
		if txRes.err != nil {
			return out, txRes.err
		}
		return out, rxRes.err
	case <-time.After(rxDrainGrace):
		cancelRx()
	}
	rxRes := <-rxDone
	out.Rx = rxRes.report
	if txRes.err != nil {
		return out, txRes.err
	}
	return out, rxRes.err
}
