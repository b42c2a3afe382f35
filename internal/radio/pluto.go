package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sdrlink/plutosounder/iiod"
	"github.com/sdrlink/plutosounder/internal/logging"
)

// AD9361 device identifiers inside the Pluto IIO context.
const (
	phyDevice = "ad9361-phy"
	rxDevice  = "cf-ad9361-lpc"
	txDevice  = "cf-ad9361-dds-core-lpc"
)

// dialMaxElapsed bounds the retrying dial to a freshly booting Pluto.
const dialMaxElapsed = 30 * time.Second

// PlutoConfig describes how to reach and drive an ADALM-Pluto.
type PlutoConfig struct {
	// URI is the IIOD endpoint, host or host:port.
	URI string
	// Sysfs optionally enables the SSH fallback for attribute writes that
	// the IIOD daemon rejects, as older firmware does.
	Sysfs *SysfsConfig
}

// Pluto drives an ADALM-Pluto over the IIOD protocol. Buffers are opened
// lazily on first use and reopened when the requested length changes. The
// session speaks one command at a time, so every client exchange holds the
// mutex; dual-role runs drive Transmit and Receive from separate goroutines.
type Pluto struct {
	cfg    PlutoConfig
	log    logging.Logger
	client *iiod.Client
	sysfs  *SysfsWriter

	mu           sync.Mutex
	txBuf, txLen int
	rxBuf, rxLen int
}

// DialPluto connects with exponential backoff, so a Pluto still enumerating
// after power-up is given time to come online.
func DialPluto(ctx context.Context, cfg PlutoConfig, log logging.Logger) (*Pluto, error) {
	if log == nil {
		log = logging.Default()
	}
	var client *iiod.Client
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialMaxElapsed
	err := backoff.RetryNotify(
		func() error {
			var err error
			client, err = iiod.Dial(ctx, cfg.URI)
			return err
		},
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			log.Warn("pluto dial failed, retrying",
				logging.F("uri", cfg.URI),
				logging.F("retry_in", next.String()),
				logging.F("error", err.Error()))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect to pluto at %s: %w", cfg.URI, err)
	}

	p := &Pluto{cfg: cfg, log: log, client: client, txBuf: -1, rxBuf: -1}
	if cfg.Sysfs != nil {
		w, err := NewSysfsWriter(*cfg.Sysfs)
		if err != nil {
			client.Close()
			return nil, err
		}
		p.sysfs = w
	}
	return p, nil
}

// writeAttr writes an attribute over IIOD, falling back to sysfs over SSH
// when the daemon rejects the write.
func (p *Pluto) writeAttr(ctx context.Context, device, channel, attr, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.client.WriteAttr(ctx, device, channel, attr, value)
	if err == nil {
		return nil
	}
	if p.sysfs == nil {
		return err
	}
	p.log.Warn("iiod write rejected, using sysfs fallback",
		logging.F("device", device),
		logging.F("attr", attr),
		logging.F("error", err.Error()))
	return p.sysfs.WriteAttribute(ctx, device, channel, attr, value)
}

// SetCenterFrequency tunes both local oscillators to the same carrier.
func (p *Pluto) SetCenterFrequency(ctx context.Context, hz float64) error {
	freq := fmt.Sprintf("%.0f", hz)
	if err := p.writeAttr(ctx, phyDevice, "altvoltage1", "frequency", freq); err != nil {
		return fmt.Errorf("set rx lo: %w", err)
	}
	if err := p.writeAttr(ctx, phyDevice, "altvoltage0", "frequency", freq); err != nil {
		return fmt.Errorf("set tx lo: %w", err)
	}
	return nil
}

// SetSampleRate programs the baseband rate and analog filter bandwidth.
func (p *Pluto) SetSampleRate(ctx context.Context, rateHz, bandwidthHz float64) error {
	if err := p.writeAttr(ctx, phyDevice, "", "sampling_frequency", fmt.Sprintf("%.0f", rateHz)); err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	if bandwidthHz > 0 {
		bw := fmt.Sprintf("%.0f", bandwidthHz)
		if err := p.writeAttr(ctx, phyDevice, "voltage0", "rf_bandwidth", bw); err != nil {
			return fmt.Errorf("set rx bandwidth: %w", err)
		}
		if err := p.writeAttr(ctx, phyDevice, "out", "rf_bandwidth", bw); err != nil {
			return fmt.Errorf("set tx bandwidth: %w", err)
		}
	}
	return nil
}

// SetGain switches the receiver to manual gain control and programs both
// sides.
func (p *Pluto) SetGain(ctx context.Context, txDB, rxDB float64) error {
	if err := p.writeAttr(ctx, phyDevice, "voltage0", "gain_control_mode", "manual"); err != nil {
		return fmt.Errorf("set gain mode: %w", err)
	}
	if err := p.writeAttr(ctx, phyDevice, "voltage0", "hardwaregain", fmt.Sprintf("%.1f", rxDB)); err != nil {
		return fmt.Errorf("set rx gain: %w", err)
	}
	if err := p.writeAttr(ctx, phyDevice, "out", "hardwaregain", fmt.Sprintf("%.1f", txDB)); err != nil {
		return fmt.Errorf("set tx gain: %w", err)
	}
	return nil
}

// Transmit pushes one buffer to the DMA transmit device.
func (p *Pluto) Transmit(ctx context.Context, samples []complex64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txBuf < 0 || p.txLen != len(samples) {
		if p.txBuf >= 0 {
			p.client.CloseBuffer(ctx, p.txBuf)
			p.txBuf = -1
		}
		id, err := p.client.OpenBuffer(ctx, txDevice, len(samples))
		if err != nil {
			return 0, fmt.Errorf("open tx buffer: %w", err)
		}
		p.txBuf, p.txLen = id, len(samples)
	}
	written, err := p.client.WriteBuffer(ctx, p.txBuf, iiod.PackIQ(samples))
	if err != nil {
		return 0, fmt.Errorf("transmit: %w", err)
	}
	return written / 4, nil
}

// Receive pulls the next n samples from the DMA receive device.
func (p *Pluto) Receive(ctx context.Context, n int) ([]complex64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rxBuf < 0 || p.rxLen != n {
		if p.rxBuf >= 0 {
			p.client.CloseBuffer(ctx, p.rxBuf)
			p.rxBuf = -1
		}
		id, err := p.client.OpenBuffer(ctx, rxDevice, n)
		if err != nil {
			return nil, fmt.Errorf("open rx buffer: %w", err)
		}
		p.rxBuf, p.rxLen = id, n
	}
	raw, err := p.client.ReadBuffer(ctx, p.rxBuf, n*4)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return iiod.UnpackIQ(raw), nil
}

// Identity lists the devices of the attached IIO context.
func (p *Pluto) Identity(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	devs, err := p.client.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("identify pluto: %w", err)
	}
	return "pluto[" + strings.Join(devs, " ") + "]", nil
}

// Close releases open buffers and the session. Buffer close failures are
// logged, not returned, so teardown always reaches the socket.
func (p *Pluto) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txBuf >= 0 {
		if err := p.client.CloseBuffer(ctx, p.txBuf); err != nil {
			p.log.Warn("close tx buffer", logging.F("error", err.Error()))
		}
		p.txBuf = -1
	}
	if p.rxBuf >= 0 {
		if err := p.client.CloseBuffer(ctx, p.rxBuf); err != nil {
			p.log.Warn("close rx buffer", logging.F("error", err.Error()))
		}
		p.rxBuf = -1
	}
	if p.sysfs != nil {
		p.sysfs.Close()
	}
	return p.client.Close()
}
