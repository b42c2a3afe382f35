// Package config holds the sounding run parameters: a statically typed
// parameter set with documented defaults, strict YAML loading, explicit
// override merging, and the derived quantities shared by the transmit and
// receive sides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DurationInfinite is the sentinel accepted in the duration field meaning
// "run until externally cancelled".
const DurationInfinite = "infinite"

// Parameters describes one sounding run. The struct is immutable during a run
// except for per-frame receiver state (frame index, timing advance), which
// lives in the receiver, not here.
type Parameters struct {
	FFTLength           int     `yaml:"fft_length"`
	CyclicPrefix        int     `yaml:"cyclic_prefix"`
	Subcarriers         int     `yaml:"subcarriers"`
	SubcarrierSpacingHz float64 `yaml:"subcarrier_spacing_hz"`
	PilotSpacing        int     `yaml:"pilot_spacing"`
	ChannelBandwidthHz  float64 `yaml:"channel_bandwidth_hz"`

	// ModulationOrder is the data constellation size: 2 (BPSK), 4 (QPSK)
	// or 16 (16-QAM). The header symbol is always BPSK.
	ModulationOrder int    `yaml:"modulation_order"`
	CodeRate        string `yaml:"code_rate"`
	Coding          string `yaml:"coding"`
	SymbolsPerFrame int    `yaml:"symbols_per_frame"`
	FrameCount      int    `yaml:"frame_count"`

	// Duration bounds the transmit loop wall clock. "infinite" runs until
	// the context is cancelled; empty means FrameCount governs.
	Duration string `yaml:"duration"`

	Seed      int64 `yaml:"seed"`
	EnableCFO bool  `yaml:"enable_cfo"`
	EnableCPE bool  `yaml:"enable_cpe"`

	// TimingAdvance moves the receiver FFT window this many samples into
	// the cyclic prefix, trading delay-spread margin for early sampling.
	TimingAdvance int `yaml:"timing_advance"`

	Radio RadioParameters `yaml:"radio"`
}

// RadioParameters configures the radio I/O port.
type RadioParameters struct {
	Backend           string  `yaml:"backend"`
	URI               string  `yaml:"uri"`
	CenterFrequencyHz float64 `yaml:"center_frequency_hz"`
	TxGainDB          float64 `yaml:"tx_gain_db"`
	RxGainDB          float64 `yaml:"rx_gain_db"`

	// MinTxBuffer is the hardware minimum transmit buffer length in
	// samples; shorter waveforms are tiled up to it.
	MinTxBuffer  int `yaml:"min_tx_buffer"`
	BufferLength int `yaml:"buffer_length"`
}

// Default returns the documented default parameter set.
func Default() Parameters {
	return Parameters{
		FFTLength:           128,
		CyclicPrefix:        32,
		Subcarriers:         72,
		SubcarrierSpacingHz: 30e3,
		PilotSpacing:        9,
		ChannelBandwidthHz:  3e6,
		ModulationOrder:     4,
		CodeRate:            "1/2",
		Coding:              "conv",
		SymbolsPerFrame:     30,
		FrameCount:          100,
		Duration:            "",
		Seed:                1,
		EnableCFO:           true,
		EnableCPE:           true,
		Radio: RadioParameters{
			Backend:           "loopback",
			URI:               "192.168.2.1:30431",
			CenterFrequencyHz: 2.4e9,
			TxGainDB:          -10,
			RxGainDB:          40,
			MinTxBuffer:       48000,
			BufferLength:      16384,
		},
	}
}

// Load reads a YAML parameter file and merges it over the defaults. Unknown
// fields are rejected rather than silently accepted.
func Load(path string) (Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse merges YAML overrides over the defaults. Fields absent from the
// document keep their default values; nested overrides replace only the leaf
// fields they name.
func Parse(data []byte) (Parameters, error) {
	p := Default()
	if err := p.MergeYAML(data); err != nil {
		return Parameters{}, err
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// MergeYAML applies a YAML override document onto p in place. Decoding is
// strict: unknown fields are an error.
func (p *Parameters) MergeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty override set is an identity
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the parameter set before any hardware is touched.
func (p Parameters) Validate() error {
	if p.FFTLength <= 0 || p.FFTLength&(p.FFTLength-1) != 0 {
		return fmt.Errorf("fft_length must be a positive power of two, got %d", p.FFTLength)
	}
	if p.CyclicPrefix <= 0 || p.CyclicPrefix >= p.FFTLength {
		return fmt.Errorf("cyclic_prefix must be in (0, fft_length), got %d", p.CyclicPrefix)
	}
	if p.Subcarriers <= 0 || p.Subcarriers >= p.FFTLength {
		return fmt.Errorf("subcarriers must be in (0, fft_length), got %d", p.Subcarriers)
	}
	if p.Subcarriers%2 != 0 {
		return fmt.Errorf("subcarriers must be even (DC is unused), got %d", p.Subcarriers)
	}
	if p.PilotSpacing <= 1 || p.PilotSpacing > p.Subcarriers {
		return fmt.Errorf("pilot_spacing must be in [2, subcarriers], got %d", p.PilotSpacing)
	}
	if p.SubcarrierSpacingHz <= 0 {
		return fmt.Errorf("subcarrier_spacing_hz must be positive, got %g", p.SubcarrierSpacingHz)
	}
	switch p.ModulationOrder {
	case 2, 4, 16:
	default:
		return fmt.Errorf("modulation_order must be 2, 4 or 16, got %d", p.ModulationOrder)
	}
	if _, _, err := p.CodeRatio(); err != nil {
		return err
	}
	switch p.Coding {
	case "conv", "rs":
	default:
		return fmt.Errorf("coding must be \"conv\" or \"rs\", got %q", p.Coding)
	}
	if p.SymbolsPerFrame <= 0 {
		return fmt.Errorf("symbols_per_frame must be positive, got %d", p.SymbolsPerFrame)
	}
	if p.TimingAdvance < 0 || p.TimingAdvance >= p.CyclicPrefix {
		return fmt.Errorf("timing_advance must be in [0, cyclic_prefix), got %d", p.TimingAdvance)
	}
	if p.FrameCount < 0 {
		return fmt.Errorf("frame_count must not be negative, got %d", p.FrameCount)
	}
	if _, _, err := p.RunDuration(); err != nil {
		return err
	}
	if p.Radio.MinTxBuffer < 0 {
		return fmt.Errorf("min_tx_buffer must not be negative, got %d", p.Radio.MinTxBuffer)
	}
	if p.Radio.BufferLength <= 0 {
		return fmt.Errorf("buffer_length must be positive, got %d", p.Radio.BufferLength)
	}
	return nil
}

// CodeRatio parses the code rate ratio string, e.g. "1/2".
func (p Parameters) CodeRatio() (num, den int, err error) {
	parts := strings.SplitN(p.CodeRate, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("code_rate must be a ratio like \"1/2\", got %q", p.CodeRate)
	}
	num, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("code_rate numerator: %w", err)
	}
	den, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("code_rate denominator: %w", err)
	}
	if num <= 0 || den <= 0 || num > den {
		return 0, 0, fmt.Errorf("code_rate must be a rate <= 1, got %q", p.CodeRate)
	}
	return num, den, nil
}

// RunDuration resolves the duration field. infinite=true means run until
// cancelled; a zero duration with infinite=false means FrameCount governs.
func (p Parameters) RunDuration() (d time.Duration, infinite bool, err error) {
	s := strings.TrimSpace(p.Duration)
	if s == "" {
		return 0, false, nil
	}
	if strings.EqualFold(s, DurationInfinite) {
		return 0, true, nil
	}
	d, err = time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid duration %q: %w", p.Duration, err)
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("duration must be positive, got %q", p.Duration)
	}
	return d, false, nil
}

// SampleRate is derived: subcarrier spacing times FFT length, in Hz.
func (p Parameters) SampleRate() float64 {
	return p.SubcarrierSpacingHz * float64(p.FFTLength)
}

// SymbolLength is the time-domain OFDM symbol length including cyclic prefix.
func (p Parameters) SymbolLength() int {
	return p.FFTLength + p.CyclicPrefix
}

// FrameLength is the frame length in samples: one header symbol plus the
// configured data symbols.
func (p Parameters) FrameLength() int {
	return (1 + p.SymbolsPerFrame) * p.SymbolLength()
}

// BitsPerSymbol is log2 of the data modulation order.
func (p Parameters) BitsPerSymbol() int {
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

// PilotsPerSymbol is the number of pilot subcarriers in each data symbol.
func (p Parameters) PilotsPerSymbol() int {
	n := 0
	for i := 0; i < p.Subcarriers; i += p.PilotSpacing {
		n++
	}
	return n
}

// DataSubcarriers is the number of non-pilot active subcarriers per symbol.
func (p Parameters) DataSubcarriers() int {
	return p.Subcarriers - p.PilotsPerSymbol()
}

// FrameCapacityBits is the number of coded bits one frame carries.
func (p Parameters) FrameCapacityBits() int {
	return p.DataSubcarriers() * p.BitsPerSymbol() * p.SymbolsPerFrame
}
