package sounder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sdrlink/plutosounder/internal/config"
	"github.com/sdrlink/plutosounder/internal/fec"
	"github.com/sdrlink/plutosounder/internal/link"
	"github.com/sdrlink/plutosounder/internal/logging"
	"github.com/sdrlink/plutosounder/internal/ofdm"
	"github.com/sdrlink/plutosounder/internal/radio"
	"github.com/sdrlink/plutosounder/internal/telemetry"
)

// budgetFactor bounds the total samples a bounded run may consume, so a
// receiver that never finds frames still terminates with its sentinel
// statistics instead of reading forever.
const budgetFactor = 4

// RxReport summarizes one receive run. The CFO trace holds the estimate in
// effect for each processed frame; mean and standard deviation summarize its
// convergence.
type RxReport struct {
	Frames      int           `json:"frames"`
	Searches    int           `json:"searches"`
	Connected   bool          `json:"connected"`
	CFOHz       float64       `json:"cfo_hz"`
	CFOTraceHz  []float64     `json:"cfo_trace_hz,omitempty"`
	CFOMeanHz   float64       `json:"cfo_mean_hz"`
	CFOStdDevHz float64       `json:"cfo_stddev_hz"`
	SyncPeak    float64       `json:"sync_peak"`
	Elapsed     time.Duration `json:"elapsed"`
	Link        link.Snapshot `json:"link"`
}

// Receiver consumes the sample stream, locks onto sounding frames, and
// scores the recovered transport blocks against the known pattern.
type Receiver struct {
	cfg      config.Parameters
	params   ofdm.Params
	port     radio.Port
	log      logging.Logger
	reporter telemetry.Reporter

	dec   *ofdm.Decoder
	sync  *ofdm.Synchronizer
	est   *ofdm.ChannelEstimator
	coder fec.Coder
	stats *link.Stats

	refBits  []byte
	next     int
	cfoTrace []float64
}

// NewReceiver builds the receive chain. reporter may be nil.
func NewReceiver(cfg config.Parameters, port radio.Port, reporter telemetry.Reporter, log logging.Logger) (*Receiver, error) {
	if log == nil {
		log = logging.Default()
	}
	params := ofdmParams(cfg)
	dec, err := ofdm.NewDecoder(params)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	sync, err := ofdm.NewSynchronizer(params)
	if err != nil {
		return nil, fmt.Errorf("build synchronizer: %w", err)
	}
	est, err := ofdm.NewChannelEstimator(params)
	if err != nil {
		return nil, fmt.Errorf("build channel estimator: %w", err)
	}
	num, den, err := cfg.CodeRatio()
	if err != nil {
		return nil, err
	}
	coder, err := fec.New(cfg.Coding, params.FrameCapacityBits(), num, den)
	if err != nil {
		return nil, fmt.Errorf("build coder: %w", err)
	}
	return &Receiver{
		cfg:      cfg,
		params:   params,
		port:     port,
		log:      log,
		reporter: reporter,
		dec:      dec,
		sync:     sync,
		est:      est,
		coder:    coder,
		stats:    link.NewStats(),
		refBits:  transportBits(cfg.Seed, coder.TransportBlockBits()),
		next:     -1,
	}, nil
}

// Stats exposes the live link counters.
func (r *Receiver) Stats() *link.Stats { return r.stats }

// Run consumes buffers until the context is cancelled, the configured frame
// count has been scored, or the sample budget for a bounded run is spent.
func (r *Receiver) Run(ctx context.Context) (RxReport, error) {
	frameLen := r.params.FrameLength()
	var budget int
	if r.cfg.FrameCount > 0 {
		budget = (r.cfg.FrameCount + 8) * frameLen * budgetFactor
	}

	start := time.Now()
	var report RxReport
	window := make([]complex64, 0, 2*frameLen+r.cfg.Radio.BufferLength)
	received := 0

	for {
		if ctx.Err() != nil {
			break
		}
		if r.cfg.FrameCount > 0 && report.Frames >= r.cfg.FrameCount {
			break
		}
		if budget > 0 && received >= budget {
			r.log.Warn("receive sample budget exhausted",
				logging.F("received", received),
				logging.F("frames", report.Frames))
			break
		}

		buf, err := r.port.Receive(ctx, r.cfg.Radio.BufferLength)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("receive: %w", err)
		}
		received += len(buf)
		window = append(window, buf...)
		window = r.consume(window, &report)
	}

	report.Connected = r.sync.Status() == ofdm.StatusConnected
	report.CFOHz = r.sync.CFOHz()
	if len(r.cfoTrace) > 0 {
		report.CFOTraceHz = r.cfoTrace
		report.CFOMeanHz = stat.Mean(r.cfoTrace, nil)
		if len(r.cfoTrace) > 1 {
			report.CFOStdDevHz = stat.StdDev(r.cfoTrace, nil)
		}
	}
	report.SyncPeak = r.sync.LastPeak()
	report.Elapsed = time.Since(start)
	report.Link = r.stats.Snapshot()
	r.log.Info("receive loop finished",
		logging.F("frames", report.Frames),
		logging.F("connected", report.Connected),
		logging.F("ber", report.Link.BER),
		logging.F("fer", report.Link.FER),
		logging.F("elapsed", report.Elapsed.String()))
	return report, nil
}

// consume processes as many frames as the window holds and returns the
// remainder.
func (r *Receiver) consume(window []complex64, report *RxReport) []complex64 {
	frameLen := r.params.FrameLength()
	symLen := r.params.SymbolLength()
	cp := r.params.CyclicPrefix

	for {
		if r.cfg.FrameCount > 0 && report.Frames >= r.cfg.FrameCount {
			return window
		}
		switch {
		case r.next >= 0:
			// A located frame waits for its tail.
			if len(window) < r.next+frameLen {
				return window
			}
			r.processFrame(window[r.next:r.next+frameLen], report)
			// Trim so the next header sits about one prefix in.
			window = window[r.next+frameLen-cp:]
			r.next = -1

		case r.sync.Status() == ofdm.StatusConnected:
			if len(window) < 2*cp+frameLen {
				return window
			}
			off, ok := r.sync.Track(window, cp, cp)
			if ok {
				r.next = off
				continue
			}
			// Lost frame: score it against the link and move on.
			if r.sync.Status() != ofdm.StatusConnected {
				r.stats.SetConnected(false)
				r.log.Warn("frame lock lost", logging.F("peak", r.sync.LastPeak()))
			} else {
				r.stats.RecordBlock(0, 0, false)
			}
			r.emit(report, nil)
			drop := frameLen
			if drop > len(window) {
				drop = len(window)
			}
			window = window[drop:]

		default: // searching
			if len(window) < frameLen+symLen {
				return window
			}
			found, off := r.sync.Search(window)
			report.Searches++
			if found {
				r.next = off
				r.stats.SetConnected(true)
				r.log.Info("frame lock acquired",
					logging.F("offset", off),
					logging.F("peak", r.sync.LastPeak()),
					logging.F("cfo_hz", r.sync.CFOHz()))
				continue
			}
			r.stats.SetConnected(false)
			r.emit(report, nil)
			// Keep one frame of overlap so a header split across buffers
			// is still found.
			return window[len(window)-frameLen:]
		}
	}
}

// processFrame runs one located frame through the demodulate, equalize,
// decode and scoring chain. frame starts at the header boundary.
func (r *Receiver) processFrame(frame []complex64, report *RxReport) {
	r.cfoTrace = append(r.cfoTrace, r.sync.CFOHz())
	corrected := frame
	if r.params.EnableCFO && r.sync.CFOHz() != 0 {
		corrected, _ = ofdm.Derotate(frame, r.sync.CFOHz(), r.params.SampleRate, 0)
	}
	grid, err := r.dec.Demodulate(corrected, r.cfg.TimingAdvance)
	if err != nil {
		r.log.Error("demodulate failed", logging.F("error", err.Error()))
		r.stats.RecordBlock(0, 0, false)
		r.emit(report, nil)
		report.Frames++
		return
	}
	eq, est, _, err := r.est.EqualizeFrame(grid)
	if err != nil {
		r.log.Error("equalize failed", logging.F("error", err.Error()))
		r.stats.RecordBlock(0, 0, false)
		r.emit(report, nil)
		report.Frames++
		return
	}
	info, crcOK, err := r.coder.Decode(r.dec.DataBits(eq))
	if err != nil {
		r.log.Error("decode failed", logging.F("error", err.Error()))
		r.stats.RecordBlock(0, 0, false)
		r.emit(report, nil)
		report.Frames++
		return
	}

	bitErrs := 0
	n := len(info)
	if len(r.refBits) < n {
		n = len(r.refBits)
	}
	for i := 0; i < n; i++ {
		if info[i] != r.refBits[i] {
			bitErrs++
		}
	}
	r.stats.RecordBlock(bitErrs, n, crcOK)
	r.emit(report, est)
	report.Frames++
}

// emit publishes one telemetry sample reflecting the current link state.
func (r *Receiver) emit(report *RxReport, est *ofdm.ChannelEstimate) {
	if r.reporter == nil {
		return
	}
	s := telemetry.Sample{
		Timestamp: time.Now(),
		Frame:     report.Frames,
		Connected: r.sync.Status() == ofdm.StatusConnected,
		SyncPeak:  r.sync.LastPeak(),
		CFOHz:     r.sync.CFOHz(),
		DriftSmp:  r.sync.Drift(),
		BER:       r.stats.BER(),
		RecentBER: r.stats.RecentBER(),
		FER:       r.stats.FER(),
	}
	if est != nil {
		s.ChannelMagDB = est.MagnitudeDB()
	}
	r.reporter.Report(s)
}
