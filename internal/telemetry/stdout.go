package telemetry

import "github.com/sdrlink/plutosounder/internal/logging"

// LogReporter writes each sample to the structured log.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a reporter over the given logger, defaulting to the
// process logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger}
}

func (r LogReporter) Report(s Sample) {
	fields := []logging.Field{
		logging.F("frame", s.Frame),
		logging.F("connected", s.Connected),
		logging.F("sync_peak", s.SyncPeak),
		logging.F("ber", s.BER),
		logging.F("recent_ber", s.RecentBER),
		logging.F("fer", s.FER),
	}
	if s.Connected {
		fields = append(fields,
			logging.F("cfo_hz", s.CFOHz),
			logging.F("drift_samples", s.DriftSmp),
		)
	}
	r.logger.Info("frame processed", fields...)
}
