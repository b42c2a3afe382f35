// Package telemetry carries per-frame sounding results from the receiver to
// interested consumers: a structured-log reporter and an HTTP hub with
// history and live streaming.
package telemetry

import "time"

// Sample is the telemetry of one processed receive frame.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Frame     int       `json:"frame"`

	Connected bool    `json:"connected"`
	SyncPeak  float64 `json:"sync_peak"`
	CFOHz     float64 `json:"cfo_hz"`
	DriftSmp  int     `json:"drift_samples"`

	BER       float64 `json:"ber"`
	RecentBER float64 `json:"recent_ber"`
	FER       float64 `json:"fer"`

	// ChannelMagDB is the estimated channel magnitude profile across the
	// active subcarriers. Empty while unconnected.
	ChannelMagDB []float64 `json:"channel_mag_db,omitempty"`
}

// Reporter consumes receive telemetry.
type Reporter interface {
	Report(Sample)
}

// MultiReporter fans samples out to several destinations.
type MultiReporter []Reporter

func (m MultiReporter) Report(s Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}
