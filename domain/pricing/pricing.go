// Package pricing provides the pure two-factor pricing model: a time-of-use
// base rate and a congestion multiplier in basis points. All functions are
// deterministic - same input always produces same output.
package pricing

import "time"

// Scale is the basis-point denominator: a factor of 10000 is 1.0x.
const Scale = 10_000

// Default congestion factor bounds accepted from reporters.
const (
	MinFactorBps = 5_000  // 0.5x
	MaxFactorBps = 50_000 // 5.0x
)

// Band identifies a time-of-use pricing band.
type Band string

const (
	BandOffPeak  Band = "off_peak"
	BandStandard Band = "standard"
	BandPeak     Band = "peak"
)

// Bands partitions the 24-hour cycle into off-peak, standard, and peak
// windows with a fixed base rate each (value type). Hours are half-open:
// standard runs [StandardStartHour, PeakStartHour), peak runs
// [PeakStartHour, PeakEndHour), everything else is off-peak.
type Bands struct {
	StandardStartHour int
	PeakStartHour     int
	PeakEndHour       int

	OffPeakRate  int64 // cents per usage unit
	StandardRate int64
	PeakRate     int64
}

// DefaultBands returns the default time-of-use partition: standard from 07:00,
// peak from 17:00 to 21:00, off-peak overnight.
func DefaultBands() Bands {
	return Bands{
		StandardStartHour: 7,
		PeakStartHour:     17,
		PeakEndHour:       21,
		OffPeakRate:       60,
		StandardRate:      100,
		PeakRate:          180,
	}
}

// BandAt returns the band in effect at the given time.
// This is a PURE function.
func (b Bands) BandAt(t time.Time) Band {
	h := t.Hour()
	switch {
	case h >= b.PeakStartHour && h < b.PeakEndHour:
		return BandPeak
	case h >= b.StandardStartHour:
		return BandStandard
	default:
		return BandOffPeak
	}
}

// RateAt returns the base rate in effect at the given time.
// This is a PURE function.
func (b Bands) RateAt(t time.Time) int64 {
	switch b.BandAt(t) {
	case BandPeak:
		return b.PeakRate
	case BandStandard:
		return b.StandardRate
	default:
		return b.OffPeakRate
	}
}

// CongestionThreshold maps a load floor to a multiplier.
type CongestionThreshold struct {
	MinLoadPct int   // inclusive lower bound of the load band
	FactorBps  int64 // multiplier applied within the band
}

// CongestionLadder is an ordered set of thresholds, highest load first.
type CongestionLadder []CongestionThreshold

// DefaultLadder returns the default load-to-multiplier mapping.
func DefaultLadder() CongestionLadder {
	return CongestionLadder{
		{MinLoadPct: 90, FactorBps: 18_000}, // 1.8x
		{MinLoadPct: 80, FactorBps: 14_000}, // 1.4x
		{MinLoadPct: 70, FactorBps: 11_500}, // 1.15x
		{MinLoadPct: 0, FactorBps: Scale},   // 1.0x
	}
}

// FactorFor maps an observed load percentage (0-100) to a basis-point
// congestion multiplier. Loads outside the range are clamped.
// This is a PURE function.
func (l CongestionLadder) FactorFor(loadPct int) int64 {
	if loadPct < 0 {
		loadPct = 0
	}
	if loadPct > 100 {
		loadPct = 100
	}
	for _, t := range l {
		if loadPct >= t.MinLoadPct {
			return t.FactorBps
		}
	}
	return Scale
}

// EffectiveRate applies a basis-point congestion factor to a base rate.
// This is a PURE function.
func EffectiveRate(baseRate, factorBps int64) int64 {
	return baseRate * factorBps / Scale
}

// Cost prices a usage delta at the effective rate.
// This is a PURE function.
func Cost(usageDelta, baseRate, factorBps int64) int64 {
	return usageDelta * EffectiveRate(baseRate, factorBps)
}

// ValidFactor reports whether a congestion factor is inside the accepted
// default bounds.
// This is a PURE function.
func ValidFactor(factorBps int64) bool {
	return factorBps >= MinFactorBps && factorBps <= MaxFactorBps
}
