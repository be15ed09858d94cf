// Package estimate fuses barometer and GPS altitude into a single
// estimate with a small Kalman filter. The rescue engine consumes the
// output through its AltitudeSource interface.
package estimate

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// stateDim is [altitude_cm, climb_rate_cm_s].
const stateDim = 2

// MeasurementSource identifies which sensor produced an observation.
type MeasurementSource int

const (
	SourceBarometer MeasurementSource = iota
	SourceGPS
)

// String returns string representation of MeasurementSource
func (ms MeasurementSource) String() string {
	sources := []string{"Barometer", "GPS"}
	if int(ms) < len(sources) {
		return sources[ms]
	}
	return "Unknown"
}

// FilterConfig holds altitude filter parameters.
type FilterConfig struct {
	// Process noise on altitude and climb rate.
	AltitudeNoise  float64
	ClimbRateNoise float64

	// Measurement noise per source, in cm².
	BaroVariance float64
	GPSVariance  float64
}

// DefaultFilterConfig returns tuned values for a multirotor barometer and
// a consumer GPS.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		AltitudeNoise:  1.0,
		ClimbRateNoise: 10.0,
		BaroVariance:   900,   // ~30 cm baro sigma
		GPSVariance:    40000, // ~2 m GPS vertical sigma
	}
}

// AltitudeFilter is a two-state Kalman filter over altitude and climb
// rate. It implements the rescue engine's AltitudeSource.
type AltitudeFilter struct {
	mu sync.RWMutex

	state      *mat.VecDense
	covariance *mat.SymDense
	config     FilterConfig

	// offsetCM re-references the estimate to the arming position.
	offsetCM      float64
	offsetApplied bool

	lastUpdateUS int64
	updateCount  uint64
}

// NewAltitudeFilter creates a filter with high initial uncertainty.
func NewAltitudeFilter(config FilterConfig) *AltitudeFilter {
	af := &AltitudeFilter{
		state:      mat.NewVecDense(stateDim, nil),
		covariance: mat.NewSymDense(stateDim, nil),
		config:     config,
	}
	af.Reset()
	return af
}

// Reset zeroes the state and restores the initial uncertainty.
func (af *AltitudeFilter) Reset() {
	af.mu.Lock()
	defer af.mu.Unlock()

	for i := 0; i < stateDim; i++ {
		af.state.SetVec(i, 0)
		af.covariance.SetSym(i, i, 1e6)
	}
	af.offsetCM = 0
	af.offsetApplied = false
	af.lastUpdateUS = 0
	af.updateCount = 0
}

// SetGroundReference latches the current estimate as zero altitude.
// Called by the arming path when the craft is on the ground.
func (af *AltitudeFilter) SetGroundReference() {
	af.mu.Lock()
	defer af.mu.Unlock()
	af.offsetCM = af.state.AtVec(0)
	af.offsetApplied = true
}

// Observe folds one altitude measurement into the estimate. nowUS drives
// the prediction step between observations.
func (af *AltitudeFilter) Observe(source MeasurementSource, altitudeCM float64, nowUS int64) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.lastUpdateUS != 0 && nowUS > af.lastUpdateUS {
		af.predict(float64(nowUS-af.lastUpdateUS) / 1e6)
	}
	af.lastUpdateUS = nowUS

	variance := af.config.BaroVariance
	if source == SourceGPS {
		variance = af.config.GPSVariance
	}
	af.correct(altitudeCM, variance)
	af.updateCount++
}

// predict advances the state by dt seconds: altitude integrates climb
// rate, covariance grows by the process noise.
func (af *AltitudeFilter) predict(dtS float64) {
	f := mat.NewDense(stateDim, stateDim, []float64{
		1, dtS,
		0, 1,
	})

	var predicted mat.VecDense
	predicted.MulVec(f, af.state)
	af.state.CopyVec(&predicted)

	var temp, cov mat.Dense
	temp.Mul(f, af.covariance)
	cov.Mul(&temp, f.T())

	af.covariance.SetSym(0, 0, cov.At(0, 0)+af.config.AltitudeNoise*dtS)
	af.covariance.SetSym(0, 1, cov.At(0, 1))
	af.covariance.SetSym(1, 1, cov.At(1, 1)+af.config.ClimbRateNoise*dtS)
}

// correct applies a scalar altitude observation with the given variance.
func (af *AltitudeFilter) correct(altitudeCM, variance float64) {
	// H = [1 0]: the measurement observes altitude directly, so the
	// innovation covariance is scalar and inversion is a division.
	innovation := altitudeCM - af.state.AtVec(0)
	s := af.covariance.At(0, 0) + variance

	k0 := af.covariance.At(0, 0) / s
	k1 := af.covariance.At(1, 0) / s

	af.state.SetVec(0, af.state.AtVec(0)+k0*innovation)
	af.state.SetVec(1, af.state.AtVec(1)+k1*innovation)

	p00 := af.covariance.At(0, 0)
	p01 := af.covariance.At(0, 1)
	p11 := af.covariance.At(1, 1)
	af.covariance.SetSym(0, 0, (1-k0)*p00)
	af.covariance.SetSym(0, 1, (1-k0)*p01)
	af.covariance.SetSym(1, 1, p11-k1*p01)
}

// EstimatedAltitudeCM returns the fused altitude relative to the ground
// reference when one is set.
func (af *AltitudeFilter) EstimatedAltitudeCM() float64 {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.state.AtVec(0) - af.offsetCM
}

// ClimbRateCMS returns the estimated vertical speed.
func (af *AltitudeFilter) ClimbRateCMS() float64 {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.state.AtVec(1)
}

// AltitudeOffsetApplied reports whether the estimate is referenced to the
// arming position.
func (af *AltitudeFilter) AltitudeOffsetApplied() bool {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.offsetApplied
}

// UpdateCount returns the number of observations folded in.
func (af *AltitudeFilter) UpdateCount() uint64 {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.updateCount
}
