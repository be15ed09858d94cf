// Package sim provides a software-in-the-loop multirotor for exercising
// the rescue engine without hardware. The vehicle implements every
// interface the engine consumes, so the whole control loop closes inside
// one process.
package sim

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/PossumXI/Asgard/Huginn/internal/rescue"
)

// VehicleConfig holds simulation parameters.
type VehicleConfig struct {
	// GPSRateHz controls how often a fresh GPS sample is published.
	GPSRateHz float64

	// HoverThrottle is the PWM value at which the model neither climbs
	// nor sinks.
	HoverThrottle float64

	// ClimbGainCMSPerPWM converts throttle above hover into climb rate.
	ClimbGainCMSPerPWM float64

	// SpeedGainCMSPerDeg converts pitch angle into forward speed.
	SpeedGainCMSPerDeg float64

	// WindNorthCMS and WindEastCMS push the craft regardless of attitude.
	WindNorthCMS float64
	WindEastCMS  float64

	NumSat int
}

// DefaultVehicleConfig returns a well-behaved 10 Hz GPS multirotor.
func DefaultVehicleConfig() VehicleConfig {
	return VehicleConfig{
		GPSRateHz:          10,
		HoverThrottle:      1275,
		ClimbGainCMSPerPWM: 4,
		SpeedGainCMSPerDeg: 40,
		NumSat:             14,
	}
}

// Vehicle is a point-mass multirotor with first-order speed responses.
// North/east positions are in cm relative to home at the origin.
type Vehicle struct {
	mu sync.RWMutex

	config VehicleConfig

	// State.
	northCM    float64
	eastCM     float64
	altitudeCM float64
	yawDeg     float64

	speedNorthCMS float64
	speedEastCMS  float64
	climbCMS      float64

	// Last commands applied.
	throttlePWM float64
	pitchDeg    float64
	yawRateDegS float64

	// GPS sampling.
	lastGPSSampleUS int64
	newSample       bool
	gpsHealthy      bool
	homeSet         bool

	// Flight state.
	armed           bool
	rescueMode      bool
	armingDisabled  bool
	disarmedBy      rescue.DisarmReason
	disarmCount     int
	crashed         bool
	impactG         float64
	pilotThrottle   float64
	receiving       bool
}

// NewVehicle creates an armed vehicle at the home point; PlaceAt moves it.
func NewVehicle(config VehicleConfig) *Vehicle {
	if config.GPSRateHz <= 0 {
		config.GPSRateHz = 10
	}
	return &Vehicle{
		config:        config,
		gpsHealthy:    true,
		homeSet:       true,
		armed:         true,
		receiving:     true,
		pilotThrottle: 1400,
		throttlePWM:   config.HoverThrottle,
	}
}

// PlaceAt positions the vehicle relative to home.
func (v *Vehicle) PlaceAt(northM, eastM, altitudeM float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.northCM = northM * 100
	v.eastCM = eastM * 100
	v.altitudeCM = altitudeM * 100
}

// SetHeading points the nose.
func (v *Vehicle) SetHeading(yawDeg float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.yawDeg = yawDeg
}

// SetRescueMode raises or drops the rescue flight mode flag.
func (v *Vehicle) SetRescueMode(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rescueMode = active
}

// SetReceiverSignal simulates RC link loss.
func (v *Vehicle) SetReceiverSignal(ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receiving = ok
}

// SetGPSHealthy simulates a GPS dropout.
func (v *Vehicle) SetGPSHealthy(ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gpsHealthy = ok
}

// Apply feeds the rescue outputs into the model for the next Step.
func (v *Vehicle) Apply(throttleNorm, pitchBiasCentiDeg, yawRateDegS float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.throttlePWM = 1000 + throttleNorm*1000
	v.pitchDeg = pitchBiasCentiDeg / 100
	v.yawRateDegS = yawRateDegS
}

// Step advances the physics by dt and publishes a GPS sample when one is
// due. nowUS is the same clock the engine runs on.
func (v *Vehicle) Step(dtS float64, nowUS int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.armed || v.crashed {
		v.impactG = 1.0
		return
	}

	// Heading follows the commanded yaw rate. The inner attitude loop
	// turns a positive command into rotation that closes the heading
	// error, which in this model's compass convention is decreasing yaw.
	v.yawDeg -= v.yawRateDegS * dtS
	for v.yawDeg < 0 {
		v.yawDeg += 360
	}
	for v.yawDeg >= 360 {
		v.yawDeg -= 360
	}

	// Forward speed chases the pitch command along the nose direction.
	targetSpeed := v.pitchDeg * v.config.SpeedGainCMSPerDeg
	yawRad := v.yawDeg * math.Pi / 180
	targetNorth := targetSpeed*math.Cos(yawRad) + v.config.WindNorthCMS
	targetEast := targetSpeed*math.Sin(yawRad) + v.config.WindEastCMS
	const tau = 0.5
	v.speedNorthCMS += (targetNorth - v.speedNorthCMS) * dtS / tau
	v.speedEastCMS += (targetEast - v.speedEastCMS) * dtS / tau

	// Climb rate chases the throttle offset from hover.
	targetClimb := (v.throttlePWM - v.config.HoverThrottle) * v.config.ClimbGainCMSPerPWM
	v.climbCMS += (targetClimb - v.climbCMS) * dtS / tau

	v.northCM += v.speedNorthCMS * dtS
	v.eastCM += v.speedEastCMS * dtS
	v.altitudeCM += v.climbCMS * dtS

	// Ground contact.
	v.impactG = 1.0
	if v.altitudeCM <= 0 {
		v.altitudeCM = 0
		if v.climbCMS < -20 {
			v.impactG = 3.0
			v.crashed = true
		}
		v.climbCMS = 0
	}

	if v.gpsHealthy && float64(nowUS-v.lastGPSSampleUS) >= 1e6/v.config.GPSRateHz {
		v.lastGPSSampleUS = nowUS
		v.newSample = true
	}
}

// DistanceToHomeM returns the ground distance to home in metres.
func (v *Vehicle) DistanceToHomeM() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return floats.Norm([]float64{v.northCM, v.eastCM}, 2) / 100
}

// AltitudeM returns the current altitude in metres.
func (v *Vehicle) AltitudeM() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.altitudeCM / 100
}

// Crashed reports whether the model hit the ground hard.
func (v *Vehicle) Crashed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.crashed
}

// DisarmCount returns how many times Disarm was called.
func (v *Vehicle) DisarmCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.disarmCount
}

// GPSSource implementation.

func (v *Vehicle) Healthy() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gpsHealthy
}

func (v *Vehicle) NumSat() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.gpsHealthy {
		return 0
	}
	return v.config.NumSat
}

func (v *Vehicle) HasFix() bool { return v.Healthy() }

func (v *Vehicle) HasHomeFix() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.homeSet
}

func (v *Vehicle) DistanceToHomeCM() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return math.Hypot(v.northCM, v.eastCM)
}

// DirectionToHomeDeci is the bearing from the craft to home.
func (v *Vehicle) DirectionToHomeDeci() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bearing := math.Atan2(-v.eastCM, -v.northCM) * 180 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	return bearing * 10
}

func (v *Vehicle) GroundSpeedCMS() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return math.Hypot(v.speedNorthCMS, v.speedEastCMS)
}

func (v *Vehicle) NewSampleAvailable() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.newSample
}

func (v *Vehicle) ClearNewSample() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.newSample = false
}

// AltitudeSource implementation.

func (v *Vehicle) EstimatedAltitudeCM() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.altitudeCM
}

func (v *Vehicle) AltitudeOffsetApplied() bool { return true }

// AttitudeSource implementation.

func (v *Vehicle) YawDeciDeg() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.yawDeg * 10
}

func (v *Vehicle) CosTiltAngle() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return math.Cos(v.pitchDeg * math.Pi / 180)
}

func (v *Vehicle) Accel() (x, y, z float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return 0, 0, v.impactG
}

func (v *Vehicle) AccelOneG() float64 { return 1 }

// RCSource implementation.

func (v *Vehicle) ThrottleCommand() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pilotThrottle
}

func (v *Vehicle) IsReceivingSignal() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.receiving
}

func (v *Vehicle) YawReversed() bool { return false }

func (v *Vehicle) MinCheck() float64 { return 1050 }

// Actuator implementation.

func (v *Vehicle) Armed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.armed
}

func (v *Vehicle) CrashRecoveryActive() bool { return false }

func (v *Vehicle) SetArmingDisabled(reason rescue.DisarmReason) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.armingDisabled = true
}

func (v *Vehicle) Disarm(reason rescue.DisarmReason) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.armed = false
	v.disarmedBy = reason
	v.disarmCount++
}

// ModeSource implementation.

func (v *Vehicle) RescueModeActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.rescueMode
}

// Deps bundles the vehicle into the engine's dependency set.
func (v *Vehicle) Deps() rescue.Deps {
	return rescue.Deps{
		GPS:      v,
		Altitude: v,
		Attitude: v,
		RC:       v,
		Actuator: v,
		Mode:     v,
	}
}
