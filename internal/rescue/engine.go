package rescue

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// PWM range used to normalize throttle for the mixer.
const (
	pwmRangeMin = 1000
	pwmRangeMax = 2000
)

// Deps bundles the external interfaces the engine consumes. All of them
// are read each tick; none may block.
type Deps struct {
	GPS      GPSSource
	Altitude AltitudeSource
	Attitude AttitudeSource
	RC       RCSource
	Actuator Actuator
	Mode     ModeSource
	Logger   *logrus.Logger
}

// Engine owns the whole rescue subsystem: sensor view, intent, phase
// machine, controllers and supervisor. It is driven cooperatively by the
// flight loop through Update and never spawns goroutines of its own.
type Engine struct {
	cfg Config

	gps      GPSSource
	altitude AltitudeSource
	attitude AttitudeSource
	rc       RCSource
	actuator Actuator
	mode     ModeSource

	logger *logrus.Logger

	sensors SensorView
	intent  IntentModel
	phase   Phase
	failure Failure

	// startedLow is latched once at phase entry so the climb/descend
	// decision cannot flap while crossing the return altitude.
	startedLow bool

	ctl   controllerState
	sup   supervisorState
	debug debugState

	// Published outputs. Held between GPS samples.
	pitchBias      float64 // centi-degrees
	rollBias       float64 // centi-degrees
	yawRate        float64 // deg/s
	rescueThrottle float64 // PWM units

	// magForceDisable is raised once when a stalled fly-home suggests a
	// bad compass heading.
	magForceDisable bool

	// isAvailable is read asynchronously by the OSD.
	isAvailable atomic.Bool

	// Availability probe memory.
	probeLastTickUS int64
	probeLowSats    int8
}

// NewEngine builds a rescue engine around the supplied interfaces.
func NewEngine(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{
		cfg:      cfg,
		gps:      deps.GPS,
		altitude: deps.Altitude,
		attitude: deps.Attitude,
		rc:       deps.RC,
		actuator: deps.Actuator,
		mode:     deps.Mode,
		logger:   logger,
		phase:    PhaseIdle,
		failure:  FailureHealthy,
	}
	e.intent.UpdateYaw = true
	return e
}

// Update runs one tick of the rescue subsystem: sensor refresh, phase
// machine, sanity supervision, position controller, availability probe.
// nowUS is a monotonic microsecond timestamp. The GPS new-sample flag is
// consumed at the end of the tick.
func (e *Engine) Update(nowUS int64) {
	newSample := e.gps.NewSampleAvailable()

	e.sensors.refresh(nowUS, newSample, e.phase == PhaseLanding, &e.cfg, e.altitude, e.attitude, e.gps)

	e.advancePhase(nowUS, newSample)
	e.performSanityChecks(nowUS)
	e.attainPosition(newSample)

	e.updateAvailability(nowUS)

	if newSample {
		e.gps.ClearNewSample()
	}
}

// updateAvailability is the 1 Hz OSD-facing readiness probe. It tracks
// its own low-sat counter and never influences the controllers.
func (e *Engine) updateAvailability(nowUS int64) {
	if nowUS-e.probeLastTickUS < slowTickIntervalUS {
		return
	}
	e.probeLastTickUS = nowUS

	if !e.gps.Healthy() || !e.gps.HasHomeFix() {
		e.isAvailable.Store(false)
		return
	}

	if e.gps.NumSat() < e.cfg.MinSats {
		if e.probeLowSats < 2 {
			e.probeLowSats++
		}
	} else if e.probeLowSats > 0 {
		e.probeLowSats--
	}

	e.isAvailable.Store(e.probeLowSats < 2 && e.gps.HasFix())
}

// Phase returns the current rescue phase.
func (e *Engine) Phase() Phase { return e.phase }

// FailureReason returns the current failure classification.
func (e *Engine) FailureReason() Failure { return e.failure }

// YawRateDegS is the commanded yaw rate in degrees per second.
func (e *Engine) YawRateDegS() float64 { return e.yawRate }

// PitchBiasCentiDeg is the additive pitch setpoint for the angle-mode PID.
func (e *Engine) PitchBiasCentiDeg() float64 { return e.pitchBias }

// RollBiasCentiDeg is the additive roll setpoint for the angle-mode PID.
func (e *Engine) RollBiasCentiDeg() float64 { return e.rollBias }

// ThrottleRaw is the rescue throttle in PWM units, pilot throttle in Idle.
func (e *Engine) ThrottleRaw() float64 { return e.rescueThrottle }

// ThrottleOutNormalized maps the rescue throttle onto [0, 1] for the
// mixer, anchored at the stick-low threshold.
func (e *Engine) ThrottleOutNormalized() float64 {
	lo := e.rc.MinCheck()
	if lo < pwmRangeMin {
		lo = pwmRangeMin
	}
	span := pwmRangeMax - lo
	if span <= 0 {
		return 0
	}
	return clampF((e.rescueThrottle-lo)/span, 0, 1)
}

// IsAvailable reports whether a rescue could start now. Safe to call from
// outside the flight loop.
func (e *Engine) IsAvailable() bool { return e.isAvailable.Load() }

// IsConfigured reports whether the configuration is usable for a rescue.
func (e *Engine) IsConfigured() bool { return e.cfg.Validate() == nil }

// IsDisabled reports whether the rescue cannot run because no home point
// has been recorded.
func (e *Engine) IsDisabled() bool { return !e.gps.HasHomeFix() }

// MagForceDisabled reports whether the engine has demanded the compass be
// dropped from the heading estimate.
func (e *Engine) MagForceDisabled() bool { return e.magForceDisable }

// Sensors returns a copy of the current sensor view, for telemetry.
func (e *Engine) Sensors() SensorView { return e.sensors }

// Intent returns a copy of the current intent, for telemetry.
func (e *Engine) Intent() IntentModel { return e.intent }
