package rescue

import (
	"github.com/sirupsen/logrus"
)

// Phase is the rescue state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitialize
	PhaseAttainAlt
	PhaseRotate
	PhaseFlyHome
	PhaseDescent
	PhaseLanding
	PhaseAbort
	PhaseComplete
	PhaseDoNothing
)

// String returns string representation of Phase
func (p Phase) String() string {
	phases := []string{
		"Idle", "Initialize", "AttainAlt", "Rotate", "FlyHome",
		"Descent", "Landing", "Abort", "Complete", "DoNothing",
	}
	if int(p) < len(phases) {
		return phases[p]
	}
	return "Unknown"
}

// Failure categorizes why a rescue is unhealthy. Failures are values, not
// errors: the supervisor maps them to continue, hold, or abort.
type Failure int

const (
	FailureHealthy Failure = iota
	FailureFlyaway
	FailureGpsLost
	FailureLowSats
	FailureCrashFlipDetected
	FailureStalled
	FailureTooClose
	FailureNoHomePoint
)

// String returns string representation of Failure
func (f Failure) String() string {
	failures := []string{
		"Healthy", "Flyaway", "GPS Lost", "Low Sats",
		"Crash Flip Detected", "Stalled", "Too Close", "No Home Point",
	}
	if int(f) < len(failures) {
		return failures[f]
	}
	return "Unknown"
}

// impactThresholdG is the accelerometer magnitude that counts as ground
// contact during landing.
const impactThresholdG = 2.0

// setPhase moves the machine and logs the transition.
func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	e.logger.WithFields(logrus.Fields{
		"from": e.phase.String(),
		"to":   p.String(),
	}).Info("Rescue phase transition")
	e.phase = p
}

// stop drives the machine back to Idle and clears the failure. Sample
// history resets only on the transition, not on every idle tick.
func (e *Engine) stop() {
	if e.phase != PhaseIdle {
		e.sensors.reset()
	}
	e.setPhase(PhaseIdle)
	e.failure = FailureHealthy
}

// advancePhase runs the per-tick phase machine step.
func (e *Engine) advancePhase(nowUS int64, newSample bool) {
	if !e.mode.RescueModeActive() {
		e.stop()
		e.idleTasks(newSample)
		return
	}

	if e.phase == PhaseIdle {
		e.setPhase(PhaseInitialize)
		e.resetControllerMemory()
		e.supervisorInit(nowUS)
	}

	switch e.phase {
	case PhaseInitialize:
		e.initializePhase()
	case PhaseAttainAlt:
		if newSample {
			e.attainAltPhase()
		}
	case PhaseRotate:
		if newSample {
			e.rotatePhase()
		}
	case PhaseFlyHome:
		if newSample {
			e.flyHomePhase()
		}
	case PhaseDescent:
		if newSample {
			e.descentPhase()
		}
	case PhaseLanding:
		e.landingPhase(newSample)
	case PhaseComplete:
		e.stop()
	case PhaseAbort:
		e.actuator.SetArmingDisabled(DisarmReasonGpsRescue)
		e.actuator.Disarm(DisarmReasonGpsRescue)
		e.logger.WithField("failure", e.failure.String()).Warn("Rescue aborted, disarming")
		e.stop()
	case PhaseDoNothing:
		// Held by the supervisor; outputs are frozen by the controller.
	}
}

// idleTasks runs while the rescue mode is inactive. It maintains the max
// altitude record and keeps the return altitude seeded so activation can
// use the latest sample.
func (e *Engine) idleTasks(newSample bool) {
	if !e.actuator.Armed() {
		e.sensors.MaxAltitudeCM = 0
		return
	}

	if e.altitude.AltitudeOffsetApplied() {
		e.sensors.trackMaxAltitude()
	}

	if !newSample {
		return
	}

	e.intent.TargetAltitudeCM = e.sensors.CurrentAltitudeCM
	e.intent.DescentDistanceM = clampF(e.sensors.DistanceToHomeM, 10, e.cfg.DescentDistanceM)

	switch e.cfg.AltMode {
	case AltitudeModeFixed:
		e.intent.ReturnAltitudeCM = e.cfg.InitialAltitudeM * 100
	case AltitudeModeCurrent:
		e.intent.ReturnAltitudeCM = e.sensors.CurrentAltitudeCM + e.cfg.RescueAltitudeBufferM*100
	default:
		e.intent.ReturnAltitudeCM = e.sensors.MaxAltitudeCM + e.cfg.RescueAltitudeBufferM*100
	}
}

// initializePhase decides how the rescue begins: land in place when too
// close to home, otherwise climb to the return altitude first.
func (e *Engine) initializePhase() {
	if !e.gps.HasHomeFix() {
		e.failure = FailureNoHomePoint
		return
	}

	if e.sensors.DistanceToHomeM < e.cfg.MinRescueDistanceM {
		e.intent.TargetAltitudeCM = e.sensors.CurrentAltitudeCM - e.sensors.DescendStepCM
		e.intent.restrict(e.cfg.AngleDeg/2, 0)
		e.setPhase(PhaseLanding)
		return
	}

	e.intent.restrict(e.cfg.AngleDeg/2, 0)
	e.intent.UpdateYaw = true
	e.startedLow = e.sensors.CurrentAltitudeCM <= e.intent.ReturnAltitudeCM
	e.setPhase(PhaseAttainAlt)
}

// attainAltPhase slews the target altitude toward the return altitude and
// hands over to Rotate once the craft crosses it.
func (e *Engine) attainAltPhase() {
	if e.startedLow {
		if e.intent.TargetAltitudeCM < e.intent.ReturnAltitudeCM {
			e.intent.TargetAltitudeCM += e.sensors.AscendStepCM
		}
		if e.sensors.CurrentAltitudeCM >= e.intent.ReturnAltitudeCM {
			e.intent.TargetAltitudeCM = e.intent.ReturnAltitudeCM
			e.setPhase(PhaseRotate)
		}
	} else {
		if e.intent.TargetAltitudeCM > e.intent.ReturnAltitudeCM {
			e.intent.TargetAltitudeCM -= e.sensors.DescendStepCM
		}
		if e.sensors.CurrentAltitudeCM <= e.intent.ReturnAltitudeCM {
			e.intent.TargetAltitudeCM = e.intent.ReturnAltitudeCM
			e.setPhase(PhaseRotate)
		}
	}
}

// rotatePhase points the nose home before committing to forward flight.
func (e *Engine) rotatePhase() {
	if e.sensors.AbsErrorAngleDeg < 60 {
		e.intent.TargetVelocityCMS = e.cfg.GroundspeedCMS
		e.intent.PitchAngleLimitDeg = e.cfg.AngleDeg
	}
	if e.sensors.AbsErrorAngleDeg < 15 {
		e.intent.RollAngleLimitDeg = e.cfg.AngleDeg
		e.intent.SecondsFailing = 0
		e.setPhase(PhaseFlyHome)
	}
}

// flyHomePhase cruises toward home until inside the descent radius.
func (e *Engine) flyHomePhase() {
	if e.sensors.DistanceToHomeM <= e.intent.DescentDistanceM {
		e.intent.SecondsFailing = 0
		e.setPhase(PhaseDescent)
	}
}

// descentPhase descends while closing the remaining distance, tapering
// velocity and roll authority to zero inside the final two metres.
func (e *Engine) descentPhase() {
	if e.sensors.CurrentAltitudeCM < e.cfg.TargetLandingAltitudeM*100 {
		e.intent.restrict(e.cfg.AngleDeg/2, 0)
		e.intent.TargetAltitudeCM -= e.sensors.DescendStepCM
		e.setPhase(PhaseLanding)
		return
	}

	d := e.sensors.DistanceToHomeM - 2
	if d < 0 {
		d = 0
	}
	p := clampF(d/e.intent.DescentDistanceM, 0, 1)

	e.intent.TargetAltitudeCM -= e.sensors.DescendStepCM * (1 + p)
	e.intent.TargetVelocityCMS = e.cfg.GroundspeedCMS * p
	e.intent.RollAngleLimitDeg = e.cfg.AngleDeg * p
}

// landingPhase keeps lowering the target until the accelerometer reports
// ground contact, then disarms.
func (e *Engine) landingPhase(newSample bool) {
	if newSample {
		e.intent.TargetAltitudeCM -= e.sensors.DescendStepCM
	}

	if e.sensors.AccMagnitudeG > impactThresholdG {
		e.actuator.SetArmingDisabled(DisarmReasonGpsRescue)
		e.actuator.Disarm(DisarmReasonGpsRescue)
		e.logger.WithField("acc_g", e.sensors.AccMagnitudeG).Info("Touchdown detected, disarming")
		e.setPhase(PhaseComplete)
	}
}
