package rescue

import (
	"github.com/sirupsen/logrus"
)

// Supervisor memory. Counters are in whole seconds, advanced by the 1 Hz
// slow tick and clamped to their documented ranges.
type supervisorState struct {
	lastSlowTickUS      int64
	prevAltitudeCM      float64
	secondsLowSats      int8
	secondsDoingNothing int8
}

const (
	slowTickIntervalUS = 1_000_000

	stallFailLimit     = 20
	climbFailLimit     = 10
	lowSatsFailLimit   = 10
	doNothingFailLimit = 10
)

// supervisorInit primes the supervisor when a rescue starts. The low-sat
// counter starts half-expired so a marginal constellation fails fast.
func (e *Engine) supervisorInit(nowUS int64) {
	e.sup.lastSlowTickUS = nowUS
	e.sup.prevAltitudeCM = e.sensors.CurrentAltitudeCM
	e.sup.secondsLowSats = 5
	e.sup.secondsDoingNothing = 0
}

// performSanityChecks watches for conditions that make the rescue unsafe
// and maps any failure through the configured policy.
func (e *Engine) performSanityChecks(nowUS int64) {
	if e.phase == PhaseIdle {
		return
	}

	// Tick-rate checks: these need to act within one loop iteration.
	if e.actuator.CrashRecoveryActive() {
		e.failure = FailureCrashFlipDetected
	} else if !e.sensors.Healthy {
		e.failure = FailureGpsLost
	}

	if nowUS-e.sup.lastSlowTickUS >= slowTickIntervalUS {
		e.sup.lastSlowTickUS = nowUS
		e.slowSanityTick()
	}

	if e.failure != FailureHealthy {
		e.applySanityPolicy()
	}
}

// slowSanityTick maintains the once-per-second progress counters.
func (e *Engine) slowSanityTick() {
	switch e.phase {
	case PhaseFlyHome:
		if e.sensors.VelocityToHomeCMS < 0.5*e.intent.TargetVelocityCMS {
			e.intent.SecondsFailing++
		} else if e.intent.SecondsFailing > 0 {
			e.intent.SecondsFailing--
		}
		if e.intent.SecondsFailing > stallFailLimit {
			e.intent.SecondsFailing = stallFailLimit
		}
		if e.intent.SecondsFailing == stallFailLimit {
			// A compass fault can hold the craft on a wrong heading; drop
			// the magnetometer once before declaring the rescue dead.
			if e.cfg.UseMag && !e.magForceDisable {
				e.magForceDisable = true
				e.intent.SecondsFailing = 0
				e.logger.Warn("No progress toward home, disabling magnetometer")
			} else if e.sensors.VelocityToHomeCMS < 0 {
				e.failure = FailureFlyaway
			} else {
				e.failure = FailureStalled
			}
		}

	case PhaseAttainAlt, PhaseDescent, PhaseLanding:
		gained := e.sensors.CurrentAltitudeCM - e.sup.prevAltitudeCM
		climbing := e.phase == PhaseAttainAlt && e.startedLow
		failing := false
		if climbing {
			failing = gained < 0.5*e.cfg.AscendRateCMS
		} else {
			failing = -gained < 0.5*e.cfg.DescendRateCMS
		}
		if failing {
			e.intent.SecondsFailing++
		} else if e.intent.SecondsFailing > 0 {
			e.intent.SecondsFailing--
		}
		if e.intent.SecondsFailing > climbFailLimit {
			e.intent.SecondsFailing = climbFailLimit
		}
		if e.intent.SecondsFailing == climbFailLimit {
			e.logger.WithFields(logrus.Fields{
				"phase":    e.phase.String(),
				"climbing": climbing,
			}).Warn("Altitude not tracking, aborting rescue")
			e.setPhase(PhaseAbort)
		}

	case PhaseDoNothing:
		e.sup.secondsDoingNothing++
		if e.sup.secondsDoingNothing > doNothingFailLimit {
			e.sup.secondsDoingNothing = doNothingFailLimit
		}
		if e.sup.secondsDoingNothing == doNothingFailLimit {
			e.setPhase(PhaseAbort)
		}
	}

	if e.gps.NumSat() < e.cfg.MinSats {
		e.sup.secondsLowSats++
	} else if e.sup.secondsLowSats > 0 {
		e.sup.secondsLowSats--
	}
	if e.sup.secondsLowSats > lowSatsFailLimit {
		e.sup.secondsLowSats = lowSatsFailLimit
	}
	if e.sup.secondsLowSats == lowSatsFailLimit {
		e.failure = FailureLowSats
	}

	e.sup.prevAltitudeCM = e.sensors.CurrentAltitudeCM
}

// applySanityPolicy chooses between aborting and holding position given
// the failure, the sanity policy, and whether the receiver still has
// signal.
func (e *Engine) applySanityPolicy() {
	if e.phase == PhaseAbort || e.phase == PhaseComplete {
		return
	}

	next := PhaseDoNothing
	switch e.cfg.SanityChecks {
	case SanityOn:
		next = PhaseAbort
	case SanityFailsafeOnly:
		if !e.rc.IsReceivingSignal() {
			next = PhaseAbort
		}
	case SanityOff:
	}

	if e.phase != next {
		e.logger.WithFields(logrus.Fields{
			"failure": e.failure.String(),
			"action":  next.String(),
		}).Warn("Rescue sanity failure")
	}
	e.setPhase(next)
}
