package rescue

// Controller memory. Everything here is zeroed when a rescue starts so a
// previous run cannot leak into the next one.
type controllerState struct {
	// Velocity (pitch) controller.
	prevVelErrCMS float64
	prevVelD      float64
	prevPitch     float64
	velI          float64

	// Altitude (throttle) controller. The derivative runs through three
	// stages of state: raw D for the jerk term, the moving-average input,
	// and the first-order smoothed output.
	prevAltErrM  float64
	throttleI    float64
	prevThrDRaw  float64
	prevThrDIn   float64
	thrDSmoothed float64
}

const (
	velocityIntegralLimit = 1000
	throttleIntegralLimit = 200
	yawRateLimitDegS      = 90
)

// resetControllerMemory zeroes all accumulated controller state.
func (e *Engine) resetControllerMemory() {
	e.ctl = controllerState{}
}

// attainPosition computes the setpoint overrides for the current tick.
// Outputs hold between GPS samples; Idle, Initialize and DoNothing bypass
// the PIDs entirely with safe values.
func (e *Engine) attainPosition(newSample bool) {
	switch e.phase {
	case PhaseIdle:
		e.pitchBias = 0
		e.rollBias = 0
		e.yawRate = 0
		e.rescueThrottle = e.rc.ThrottleCommand()
		return
	case PhaseInitialize:
		e.resetControllerMemory()
		e.pitchBias = 0
		e.rollBias = 0
		e.yawRate = 0
		e.rescueThrottle = e.cfg.ThrottleHover
		return
	case PhaseDoNothing:
		e.pitchBias = 0
		e.rollBias = 0
		e.yawRate = 0
		e.rescueThrottle = e.cfg.ThrottleHover
		return
	}

	if !newSample {
		return
	}

	// Sample-rate normalization: s is 1 at the 10 Hz design point, so
	// integrals scale up and derivatives scale down as samples slow.
	s := e.sensors.GpsDtS * 10

	e.updateHeading()
	e.updateVelocity(s)
	e.updateThrottle(s)
}

// updateHeading yaws toward home and cross-feeds a roll component so the
// turn is coordinated. Roll feed fades out at high yaw rates.
func (e *Engine) updateHeading() {
	yawRate := clampF(e.sensors.ErrorAngleDeg*e.cfg.YawP*0.1, -yawRateLimitDegS, yawRateLimitDegS)

	rollMixAtten := clampF(1-absF(yawRate)*0.01, 0, 1)
	rollBias := -yawRate * e.cfg.RollMixPct * rollMixAtten
	rollLimit := e.intent.RollAngleLimitDeg * 100
	e.rollBias = clampF(rollBias, -rollLimit, rollLimit)

	if e.rc.YawReversed() {
		yawRate = -yawRate
	}
	if !e.intent.UpdateYaw {
		yawRate = 0
	}
	e.yawRate = yawRate

	e.debug.set(DebugHeading, e.sensors.ErrorAngleDeg, yawRate, e.rollBias, rollMixAtten)
}

// updateVelocity commands pitch from the velocity-to-home error. The
// forward-velocity target is suppressed until the nose points home.
func (e *Engine) updateVelocity(s float64) {
	limiter := clampF((60-e.sensors.AbsErrorAngleDeg)/60, 0, 1)
	err := e.intent.TargetVelocityCMS*limiter - e.sensors.VelocityToHomeCMS

	p := err * e.cfg.VelP

	e.ctl.velI += 0.01 * e.cfg.VelI * err * s
	e.ctl.velI = clampF(e.ctl.velI, -velocityIntegralLimit, velocityIntegralLimit)

	d := (err - e.ctl.prevVelErrCMS) / s
	d = e.ctl.prevVelD + e.sensors.FilterK*(d-e.ctl.prevVelD)
	e.ctl.prevVelD = d
	e.ctl.prevVelErrCMS = err
	d *= e.cfg.VelD

	pitch := p + e.ctl.velI + d

	// Slew-limit against the previous raw value, then average with it.
	// The stored value is the pre-average one: the slew limiter keeps its
	// full step authority while the output still gets the smoothing.
	pitch = e.ctl.prevPitch + clampF(pitch-e.ctl.prevPitch, -e.sensors.MaxPitchStep, e.sensors.MaxPitchStep)
	out := 0.5 * (e.ctl.prevPitch + pitch)
	e.ctl.prevPitch = pitch

	pitchLimit := e.intent.PitchAngleLimitDeg * 100
	e.pitchBias = clampF(out, -pitchLimit, pitchLimit)

	e.debug.set(DebugVelocity, e.intent.TargetVelocityCMS*limiter, e.sensors.VelocityToHomeCMS, e.pitchBias, e.ctl.velI)
}

// updateThrottle holds the target altitude with a PID around the hover
// throttle, plus a tilt feedforward for the thrust lost when not level.
func (e *Engine) updateThrottle(s float64) {
	altErr := (e.intent.TargetAltitudeCM - e.sensors.CurrentAltitudeCM) * 0.01

	p := e.cfg.ThrottleP * altErr

	e.ctl.throttleI += 0.01 * e.cfg.ThrottleI * altErr * s
	e.ctl.throttleI = clampF(e.ctl.throttleI, -throttleIntegralLimit, throttleIntegralLimit)

	dRaw := (altErr - e.ctl.prevAltErrM) / s
	e.ctl.prevAltErrM = altErr

	jerk := 2 * (dRaw - e.ctl.prevThrDRaw)
	e.ctl.prevThrDRaw = dRaw
	d := dRaw + jerk

	avg := 0.5 * (d + e.ctl.prevThrDIn)
	e.ctl.prevThrDIn = d

	e.ctl.thrDSmoothed += e.sensors.FilterK * (avg - e.ctl.thrDSmoothed)
	d = 10 * e.cfg.ThrottleD * e.ctl.thrDSmoothed

	tiltFF := (1 - e.attitude.CosTiltAngle()) * (e.cfg.ThrottleHover - 1000)

	throttle := e.cfg.ThrottleHover + p + e.ctl.throttleI + d + tiltFF
	e.rescueThrottle = clampF(throttle, e.cfg.ThrottleMin, e.cfg.ThrottleMax)

	e.debug.set(DebugThrottlePID, p, e.ctl.throttleI, d, e.rescueThrottle)
	e.debug.set(DebugTracking, e.sensors.DistanceToHomeM, e.sensors.CurrentAltitudeCM, e.intent.TargetAltitudeCM, float64(e.phase))
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
