package rescue

// IntentModel carries the per-phase setpoints and authority limits. The
// phase machine writes it; the controllers only read it.
type IntentModel struct {
	ReturnAltitudeCM  float64
	TargetAltitudeCM  float64
	TargetVelocityCMS float64

	PitchAngleLimitDeg float64
	RollAngleLimitDeg  float64

	UpdateYaw bool

	// DescentDistanceM is latched from the distance at activation, floored
	// at 10 m and capped at the configured descent distance.
	DescentDistanceM float64

	SecondsFailing int8
}

// restrict zeroes forward velocity and narrows angle authority. Used on
// every phase entry that reduces what the controllers may command.
func (in *IntentModel) restrict(pitchLimitDeg, rollLimitDeg float64) {
	in.TargetVelocityCMS = 0
	in.PitchAngleLimitDeg = pitchLimitDeg
	in.RollAngleLimitDeg = rollLimitDeg
	in.SecondsFailing = 0
}
