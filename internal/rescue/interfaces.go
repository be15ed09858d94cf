// Package rescue implements the GPS return-to-home rescue controller for
// multirotor airframes. When the rescue flight mode activates, the engine
// flies the craft back to the recorded home position and performs a
// controlled descent and landing with no pilot input.
package rescue

// GPSSource is the read side of the GPS driver. DistanceToHomeCM and
// DirectionToHomeDeci are only meaningful while HasHomeFix is true.
type GPSSource interface {
	Healthy() bool
	NumSat() int
	HasFix() bool
	HasHomeFix() bool
	DistanceToHomeCM() float64
	// DirectionToHomeDeci is the bearing to home in tenths of a degree.
	DirectionToHomeDeci() float64
	GroundSpeedCMS() float64

	// NewSampleAvailable reports whether a GPS sample arrived since the
	// flag was last cleared. The engine clears it at the end of Update.
	NewSampleAvailable() bool
	ClearNewSample()
}

// AltitudeSource provides the fused altitude estimate.
type AltitudeSource interface {
	EstimatedAltitudeCM() float64
	// AltitudeOffsetApplied reports whether the estimate is referenced to
	// the arming position. Max-altitude tracking only runs while true.
	AltitudeOffsetApplied() bool
}

// AttitudeSource provides IMU-derived attitude quantities.
type AttitudeSource interface {
	// YawDeciDeg is the current heading in tenths of a degree, [0, 3600).
	YawDeciDeg() float64
	// CosTiltAngle is the cosine of the angle between the thrust axis and
	// vertical; 1.0 when level.
	CosTiltAngle() float64
	// Accel returns raw accelerometer counts on each axis.
	Accel() (x, y, z float64)
	// AccelOneG is the accelerometer reading corresponding to 1 g.
	AccelOneG() float64
}

// RCSource exposes the pilot's radio link state.
type RCSource interface {
	// ThrottleCommand is the raw pilot throttle in PWM units.
	ThrottleCommand() float64
	IsReceivingSignal() bool
	YawReversed() bool
	// MinCheck is the stick-low threshold in PWM units.
	MinCheck() float64
}

// DisarmReason identifies who requested a disarm.
type DisarmReason int

const (
	DisarmReasonGpsRescue DisarmReason = iota
	DisarmReasonFailsafe
	DisarmReasonSwitch
)

// String returns string representation of DisarmReason
func (dr DisarmReason) String() string {
	reasons := []string{"GPS Rescue", "Failsafe", "Switch"}
	if int(dr) < len(reasons) {
		return reasons[dr]
	}
	return "Unknown"
}

// Actuator is the capability interface through which the engine touches
// the arming subsystem. Tests substitute a recorder.
type Actuator interface {
	Armed() bool
	// CrashRecoveryActive reports crash-flip mode on the flight controller.
	CrashRecoveryActive() bool
	SetArmingDisabled(reason DisarmReason)
	Disarm(reason DisarmReason)
}

// ModeSource reports whether the rescue flight mode is requested, either
// by switch or by failsafe.
type ModeSource interface {
	RescueModeActive() bool
}
