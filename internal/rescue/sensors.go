package rescue

import (
	"math"
)

// gpsDtMinS and gpsDtMaxS bound the inter-sample interval so a late or
// duplicated GPS fix cannot blow up rate-normalized terms.
const (
	gpsDtMinS = 0.01
	gpsDtMaxS = 1.0

	// derivativeCutoffHz sets the first-order low-pass applied to
	// controller derivative terms.
	derivativeCutoffHz = 0.8

	// pitchSlewCentiDegPerS caps how fast the pitch bias may move.
	pitchSlewCentiDegPerS = 3000
)

// pt1Gain returns the smoothing coefficient of a first-order low-pass for
// the given cutoff and sample interval.
func pt1Gain(cutoffHz, dtS float64) float64 {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	return dtS / (dtS + rc)
}

// wrap180 folds an angle in degrees into (-180, 180].
func wrap180(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SensorView reads the external sensor interfaces once per tick and
// derives the normalized quantities the phase machine and controllers
// consume. GPS-derived fields only change when a fresh sample arrived.
type SensorView struct {
	// Refreshed every tick.
	CurrentAltitudeCM float64
	AccMagnitudeG     float64
	Healthy           bool

	// Refreshed per GPS sample.
	DistanceToHomeM     float64
	distanceToHomeCM    float64
	GroundSpeedCMS      float64
	DirectionToHomeDeci float64
	VelocityToHomeCMS   float64
	ErrorAngleDeg       float64
	AbsErrorAngleDeg    float64
	GpsDtS              float64
	FilterK             float64
	AscendStepCM        float64
	DescendStepCM       float64
	MaxPitchStep        float64

	// MaxAltitudeCM tracks the highest altitude seen while armed and not
	// in rescue. It resets to zero on disarm.
	MaxAltitudeCM float64

	prevGPSTimeUS    int64
	prevDistanceCM   float64
	haveSample       bool
}

// reset clears the per-sample history so the next sample is treated as
// the first after activation.
func (sv *SensorView) reset() {
	sv.prevGPSTimeUS = 0
	sv.prevDistanceCM = 0
	sv.haveSample = false
	sv.VelocityToHomeCMS = 0
}

// refresh reads per-tick quantities and, when newSample is set, the full
// GPS-derived block. landing enables accelerometer magnitude tracking,
// which must run at tick rate for impact detection.
func (sv *SensorView) refresh(nowUS int64, newSample, landing bool, cfg *Config, alt AltitudeSource, att AttitudeSource, gps GPSSource) {
	sv.CurrentAltitudeCM = alt.EstimatedAltitudeCM()
	sv.Healthy = gps.Healthy()

	if landing {
		ax, ay, az := att.Accel()
		oneG := att.AccelOneG()
		if oneG > 0 {
			sv.AccMagnitudeG = math.Sqrt(ax*ax+ay*ay+az*az) / oneG
		}
	} else {
		sv.AccMagnitudeG = 0
	}

	if !newSample {
		return
	}

	dt := float64(nowUS-sv.prevGPSTimeUS) / 1e6
	sv.GpsDtS = clampF(dt, gpsDtMinS, gpsDtMaxS)
	sv.prevGPSTimeUS = nowUS

	sv.FilterK = pt1Gain(derivativeCutoffHz, sv.GpsDtS)

	sv.distanceToHomeCM = gps.DistanceToHomeCM()
	sv.DistanceToHomeM = sv.distanceToHomeCM / 100
	sv.GroundSpeedCMS = gps.GroundSpeedCMS()
	sv.DirectionToHomeDeci = gps.DirectionToHomeDeci()

	// The first sample after a reset has no usable previous distance;
	// a velocity derived from it would be noise.
	if sv.haveSample {
		sv.VelocityToHomeCMS = (sv.prevDistanceCM - sv.distanceToHomeCM) / sv.GpsDtS
	} else {
		sv.VelocityToHomeCMS = 0
		sv.haveSample = true
	}
	sv.prevDistanceCM = sv.distanceToHomeCM

	sv.ErrorAngleDeg = wrap180((att.YawDeciDeg() - sv.DirectionToHomeDeci) / 10)
	sv.AbsErrorAngleDeg = math.Abs(sv.ErrorAngleDeg)

	sv.AscendStepCM = sv.GpsDtS * cfg.AscendRateCMS
	sv.DescendStepCM = sv.GpsDtS * cfg.DescendRateCMS
	sv.MaxPitchStep = sv.GpsDtS * pitchSlewCentiDegPerS
}

// trackMaxAltitude records the highest altitude seen. Only valid while the
// altitude estimate is referenced to the arming position.
func (sv *SensorView) trackMaxAltitude() {
	if sv.CurrentAltitudeCM > sv.MaxAltitudeCM {
		sv.MaxAltitudeCM = sv.CurrentAltitudeCM
	}
}
