package rescue

import (
	"math"
	"testing"
)

func TestPt1Gain_ReferenceValues(t *testing.T) {
	tests := []struct {
		dtS  float64
		want float64
	}{
		{1.0, 0.83},
		{0.1, 0.33},
		{0.04, 0.17},
	}

	for _, tc := range tests {
		got := pt1Gain(derivativeCutoffHz, tc.dtS)
		if math.Abs(got-tc.want) > 0.01 {
			t.Errorf("pt1Gain(0.8, %v) = %v, want ~%v", tc.dtS, got, tc.want)
		}
	}
}

func TestWrap180(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{181, -179},
		{-181, 179},
		{360, 0},
		{540, 180},
		{-90, -90},
		{720 + 45, 45},
	}

	for _, tc := range tests {
		if got := wrap180(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("wrap180(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	// Result is always in (-180, 180].
	for deg := -1000.0; deg <= 1000; deg += 7.3 {
		got := wrap180(deg)
		if got <= -180 || got > 180 {
			t.Fatalf("wrap180(%v) = %v outside (-180, 180]", deg, got)
		}
	}
}

func TestSensorView_GpsDtClamped(t *testing.T) {
	tests := []struct {
		name      string
		elapsedUS int64
		want      float64
	}{
		{"normal 10Hz", 100_000, 0.1},
		{"slow 1Hz", 1_000_000, 1.0},
		{"too slow clamps high", 5_000_000, 1.0},
		{"duplicate clamps low", 0, 0.01},
		{"fast 25Hz", 40_000, 0.04},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(DefaultConfig())
			r.gpsTick()
			r.gps.newSample = true
			r.nowUS += tc.elapsedUS
			r.eng.Update(r.nowUS)

			if got := r.eng.Sensors().GpsDtS; math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("gps dt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSensorView_VelocityToHome(t *testing.T) {
	r := newRig(DefaultConfig())

	// First sample after reset carries no usable velocity.
	r.gps.distanceCM = 30000
	r.gpsTick()
	if got := r.eng.Sensors().VelocityToHomeCMS; got != 0 {
		t.Fatalf("first sample velocity should be discarded, got %v", got)
	}

	// Approaching home at 500 cm/s: 50 cm closer per 10 Hz sample.
	r.run(9)
	r.gps.distanceCM = 29950
	r.gpsTick()
	if got := r.eng.Sensors().VelocityToHomeCMS; math.Abs(got-500) > 1 {
		t.Errorf("velocity to home = %v, want ~500", got)
	}

	// Flying away is negative.
	r.run(9)
	r.gps.distanceCM = 30050
	r.gpsTick()
	if got := r.eng.Sensors().VelocityToHomeCMS; got >= 0 {
		t.Errorf("receding velocity should be negative, got %v", got)
	}
}

func TestSensorView_ErrorAngle(t *testing.T) {
	tests := []struct {
		name          string
		yawDeci       float64
		directionDeci float64
		want          float64
	}{
		{"aligned", 900, 900, 0},
		{"right of home", 1200, 900, 30},
		{"left of home", 600, 900, -30},
		{"wraps across north", 100, 3500, 20},
		{"opposite", 2700, 900, 180},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(DefaultConfig())
			r.att.yawDeci = tc.yawDeci
			r.gps.directionDeci = tc.directionDeci
			r.gpsTick()

			sv := r.eng.Sensors()
			if math.Abs(sv.ErrorAngleDeg-tc.want) > 1e-9 {
				t.Errorf("error angle = %v, want %v", sv.ErrorAngleDeg, tc.want)
			}
			if sv.AbsErrorAngleDeg != math.Abs(sv.ErrorAngleDeg) {
				t.Errorf("abs error angle mismatch")
			}
		})
	}
}

func TestSensorView_StepSizesScaleWithRate(t *testing.T) {
	r := newRig(DefaultConfig())
	r.gpsTick()

	r.gps.newSample = true
	r.nowUS += 100_000 // 10 Hz
	r.eng.Update(r.nowUS)

	sv := r.eng.Sensors()
	if math.Abs(sv.AscendStepCM-50) > 1e-9 {
		t.Errorf("ascend step = %v, want 50", sv.AscendStepCM)
	}
	if math.Abs(sv.DescendStepCM-12.5) > 1e-9 {
		t.Errorf("descend step = %v, want 12.5", sv.DescendStepCM)
	}
	if math.Abs(sv.MaxPitchStep-300) > 1e-9 {
		t.Errorf("max pitch step = %v, want 300", sv.MaxPitchStep)
	}
}

func TestSensorView_AccMagnitudeOnlyWhileLanding(t *testing.T) {
	r := newRig(DefaultConfig())
	r.att.accZ = 2.5
	r.run(3)
	if got := r.eng.Sensors().AccMagnitudeG; got != 0 {
		t.Errorf("acc magnitude should not be tracked outside Landing, got %v", got)
	}

	r.alt.altitudeCM = 400
	r.gps.distanceCM = 500
	r.att.accZ = 1.0
	r.gpsTick()
	r.mode.active = true
	r.tick() // enters Landing
	r.tick()
	if got := r.eng.Sensors().AccMagnitudeG; math.Abs(got-1.0) > 1e-9 {
		t.Errorf("acc magnitude = %v, want 1.0 in Landing", got)
	}
}
