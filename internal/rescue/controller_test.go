package rescue

import (
	"math"
	"testing"
)

// Drives the engine with a fixed altitude error at several GPS rates and
// checks the steady-state throttle agrees across rates. This is what the
// gpsDt*10 normalization and the pt1 filter gain are for.
func TestController_SampleRateInvariance(t *testing.T) {
	rates := []struct {
		name     string
		hz       float64
	}{
		{"1Hz", 1},
		{"5Hz", 5},
		{"10Hz", 10},
		{"25Hz", 25},
	}

	results := make(map[string]float64)

	for _, rate := range rates {
		t.Run(rate.name, func(t *testing.T) {
			r := newRig(DefaultConfig())
			r.alt.altitudeCM = 2500
			r.gps.distanceCM = 10000
			r.att.yawDeci = 0
			r.gps.directionDeci = 0

			r.gpsTick()
			r.mode.active = true
			r.tick()
			if r.eng.Phase() != PhaseAttainAlt {
				t.Fatalf("expected AttainAlt, got %v", r.eng.Phase())
			}

			// Hold a constant 5 m altitude error under the return target
			// for 30 simulated seconds at this GPS rate.
			r.eng.phase = PhaseFlyHome
			sampleEveryUS := int64(1e6 / rate.hz)
			lastSampleUS := r.nowUS
			for r.nowUS < 31_000_000 {
				r.eng.intent.TargetAltitudeCM = 3000
				r.alt.altitudeCM = 2500
				if r.nowUS-lastSampleUS >= sampleEveryUS {
					lastSampleUS = r.nowUS
					r.gps.newSample = true
				}
				r.tick()
			}

			results[rate.name] = r.eng.ThrottleRaw()
		})
	}

	base := results["10Hz"]
	for name, v := range results {
		if math.Abs(v-base) > 5 {
			t.Errorf("steady-state throttle at %s = %v, want within 5 of %v", name, v, base)
		}
	}
}

// Repeated ticks without a fresh GPS sample must hold the outputs of the
// last sample exactly.
func TestController_OutputsHoldBetweenSamples(t *testing.T) {
	r := newRig(DefaultConfig())
	r.alt.altitudeCM = 2000
	r.gps.distanceCM = 20000
	r.att.yawDeci = 900
	r.gpsTick()
	r.mode.active = true
	r.tick()

	for i := 0; i < 10; i++ {
		r.run(9)
		r.gpsTick()
	}

	pitch := r.eng.PitchBiasCentiDeg()
	roll := r.eng.RollBiasCentiDeg()
	yaw := r.eng.YawRateDegS()
	throttle := r.eng.ThrottleRaw()

	r.run(50)

	if r.eng.PitchBiasCentiDeg() != pitch || r.eng.RollBiasCentiDeg() != roll ||
		r.eng.YawRateDegS() != yaw || r.eng.ThrottleRaw() != throttle {
		t.Error("outputs changed without a new GPS sample")
	}
}

// Saturating inputs must never push outputs or integrals past their
// documented bounds.
func TestController_OutputAndIntegralBounds(t *testing.T) {
	cfg := DefaultConfig()
	r := newRig(cfg)
	r.alt.altitudeCM = 2000
	r.gps.distanceCM = 50000
	r.att.yawDeci = 1800
	r.gpsTick()
	r.mode.active = true
	r.tick()

	// Force forward flight with a huge persistent error on every axis.
	r.eng.phase = PhaseFlyHome
	r.eng.intent.TargetVelocityCMS = cfg.GroundspeedCMS
	r.eng.intent.PitchAngleLimitDeg = cfg.AngleDeg
	r.eng.intent.RollAngleLimitDeg = cfg.AngleDeg

	for i := 0; i < 600; i++ {
		r.eng.intent.TargetAltitudeCM = 50000
		r.eng.intent.TargetVelocityCMS = cfg.GroundspeedCMS
		r.gps.distanceCM += 300 // flying away: large negative velocity to home
		r.run(9)
		r.gpsTick()

		if thr := r.eng.ThrottleRaw(); thr < cfg.ThrottleMin || thr > cfg.ThrottleMax {
			t.Fatalf("throttle %v outside [%v, %v]", thr, cfg.ThrottleMin, cfg.ThrottleMax)
		}
		if yaw := math.Abs(r.eng.YawRateDegS()); yaw > yawRateLimitDegS {
			t.Fatalf("yaw rate %v exceeds %v", yaw, yawRateLimitDegS)
		}
		if p := math.Abs(r.eng.PitchBiasCentiDeg()); p > r.eng.intent.PitchAngleLimitDeg*100 {
			t.Fatalf("pitch bias %v exceeds limit", p)
		}
		if rb := math.Abs(r.eng.RollBiasCentiDeg()); rb > r.eng.intent.RollAngleLimitDeg*100 {
			t.Fatalf("roll bias %v exceeds limit", rb)
		}
		if vi := math.Abs(r.eng.ctl.velI); vi > velocityIntegralLimit {
			t.Fatalf("velocity integral %v exceeds clamp", vi)
		}
		if ti := math.Abs(r.eng.ctl.throttleI); ti > throttleIntegralLimit {
			t.Fatalf("throttle integral %v exceeds clamp", ti)
		}
	}
}

func TestController_YawSignHandling(t *testing.T) {
	tests := []struct {
		name       string
		errorAngle float64
		reversed   bool
		updateYaw  bool
		wantSign   float64
	}{
		{"turn right", 40, false, true, 1},
		{"turn left", -40, false, true, -1},
		{"reversed", 40, true, true, -1},
		{"yaw frozen", 40, false, false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(DefaultConfig())
			r.alt.altitudeCM = 2000
			r.gps.distanceCM = 20000
			r.gpsTick()
			r.mode.active = true
			r.tick()

			r.rc.reversed = tc.reversed
			r.eng.intent.UpdateYaw = tc.updateYaw
			r.att.yawDeci = tc.errorAngle * 10
			r.gps.directionDeci = 0
			r.run(9)
			r.gpsTick()

			got := r.eng.YawRateDegS()
			switch {
			case tc.wantSign == 0 && got != 0:
				t.Errorf("expected zero yaw rate, got %v", got)
			case tc.wantSign > 0 && got <= 0:
				t.Errorf("expected positive yaw rate, got %v", got)
			case tc.wantSign < 0 && got >= 0:
				t.Errorf("expected negative yaw rate, got %v", got)
			}
		})
	}
}

// The roll cross-feed fades with yaw rate and dies entirely at 100 deg/s.
func TestController_RollMixAttenuation(t *testing.T) {
	r := newRig(DefaultConfig())
	r.alt.altitudeCM = 2000
	r.gps.distanceCM = 20000
	r.gpsTick()
	r.mode.active = true
	r.tick()

	r.eng.intent.RollAngleLimitDeg = DefaultConfig().AngleDeg

	// 20 deg error: yaw rate 50 deg/s, attenuation 0.5.
	r.att.yawDeci = 200
	r.gps.directionDeci = 0
	r.run(9)
	r.gpsTick()

	wantYaw := 50.0
	if got := r.eng.YawRateDegS(); math.Abs(got-wantYaw) > 1e-9 {
		t.Errorf("yaw rate = %v, want %v", got, wantYaw)
	}
	wantRoll := -wantYaw * 100 * 0.5
	got := r.eng.RollBiasCentiDeg()
	limit := r.eng.intent.RollAngleLimitDeg * 100
	if wantRoll < -limit {
		wantRoll = -limit
	}
	if math.Abs(got-wantRoll) > 1e-9 {
		t.Errorf("roll bias = %v, want %v", got, wantRoll)
	}
}
