package rescue

import (
	"testing"
)

// enterFlyHome drives a rig into FlyHome with a latched cruise intent.
func enterFlyHome(r *rig) {
	r.alt.altitudeCM = 2000
	r.gps.distanceCM = 20000
	r.gpsTick()
	r.mode.active = true
	r.tick()

	r.eng.phase = PhaseFlyHome
	r.eng.intent.TargetVelocityCMS = r.eng.cfg.GroundspeedCMS
	r.eng.intent.SecondsFailing = 0
}

// A sustained shortfall against the cruise velocity escalates to Stalled
// after the stall window, and the sanity policy decides the consequence.
func TestSanity_StalledHeadwind(t *testing.T) {
	tests := []struct {
		name      string
		policy    SanityPolicy
		receiving bool
		wantAbort bool
	}{
		{"sanity on", SanityOn, true, true},
		{"sanity off", SanityOff, true, false},
		{"failsafe only, rx alive", SanityFailsafeOnly, true, false},
		{"failsafe only, rx lost", SanityFailsafeOnly, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SanityChecks = tc.policy
			cfg.UseMag = false
			r := newRig(cfg)
			r.rc.receiving = tc.receiving
			enterFlyHome(r)

			// Making some progress, but only 200 of the 500 cm/s target.
			for s := 0; s < 25 && r.eng.FailureReason() == FailureHealthy; s++ {
				for i := 0; i < 10; i++ {
					r.run(9)
					r.gps.distanceCM -= 20
					r.gpsTick()
				}
			}

			if r.eng.FailureReason() != FailureStalled {
				t.Fatalf("expected Stalled, got %v", r.eng.FailureReason())
			}

			r.run(5)
			if tc.wantAbort {
				if !r.act.disarmed {
					t.Error("expected abort and disarm")
				}
			} else {
				if r.act.disarmed {
					t.Error("expected hold, not disarm")
				}
				if r.eng.Phase() != PhaseDoNothing {
					t.Errorf("expected DoNothing, got %v", r.eng.Phase())
				}
			}
		})
	}
}

// With a magnetometer in use, the first stall window drops the compass
// instead of failing; only the second escalates.
func TestSanity_StallDisablesMagFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseMag = true
	cfg.SanityChecks = SanityOff
	r := newRig(cfg)
	enterFlyHome(r)

	runStallWindow := func() {
		for s := 0; s < 25; s++ {
			for i := 0; i < 10; i++ {
				r.run(9)
				r.gps.distanceCM -= 20
				r.gpsTick()
			}
			if r.eng.MagForceDisabled() && r.eng.intent.SecondsFailing == 0 {
				return
			}
			if r.eng.FailureReason() != FailureHealthy {
				return
			}
		}
	}

	runStallWindow()
	if !r.eng.MagForceDisabled() {
		t.Fatal("first stall window should disable the magnetometer")
	}
	if r.eng.FailureReason() != FailureHealthy {
		t.Fatalf("first stall window should not fail, got %v", r.eng.FailureReason())
	}

	runStallWindow()
	if r.eng.FailureReason() != FailureStalled {
		t.Fatalf("second stall window should escalate, got %v", r.eng.FailureReason())
	}
}

// Receding from home at the stall threshold is classified as a flyaway.
func TestSanity_FlyawayClassification(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseMag = false
	cfg.SanityChecks = SanityOff
	r := newRig(cfg)
	enterFlyHome(r)

	for s := 0; s < 25 && r.eng.FailureReason() == FailureHealthy; s++ {
		for i := 0; i < 10; i++ {
			r.run(9)
			r.gps.distanceCM += 30 // moving away
			r.gpsTick()
		}
	}

	if r.eng.FailureReason() != FailureFlyaway {
		t.Fatalf("expected Flyaway, got %v", r.eng.FailureReason())
	}
}

// Low satellite count must persist across the whole window before the
// rescue is declared degraded.
func TestSanity_LowSats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SanityChecks = SanityOff
	r := newRig(cfg)
	enterFlyHome(r)

	r.gps.numSat = 5

	// Counter starts at 5 on rescue entry; five more low seconds trip it.
	seconds := 0
	for ; seconds < 15 && r.eng.FailureReason() == FailureHealthy; seconds++ {
		for i := 0; i < 10; i++ {
			r.run(9)
			r.gps.distanceCM -= 50
			r.gpsTick()
		}
	}

	if r.eng.FailureReason() != FailureLowSats {
		t.Fatalf("expected LowSats, got %v", r.eng.FailureReason())
	}
	if seconds > 6 {
		t.Errorf("low sats should trip within ~5 seconds of rescue start, took %d", seconds)
	}
}

// A recovered constellation walks the counter back down.
func TestSanity_LowSatsRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SanityChecks = SanityOff
	r := newRig(cfg)
	enterFlyHome(r)

	flySeconds := func(n int) {
		for s := 0; s < n; s++ {
			for i := 0; i < 10; i++ {
				r.run(9)
				r.gps.distanceCM -= 50
				r.gpsTick()
			}
		}
	}

	r.gps.numSat = 5
	flySeconds(3)
	r.gps.numSat = 12
	flySeconds(10)

	if r.eng.FailureReason() != FailureHealthy {
		t.Errorf("recovered sats should stay healthy, got %v", r.eng.FailureReason())
	}
}

func TestSanity_TickRateFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*rig)
		want  Failure
	}{
		{
			"crash flip",
			func(r *rig) { r.act.crashRecovery = true },
			FailureCrashFlipDetected,
		},
		{
			"gps lost",
			func(r *rig) { r.gps.healthy = false },
			FailureGpsLost,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SanityChecks = SanityOff
			r := newRig(cfg)
			enterFlyHome(r)

			tc.setup(r)
			r.tick()

			if r.eng.FailureReason() != tc.want {
				t.Errorf("expected %v, got %v", tc.want, r.eng.FailureReason())
			}
			if r.eng.Phase() != PhaseDoNothing {
				t.Errorf("policy Off should hold in DoNothing, got %v", r.eng.Phase())
			}
		})
	}
}

// DoNothing is not a parking spot: ten seconds there forces an abort.
func TestSanity_DoNothingTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SanityChecks = SanityOff
	r := newRig(cfg)
	enterFlyHome(r)

	r.gps.healthy = false
	r.tick()
	if r.eng.Phase() != PhaseDoNothing {
		t.Fatalf("expected DoNothing, got %v", r.eng.Phase())
	}

	// Held outputs while waiting.
	r.run(5)
	if r.eng.ThrottleRaw() != cfg.ThrottleHover {
		t.Errorf("DoNothing throttle should be hover, got %v", r.eng.ThrottleRaw())
	}
	if r.eng.PitchBiasCentiDeg() != 0 || r.eng.RollBiasCentiDeg() != 0 {
		t.Error("DoNothing biases should be zero")
	}

	r.runSeconds(12)
	if !r.act.disarmed {
		t.Error("ten seconds of DoNothing should abort and disarm")
	}
}

// An unhealthy climb aborts: altitude not rising at half the configured
// ascent rate for the whole window.
func TestSanity_AttainAltStallAborts(t *testing.T) {
	cfg := DefaultConfig()
	r := newRig(cfg)
	r.alt.altitudeCM = 2000
	r.gps.distanceCM = 20000
	r.gpsTick()
	r.mode.active = true
	r.tick()
	if r.eng.Phase() != PhaseAttainAlt {
		t.Fatalf("expected AttainAlt, got %v", r.eng.Phase())
	}

	// Altitude pinned: motors cannot climb.
	for s := 0; s < 15 && !r.act.disarmed; s++ {
		for i := 0; i < 10; i++ {
			r.run(9)
			r.gpsTick()
		}
	}

	if !r.act.disarmed {
		t.Error("stuck climb should abort and disarm")
	}
}
