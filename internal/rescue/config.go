package rescue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is bumped whenever the on-disk field set changes.
const ConfigVersion = 2

// SanityPolicy selects how strictly supervisor faults end a rescue.
type SanityPolicy int

const (
	SanityOn SanityPolicy = iota
	SanityOff
	SanityFailsafeOnly
)

// String returns string representation of SanityPolicy
func (sp SanityPolicy) String() string {
	policies := []string{"On", "Off", "FailsafeOnly"}
	if int(sp) < len(policies) {
		return policies[sp]
	}
	return "Unknown"
}

// UnmarshalYAML accepts the policy by name.
func (sp *SanityPolicy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "on", "On", "":
		*sp = SanityOn
	case "off", "Off":
		*sp = SanityOff
	case "failsafe_only", "FailsafeOnly":
		*sp = SanityFailsafeOnly
	default:
		return fmt.Errorf("unknown sanity policy %q", value.Value)
	}
	return nil
}

// AltitudeMode chooses the basis for the return altitude.
type AltitudeMode int

const (
	AltitudeModeMax AltitudeMode = iota
	AltitudeModeFixed
	AltitudeModeCurrent
)

// String returns string representation of AltitudeMode
func (am AltitudeMode) String() string {
	modes := []string{"Max", "Fixed", "Current"}
	if int(am) < len(modes) {
		return modes[am]
	}
	return "Unknown"
}

// UnmarshalYAML accepts the mode by name.
func (am *AltitudeMode) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "max", "Max", "":
		*am = AltitudeModeMax
	case "fixed", "Fixed":
		*am = AltitudeModeFixed
	case "current", "Current":
		*am = AltitudeModeCurrent
	default:
		return fmt.Errorf("unknown altitude mode %q", value.Value)
	}
	return nil
}

// Config holds all rescue parameters. It is immutable for the duration of
// a rescue; the engine reads it but never writes it.
type Config struct {
	// AngleDeg is the maximum pitch/roll authority the rescue may add.
	AngleDeg float64 `yaml:"angle_deg"`

	InitialAltitudeM       float64 `yaml:"initial_altitude_m"`
	RescueAltitudeBufferM  float64 `yaml:"rescue_altitude_buffer_m"`
	TargetLandingAltitudeM float64 `yaml:"target_landing_altitude_m"`

	// DescentDistanceM is the radius at which the descent begins;
	// MinRescueDistanceM is the activation floor below which the rescue
	// lands instead of flying home.
	DescentDistanceM   float64 `yaml:"descent_distance_m"`
	MinRescueDistanceM float64 `yaml:"min_rescue_dth_m"`

	GroundspeedCMS float64 `yaml:"rescue_groundspeed_cm_s"`

	ThrottleP float64 `yaml:"throttle_p"`
	ThrottleI float64 `yaml:"throttle_i"`
	ThrottleD float64 `yaml:"throttle_d"`
	VelP      float64 `yaml:"vel_p"`
	VelI      float64 `yaml:"vel_i"`
	VelD      float64 `yaml:"vel_d"`
	YawP      float64 `yaml:"yaw_p"`

	ThrottleMin   float64 `yaml:"throttle_min"`
	ThrottleMax   float64 `yaml:"throttle_max"`
	ThrottleHover float64 `yaml:"throttle_hover"`

	AscendRateCMS  float64 `yaml:"ascend_rate_cm_s"`
	DescendRateCMS float64 `yaml:"descend_rate_cm_s"`

	SanityChecks SanityPolicy `yaml:"sanity_checks"`
	AltMode      AltitudeMode `yaml:"altitude_mode"`

	MinSats int `yaml:"min_sats"`

	UseMag                bool    `yaml:"use_mag"`
	AllowArmingWithoutFix bool    `yaml:"allow_arming_without_fix"`
	RollMixPct            float64 `yaml:"roll_mix_pct"`
}

// DefaultConfig returns the reset-template values.
func DefaultConfig() Config {
	return Config{
		AngleDeg:               32,
		InitialAltitudeM:       30,
		RescueAltitudeBufferM:  10,
		TargetLandingAltitudeM: 5,
		DescentDistanceM:       20,
		MinRescueDistanceM:     30,
		GroundspeedCMS:         500,
		ThrottleP:              20,
		ThrottleI:              20,
		ThrottleD:              10,
		VelP:                   6,
		VelI:                   20,
		VelD:                   70,
		YawP:                   25,
		ThrottleMin:            1100,
		ThrottleMax:            1600,
		ThrottleHover:          1275,
		AscendRateCMS:          500,
		DescendRateCMS:         125,
		SanityChecks:           SanityOn,
		AltMode:                AltitudeModeMax,
		MinSats:                8,
		UseMag:                 true,
		AllowArmingWithoutFix:  false,
		RollMixPct:             100,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.AngleDeg <= 0 || c.AngleDeg > 90 {
		return fmt.Errorf("angle_deg %v out of range (0, 90]", c.AngleDeg)
	}
	if c.ThrottleMin >= c.ThrottleMax {
		return fmt.Errorf("throttle_min %v must be below throttle_max %v", c.ThrottleMin, c.ThrottleMax)
	}
	if c.ThrottleHover < c.ThrottleMin || c.ThrottleHover > c.ThrottleMax {
		return fmt.Errorf("throttle_hover %v outside [%v, %v]", c.ThrottleHover, c.ThrottleMin, c.ThrottleMax)
	}
	if c.AscendRateCMS <= 0 || c.DescendRateCMS <= 0 {
		return fmt.Errorf("ascend/descend rates must be positive")
	}
	if c.GroundspeedCMS <= 0 {
		return fmt.Errorf("rescue_groundspeed_cm_s must be positive")
	}
	if c.RollMixPct < 0 || c.RollMixPct > 100 {
		return fmt.Errorf("roll_mix_pct %v out of range [0, 100]", c.RollMixPct)
	}
	if c.MinSats < 4 {
		return fmt.Errorf("min_sats %d below GPS solution minimum", c.MinSats)
	}
	return nil
}
