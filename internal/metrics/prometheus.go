// Package metrics provides Prometheus metrics for the HUGINN rescue
// subsystem.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all HUGINN Prometheus metrics.
type Metrics struct {
	// Rescue lifecycle
	RescuesStarted   prometheus.Counter
	RescuesCompleted prometheus.Counter
	RescuesAborted   prometheus.Counter
	Disarms          *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec

	// Live state
	PhaseCurrent    prometheus.Gauge
	Available       prometheus.Gauge
	DistanceToHomeM prometheus.Gauge
	AltitudeM       prometheus.Gauge
	TargetAltitudeM prometheus.Gauge
	ThrottleNorm    prometheus.Gauge
	VelocityToHome  prometheus.Gauge

	// Sensors
	GPSSatellites prometheus.Gauge
	GPSHealthy    prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Get returns the global HUGINN metrics instance.
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = initializeMetrics()
	})
	return globalMetrics
}

func initializeMetrics() *Metrics {
	m := &Metrics{}

	m.RescuesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "rescues_started_total",
		Help:      "Number of rescues entered from idle.",
	})
	m.RescuesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "rescues_completed_total",
		Help:      "Number of rescues that ended with a detected touchdown.",
	})
	m.RescuesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "rescues_aborted_total",
		Help:      "Number of rescues the sanity supervisor aborted.",
	})
	m.Disarms = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "disarms_total",
		Help:      "Disarm commands issued, by reason.",
	}, []string{"reason"})
	m.FailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "failures_total",
		Help:      "Sanity failures raised, by classification.",
	}, []string{"failure"})

	m.PhaseCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "phase",
		Help:      "Current rescue phase as its enum value.",
	})
	m.Available = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "available",
		Help:      "Whether a rescue could start now (1) or not (0).",
	})
	m.DistanceToHomeM = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "distance_to_home_meters",
		Help:      "Ground distance to the home point.",
	})
	m.AltitudeM = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "altitude_meters",
		Help:      "Estimated altitude over the arming point.",
	})
	m.TargetAltitudeM = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "target_altitude_meters",
		Help:      "Altitude setpoint of the rescue throttle controller.",
	})
	m.ThrottleNorm = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "throttle_normalized",
		Help:      "Published throttle output in [0, 1].",
	})
	m.VelocityToHome = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "velocity_to_home_cm_s",
		Help:      "Closing speed toward home.",
	})

	m.GPSSatellites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "gps_satellites",
		Help:      "Satellites used in the GPS solution.",
	})
	m.GPSHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asgard",
		Subsystem: "huginn",
		Name:      "gps_healthy",
		Help:      "GPS driver health flag.",
	})

	return m
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SetAvailable records the availability probe output.
func (m *Metrics) SetAvailable(ok bool) {
	m.Available.Set(boolGauge(ok))
}

// SetGPSHealthy records the GPS health flag.
func (m *Metrics) SetGPSHealthy(ok bool) {
	m.GPSHealthy.Set(boolGauge(ok))
}
