// HUGINN - GPS Return-to-Home Rescue Controller
//
// Drives the rescue engine either against the built-in SITL multirotor
// or against a serial NMEA receiver on the bench, and exposes live
// telemetry and metrics for ground-station tooling.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Huginn/internal/estimate"
	"github.com/PossumXI/Asgard/Huginn/internal/gpslink"
	"github.com/PossumXI/Asgard/Huginn/internal/livefeed"
	"github.com/PossumXI/Asgard/Huginn/internal/metrics"
	"github.com/PossumXI/Asgard/Huginn/internal/rescue"
	"github.com/PossumXI/Asgard/Huginn/internal/sim"
	"github.com/PossumXI/Asgard/Huginn/pkg/utils"
)

var (
	// Version info
	version   = "1.0.0"
	buildTime = "unknown"

	// Configuration flags
	httpPort    = flag.Int("http-port", 8094, "Telemetry WebSocket port")
	metricsPort = flag.Int("metrics-port", 9094, "Metrics port")
	configFile  = flag.String("config", "configs/config.yaml", "Rescue configuration file")
	logLevel    = flag.String("log-level", "info", "Log level")

	// Mode
	simMode = flag.Bool("sim", false, "Simulation mode (no real hardware)")

	// Simulation scenario
	simDistance = flag.Float64("sim-distance", 250, "Starting distance from home in meters")
	simAltitude = flag.Float64("sim-altitude", 40, "Starting altitude in meters")
	simTrigger  = flag.Duration("sim-trigger", 5*time.Second, "Delay before the rescue mode activates")

	// GPS hardware
	gpsPort = flag.String("gps-port", "/dev/ttyUSB0", "GPS serial port")
	gpsBaud = flag.Int("gps-baud", 9600, "GPS baud rate")
)

// loopHz is the flight-loop rate the engine is designed for.
const loopHz = 100

// Huginn is the main application struct
type Huginn struct {
	engine   *rescue.Engine
	streamer *livefeed.Streamer
	vehicle  *sim.Vehicle
	gps      *gpslink.Driver
	altitude *estimate.AltitudeFilter

	logger *logrus.Logger

	feedServer    *http.Server
	metricsServer *http.Server

	lastPhase rescue.Phase

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	flag.Parse()

	printBanner()

	logger := utils.NewLogger(*logLevel, "stdout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	app := &Huginn{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.Initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize HUGINN")
	}

	app.Start()

	logger.Info("HUGINN is operational")

	<-sigChan
	logger.Info("Shutting down")
	app.Shutdown()
}

// Initialize builds the engine and its data sources.
func (h *Huginn) Initialize() error {
	cfg := rescue.DefaultConfig()
	if _, err := os.Stat(*configFile); err == nil {
		loaded, err := rescue.LoadConfig(*configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		h.logger.WithField("path", *configFile).Info("Rescue configuration loaded")
	} else {
		h.logger.Info("No configuration file, using defaults")
	}

	h.streamer = livefeed.NewStreamer(h.logger)

	if *simMode {
		vcfg := sim.DefaultVehicleConfig()
		vcfg.HoverThrottle = cfg.ThrottleHover
		h.vehicle = sim.NewVehicle(vcfg)
		h.vehicle.PlaceAt(-*simDistance, 0, *simAltitude)
		h.vehicle.SetHeading(180)

		deps := h.vehicle.Deps()
		deps.Logger = h.logger
		h.engine = rescue.NewEngine(cfg, deps)
		h.logger.WithFields(logrus.Fields{
			"distance_m": *simDistance,
			"altitude_m": *simAltitude,
		}).Info("Simulation vehicle placed")
		return nil
	}

	// Bench mode: real GPS, estimated altitude, inert flight interfaces.
	h.gps = gpslink.NewDriver(gpslink.DriverConfig{
		Port:     *gpsPort,
		BaudRate: *gpsBaud,
	}, h.logger)
	if err := h.gps.Connect(); err != nil {
		return fmt.Errorf("GPS connect: %w", err)
	}

	h.altitude = estimate.NewAltitudeFilter(estimate.DefaultFilterConfig())

	bench := &benchVehicle{}
	h.engine = rescue.NewEngine(cfg, rescue.Deps{
		GPS:      h.gps,
		Altitude: h.altitude,
		Attitude: bench,
		RC:       bench,
		Actuator: bench,
		Mode:     bench,
		Logger:   h.logger,
	})
	return nil
}

// Start launches the servers and the flight loop.
func (h *Huginn) Start() {
	go h.streamer.Run(h.ctx)

	feedMux := http.NewServeMux()
	feedMux.HandleFunc("/ws/telemetry", h.streamer.HandleWebSocket)
	h.feedServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: feedMux,
	}
	go func() {
		if err := h.feedServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.WithError(err).Error("Telemetry server failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	h.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *metricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := h.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.WithError(err).Error("Metrics server failed")
		}
	}()

	if h.gps != nil {
		go func() {
			if err := h.gps.Run(h.ctx); err != nil && h.ctx.Err() == nil {
				h.logger.WithError(err).Error("GPS driver stopped")
			}
		}()
	}

	go h.flightLoop()
}

// flightLoop drives the engine at the design rate and publishes
// telemetry and metrics as side effects.
func (h *Huginn) flightLoop() {
	ticker := time.NewTicker(time.Second / loopHz)
	defer ticker.Stop()

	start := time.Now()
	m := metrics.Get()

	triggered := false
	lastFeed := time.Duration(0)

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		nowUS := elapsed.Microseconds()

		if h.vehicle != nil {
			if !triggered && elapsed >= *simTrigger {
				triggered = true
				h.vehicle.SetReceiverSignal(false)
				h.vehicle.SetRescueMode(true)
				h.logger.Info("Receiver failsafe: rescue mode activated")
			}
			h.vehicle.Step(1.0/loopHz, nowUS)
		}

		h.engine.Update(nowUS)

		if h.vehicle != nil {
			h.vehicle.Apply(h.engine.ThrottleOutNormalized(), h.engine.PitchBiasCentiDeg(), h.engine.YawRateDegS())
		}
		if h.altitude != nil && h.gps != nil && h.gps.HasFix() {
			h.altitude.Observe(estimate.SourceGPS, h.gps.AltitudeCM(), nowUS)
		}

		h.observePhase(m)

		if elapsed-lastFeed >= 200*time.Millisecond {
			lastFeed = elapsed
			h.publishTelemetry(m)
		}
	}
}

// observePhase turns phase transitions into lifecycle counters.
func (h *Huginn) observePhase(m *metrics.Metrics) {
	phase := h.engine.Phase()
	if phase == h.lastPhase {
		return
	}

	switch {
	case h.lastPhase == rescue.PhaseIdle && phase != rescue.PhaseIdle:
		m.RescuesStarted.Inc()
	case phase == rescue.PhaseComplete:
		m.RescuesCompleted.Inc()
		m.Disarms.WithLabelValues(rescue.DisarmReasonGpsRescue.String()).Inc()
	case phase == rescue.PhaseAbort:
		m.RescuesAborted.Inc()
		m.Disarms.WithLabelValues(rescue.DisarmReasonGpsRescue.String()).Inc()
		m.FailuresTotal.WithLabelValues(h.engine.FailureReason().String()).Inc()
	}

	h.lastPhase = phase
	m.PhaseCurrent.Set(float64(phase))
}

// publishTelemetry pushes one frame to the feed and refreshes gauges.
func (h *Huginn) publishTelemetry(m *metrics.Metrics) {
	sv := h.engine.Sensors()
	in := h.engine.Intent()

	msg := &livefeed.StatusMessage{
		Timestamp:       time.Now(),
		Phase:           h.engine.Phase().String(),
		Failure:         h.engine.FailureReason().String(),
		DistanceToHomeM: sv.DistanceToHomeM,
		AltitudeM:       sv.CurrentAltitudeCM / 100,
		TargetAltitudeM: in.TargetAltitudeCM / 100,
		VelocityToHome:  sv.VelocityToHomeCMS,
		ErrorAngleDeg:   sv.ErrorAngleDeg,
		GroundSpeedCMS:  sv.GroundSpeedCMS,
		YawRateDegS:     h.engine.YawRateDegS(),
		PitchBiasDeg:    h.engine.PitchBiasCentiDeg() / 100,
		RollBiasDeg:     h.engine.RollBiasCentiDeg() / 100,
		ThrottleNorm:    h.engine.ThrottleOutNormalized(),
		Available:       h.engine.IsAvailable(),
		MagDisabled:     h.engine.MagForceDisabled(),
	}
	h.streamer.Broadcast(msg)

	m.DistanceToHomeM.Set(sv.DistanceToHomeM)
	m.AltitudeM.Set(sv.CurrentAltitudeCM / 100)
	m.TargetAltitudeM.Set(in.TargetAltitudeCM / 100)
	m.ThrottleNorm.Set(h.engine.ThrottleOutNormalized())
	m.VelocityToHome.Set(sv.VelocityToHomeCMS)
	m.SetAvailable(h.engine.IsAvailable())
	if h.gps != nil {
		m.GPSSatellites.Set(float64(h.gps.NumSat()))
		m.SetGPSHealthy(h.gps.Healthy())
	} else if h.vehicle != nil {
		m.GPSSatellites.Set(float64(h.vehicle.NumSat()))
		m.SetGPSHealthy(h.vehicle.Healthy())
	}
}

// Shutdown stops the servers and the GPS link.
func (h *Huginn) Shutdown() {
	h.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if h.feedServer != nil {
		h.feedServer.Shutdown(shutdownCtx)
	}
	if h.metricsServer != nil {
		h.metricsServer.Shutdown(shutdownCtx)
	}
	if h.gps != nil {
		h.gps.Disconnect()
	}
	h.logger.Info("HUGINN shutdown complete")
}

// benchVehicle satisfies the flight-side interfaces when only a GPS is
// attached: level attitude, signal present, nothing to disarm.
type benchVehicle struct{}

func (b *benchVehicle) YawDeciDeg() float64                          { return 0 }
func (b *benchVehicle) CosTiltAngle() float64                        { return 1 }
func (b *benchVehicle) Accel() (x, y, z float64)                     { return 0, 0, 1 }
func (b *benchVehicle) AccelOneG() float64                           { return 1 }
func (b *benchVehicle) ThrottleCommand() float64                     { return 1000 }
func (b *benchVehicle) IsReceivingSignal() bool                      { return true }
func (b *benchVehicle) YawReversed() bool                            { return false }
func (b *benchVehicle) MinCheck() float64                            { return 1050 }
func (b *benchVehicle) Armed() bool                                  { return false }
func (b *benchVehicle) CrashRecoveryActive() bool                    { return false }
func (b *benchVehicle) SetArmingDisabled(reason rescue.DisarmReason) {}
func (b *benchVehicle) Disarm(reason rescue.DisarmReason)            {}
func (b *benchVehicle) RescueModeActive() bool                       { return false }

func printBanner() {
	fmt.Printf(`
  HUGINN %s (built %s)
  GPS Return-to-Home Rescue Controller
`, version, buildTime)
}
