package gpslink

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DriverConfig holds serial GPS parameters.
type DriverConfig struct {
	Port     string
	BaudRate int

	// StaleAfter marks the receiver unhealthy when no valid sentence
	// arrived within this window.
	StaleAfter time.Duration

	// MinFixQuality is the lowest GGA quality treated as a usable fix.
	MinFixQuality int
}

// Driver reads NMEA sentences from a serial receiver and maintains the
// home-relative view the rescue engine consumes. The read loop runs in
// its own goroutine; the flight loop only touches the snapshot under a
// short lock, and the new-sample flag is atomic because the two sides
// race by design.
type Driver struct {
	mu sync.RWMutex

	port      serial.Port
	connected bool
	config    DriverConfig
	logger    *logrus.Logger

	// Latest fix.
	latitude    float64
	longitude   float64
	altitudeM   float64
	numSat      int
	fixQuality  int
	speedCMS    float64
	lastValidAt time.Time

	// Home point.
	homeLat     float64
	homeLon     float64
	homeSet     bool
	distanceCM  float64
	bearingDeci float64

	newSample atomic.Bool

	// Statistics
	sentencesParsed uint64
	parseErrors     uint64
}

// NewDriver creates a GPS driver for the given port.
func NewDriver(config DriverConfig, logger *logrus.Logger) *Driver {
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = 3 * time.Second
	}
	if config.MinFixQuality == 0 {
		config.MinFixQuality = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{
		config: config,
		logger: logger,
	}
}

// Connect opens the serial port.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected to %s", d.config.Port)
	}

	mode := &serial.Mode{
		BaudRate: d.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open GPS port %s: %w", d.config.Port, err)
	}

	d.port = port
	d.connected = true
	d.logger.WithFields(logrus.Fields{
		"port": d.config.Port,
		"baud": d.config.BaudRate,
	}).Info("GPS receiver connected")
	return nil
}

// Disconnect closes the serial port.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false
	return d.port.Close()
}

// Run reads sentences until the context ends. Intended as a goroutine.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.RLock()
	port := d.port
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return fmt.Errorf("GPS driver not connected")
	}

	scanner := bufio.NewScanner(port)
	lines := make(chan string, 64)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("GPS serial stream closed: %w", scanner.Err())
			}
			d.ingest(line, time.Now())
		}
	}
}

// ingest folds one NMEA line into the snapshot.
func (d *Driver) ingest(line string, now time.Time) {
	s, err := ParseSentence(line)
	if err != nil {
		d.mu.Lock()
		d.parseErrors++
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentencesParsed++

	switch s.Type {
	case "GGA":
		d.fixQuality = s.FixQuality
		d.numSat = s.NumSat
		d.altitudeM = s.AltitudeM
		if s.HasPosition && s.FixQuality >= d.config.MinFixQuality {
			d.applyPosition(s.Latitude, s.Longitude, now)
		}
	case "RMC":
		if s.Valid {
			d.speedCMS = s.GroundSpeedKnots * knotsToCMS
			if s.HasPosition {
				d.applyPosition(s.Latitude, s.Longitude, now)
			}
		}
	case "VTG":
		if s.Valid {
			d.speedCMS = s.GroundSpeedKnots * knotsToCMS
		}
	}
}

// applyPosition updates the fix and the home-relative vector, then raises
// the new-sample flag for the flight loop. Callers hold d.mu.
func (d *Driver) applyPosition(lat, lon float64, now time.Time) {
	d.latitude = lat
	d.longitude = lon
	d.lastValidAt = now

	if d.homeSet {
		d.distanceCM, d.bearingDeci = homeVector(lat, lon, d.homeLat, d.homeLon)
	}
	d.newSample.Store(true)
}

// LatchHome records the current position as home. Returns an error when
// there is no usable fix yet.
func (d *Driver) LatchHome() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fixQuality < d.config.MinFixQuality || d.lastValidAt.IsZero() {
		return fmt.Errorf("cannot latch home without a fix")
	}
	d.homeLat = d.latitude
	d.homeLon = d.longitude
	d.homeSet = true
	d.distanceCM = 0
	d.bearingDeci = 0
	d.logger.WithFields(logrus.Fields{
		"lat": d.homeLat,
		"lon": d.homeLon,
	}).Info("Home position latched")
	return nil
}

// ClearHome forgets the home point, e.g. on disarm.
func (d *Driver) ClearHome() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.homeSet = false
}

// AltitudeCM returns the GPS altitude, for the altitude filter.
func (d *Driver) AltitudeCM() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.altitudeM * 100
}

// Stats returns parse counters.
func (d *Driver) Stats() (parsed, errors uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sentencesParsed, d.parseErrors
}

// GPSSource implementation consumed by the rescue engine.

// Healthy reports whether valid data arrived recently.
func (d *Driver) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastValidAt.IsZero() {
		return false
	}
	return time.Since(d.lastValidAt) < d.config.StaleAfter
}

// NumSat returns the satellite count from the last GGA.
func (d *Driver) NumSat() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.numSat
}

// HasFix reports whether the receiver has a usable fix.
func (d *Driver) HasFix() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fixQuality >= d.config.MinFixQuality
}

// HasHomeFix reports whether a home point is latched.
func (d *Driver) HasHomeFix() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.homeSet
}

// DistanceToHomeCM returns the current distance to home.
func (d *Driver) DistanceToHomeCM() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.distanceCM
}

// DirectionToHomeDeci returns the bearing to home in tenths of a degree.
func (d *Driver) DirectionToHomeDeci() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bearingDeci
}

// GroundSpeedCMS returns the last reported ground speed.
func (d *Driver) GroundSpeedCMS() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.speedCMS
}

// NewSampleAvailable reports whether a position arrived since the last
// ClearNewSample.
func (d *Driver) NewSampleAvailable() bool {
	return d.newSample.Load()
}

// ClearNewSample consumes the new-sample flag.
func (d *Driver) ClearNewSample() {
	d.newSample.Store(false)
}
