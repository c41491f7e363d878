// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package estimator turns raw 6-axis samples into a roll/pitch/yaw estimate.
//
// An Estimator owns the bias, the low-pass filter state, the fused and
// smoothed pose and the stillness tracker. Setup must run before Next.
// All methods are safe for concurrent use; a mutex serializes full ticks.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/drift"
	"github.com/relabs-tech/palm_pilot/internal/filter"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

var (
	// ErrNotReady is returned by Next before Setup has succeeded.
	ErrNotReady = errors.New("estimator: not set up")
	// ErrCalibrating is returned when a calibration is already in flight.
	ErrCalibrating = errors.New("estimator: calibration already running")
)

// Calibration sources reported in Status.
const (
	SourceLoaded     = "loaded"
	SourceCalibrated = "calibrated"
)

// Observer receives estimator events. Implementations must not block.
type Observer interface {
	ObserveTick(dt time.Duration, smoothed, fused orientation.Pose)
	ObserveSoftFault(err error)
	ObserveDriftCorrection(gyroBias imu.Vec3)
	ObserveCalibration(source string, bias calibration.BiasRecord, stats calibration.Stats)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(time.Duration, orientation.Pose, orientation.Pose) {}
func (nopObserver) ObserveSoftFault(error) {}
func (nopObserver) ObserveDriftCorrection(imu.Vec3) {}
func (nopObserver) ObserveCalibration(string, calibration.BiasRecord, calibration.Stats) {}

// Status is a point-in-time copy of the estimator state.
type Status struct {
	Ready             bool                   `json:"ready"`
	Calibrating       bool                   `json:"calibrating"`
	Pose              orientation.Pose       `json:"pose"`
	Fused             orientation.Pose       `json:"fused"`
	Bias              calibration.BiasRecord `json:"bias"`
	CalibrationSource string                 `json:"calibration_source,omitempty"`
	CalibratedAt      time.Time              `json:"calibrated_at"`
	Stats             *calibration.Stats     `json:"calibration_stats,omitempty"`
	StillCount        int                    `json:"still_count"`
	DriftCorrections  int                    `json:"drift_corrections"`
	Ticks             uint64                 `json:"ticks"`
	SoftFaults        uint64                 `json:"soft_faults"`
	LastRaw           imu.Sample             `json:"last_raw"`
	Filtered          imu.Sample             `json:"filtered"`
}

// Estimator is the orientation pipeline for one sensor.
type Estimator struct {
	cfg      Config
	reader   *lockedReader
	store    calibration.Store
	observer Observer
	now      func() time.Time

	calibrating atomic.Bool

	mu       sync.Mutex
	ready    bool
	bias     calibration.BiasRecord
	pipeline filter.Pipeline
	fstate   filter.State
	fusion   orientation.Complementary
	fused    orientation.Pose
	smoother orientation.Smoother
	tracker  drift.Tracker
	filtered imu.Sample
	lastRaw  imu.Sample
	lastTick time.Time

	ticks      uint64
	softFaults uint64
	calSource  string
	calAt      time.Time
	calStats   *calibration.Stats
}

// New builds an Estimator reading from r and persisting its bias in store.
// store may be nil, in which case every Setup calibrates.
func New(r imu.Reader, store calibration.Store, cfg Config) (*Estimator, error) {
	if r == nil {
		return nil, fmt.Errorf("estimator: nil reader")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Drift.VerticalAxis = cfg.VerticalAxis
	return &Estimator{
		cfg:      cfg,
		reader:   &lockedReader{r: r},
		store:    store,
		observer: nopObserver{},
		now:      time.Now,
		pipeline: filter.Pipeline{
			AccelAlpha:   cfg.AccelAlpha,
			GyroAlpha:    cfg.GyroAlpha,
			ClampG:       cfg.TiltClampG,
			VerticalAxis: cfg.VerticalAxis,
		},
		fusion:   orientation.Complementary{Alpha: cfg.ComplementaryAlpha},
		smoother: orientation.Smoother{Alpha: cfg.SmoothingAlpha},
	}, nil
}

// WithClock replaces the time source. Production code keeps time.Now, whose
// monotonic reading makes tick intervals immune to wall clock steps.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	return e
}

// WithObserver registers o for tick, fault, drift and calibration events.
func (e *Estimator) WithObserver(o Observer) *Estimator {
	if o == nil {
		o = nopObserver{}
	}
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
	return e
}

// Config returns the tunables the estimator was built with.
func (e *Estimator) Config() Config { return e.cfg }

// Setup loads the saved bias, or calibrates and saves when there is none or
// the saved one cannot be read, then resets all filter and pose state. It
// must run before the first Next and again for every session reset.
func (e *Estimator) Setup(ctx context.Context) error {
	if !e.calibrating.CompareAndSwap(false, true) {
		return ErrCalibrating
	}
	defer e.calibrating.Store(false)

	if e.store != nil {
		bias, err := e.store.Load()
		if err == nil {
			log.Printf("estimator: loaded calibration accel=%v gyro=%v", bias.AccelBias, bias.GyroBias)
			e.install(bias, SourceLoaded, nil)
			return nil
		}
		if errors.Is(err, calibration.ErrNotFound) {
			log.Println("estimator: no saved calibration, calibrating (keep the sensor still)")
		} else {
			log.Warnf("estimator: saved calibration unusable, recalibrating: %v", err)
		}
	}
	return e.calibrate(ctx)
}

// Recalibrate runs a fresh calibration pass, saves it and resets all state.
// Ticks are blocked only for the final swap, not for the capture.
func (e *Estimator) Recalibrate(ctx context.Context) error {
	if !e.calibrating.CompareAndSwap(false, true) {
		return ErrCalibrating
	}
	defer e.calibrating.Store(false)
	return e.calibrate(ctx)
}

// RecalibrateAsync runs Recalibrate in its own goroutine. The returned
// channel yields the result once and is then closed. Next keeps serving the
// old bias until the new one is swapped in.
func (e *Estimator) RecalibrateAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if !e.calibrating.CompareAndSwap(false, true) {
		done <- ErrCalibrating
		close(done)
		return done
	}
	go func() {
		defer close(done)
		defer e.calibrating.Store(false)
		done <- e.calibrate(ctx)
	}()
	return done
}

// calibrate must be called with the calibrating flag held.
func (e *Estimator) calibrate(ctx context.Context) error {
	c := calibration.NewCalibrator(e.reader)
	c.Interval = e.cfg.CalibrationInterval
	c.VerticalAxis = e.cfg.VerticalAxis

	res, err := c.Calibrate(ctx, e.cfg.CalibrationSamples)
	if err != nil {
		return fmt.Errorf("estimator: calibration failed: %w", err)
	}
	log.WithFields(log.Fields{
		"samples":  res.Stats.Samples,
		"failures": res.Stats.ReadFailures,
		"duration": fmt.Sprintf("%.2fs", res.Stats.Duration),
	}).Printf("estimator: calibrated accel=%v gyro=%v", res.Bias.AccelBias, res.Bias.GyroBias)

	if e.store != nil {
		if err := e.store.Save(res.Bias); err != nil {
			log.Warnf("estimator: could not save calibration, continuing with it in memory: %v", err)
		}
	}
	e.install(res.Bias, SourceCalibrated, &res.Stats)
	return nil
}

// install swaps in bias and resets every piece of derived state.
func (e *Estimator) install(bias calibration.BiasRecord, source string, stats *calibration.Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bias = bias
	e.fstate = filter.State{}
	e.tracker.Reset()

	raw, err := e.reader.ReadRaw()
	if err != nil {
		log.Warnf("estimator: priming read failed, filters start from zero: %v", err)
		e.filtered = e.pipeline.Current("", &e.fstate)
		e.lastRaw = imu.Sample{}
	} else {
		e.filtered = e.pipeline.Prime(raw, bias, &e.fstate)
		e.lastRaw = raw
	}

	e.fused = orientation.Pose{}
	e.smoother.Reset(e.fused)
	e.lastTick = e.now()
	e.calSource = source
	e.calAt = e.lastTick
	e.calStats = stats
	e.ready = true

	e.observer.ObserveCalibration(source, bias, derefStats(stats))
}

// Next reads one sample and runs one full tick, returning the smoothed pose
// (the fused pose when smoothing is disabled). A failed read is a soft
// fault: it is logged and counted, and the tick integrates the last good
// filtered sample instead.
func (e *Estimator) Next() (orientation.Pose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return orientation.Pose{}, ErrNotReady
	}

	now := e.now()
	dt := now.Sub(e.lastTick)
	if dt < 0 {
		dt = 0
	}
	e.lastTick = now

	raw, err := e.reader.ReadRaw()
	fresh := err == nil
	if fresh {
		e.lastRaw = raw
		e.filtered = e.pipeline.Process(raw, e.bias, &e.fstate)
	} else {
		e.softFaults++
		log.WithFields(log.Fields{
			"faults": e.softFaults,
			"tick":   e.ticks,
		}).Warnf("estimator: sensor read failed, reusing last sample: %v", err)
		e.observer.ObserveSoftFault(err)
	}

	if fresh {
		if bias, ok := e.cfg.Drift.Observe(e.filtered, &e.tracker, e.bias); ok {
			e.bias = bias
			log.WithFields(log.Fields{
				"gyro_bias":  bias.GyroBias,
				"correction": e.tracker.Correction,
			}).Debug("estimator: drift correction applied")
			e.observer.ObserveDriftCorrection(bias.GyroBias)
		}
	}

	e.fused = e.fusion.Update(e.filtered, dt.Seconds(), e.fused)
	out := e.smoother.Smooth(e.fused)
	e.ticks++
	e.observer.ObserveTick(dt, out, e.fused)
	return out, nil
}

// Fused returns the complementary filter output of the last tick, before
// smoothing.
func (e *Estimator) Fused() orientation.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fused
}

// Snapshot returns a copy of the current state.
func (e *Estimator) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		Ready:             e.ready,
		Calibrating:       e.calibrating.Load(),
		Pose:              e.smoother.Value(),
		Fused:             e.fused,
		Bias:              e.bias,
		CalibrationSource: e.calSource,
		CalibratedAt:      e.calAt,
		StillCount:        e.tracker.StillCount,
		DriftCorrections:  e.tracker.Corrections,
		Ticks:             e.ticks,
		SoftFaults:        e.softFaults,
		LastRaw:           e.lastRaw,
		Filtered:          e.filtered,
	}
	if e.calStats != nil {
		st := *e.calStats
		s.Stats = &st
	}
	return s
}

func derefStats(s *calibration.Stats) calibration.Stats {
	if s == nil {
		return calibration.Stats{}
	}
	return *s
}

// lockedReader serializes access to the sensor so a background calibration
// and the tick loop never interleave a bus transaction.
type lockedReader struct {
	mu sync.Mutex
	r  imu.Reader
}

func (l *lockedReader) ReadRaw() (imu.Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.ReadRaw()
}
