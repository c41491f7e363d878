// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exports estimator events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

const namespace = "palm_pilot"

// Recorder implements estimator.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	ticks            prometheus.Counter
	softFaults       prometheus.Counter
	driftCorrections prometheus.Counter
	calibrations     *prometheus.CounterVec
	tickInterval     prometheus.Histogram
	angle            *prometheus.GaugeVec
	gyroBias         *prometheus.GaugeVec
	calibrationNoise *prometheus.GaugeVec
}

// NewRecorder creates and registers all collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Estimator ticks run.",
		}),
		softFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_faults_total",
			Help:      "Sensor reads that failed and reused the last sample.",
		}),
		driftCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_corrections_total",
			Help:      "Gyro bias nudges applied while still.",
		}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Bias installs by source (loaded or calibrated).",
		}, []string{"source"}),
		tickInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_interval_seconds",
			Help:      "Integration interval between ticks.",
			Buckets:   []float64{0.005, 0.01, 0.02, 0.03, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		angle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "angle_degrees",
			Help:      "Current orientation.",
		}, []string{"axis", "stage"}),
		gyroBias: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gyro_bias_dps",
			Help:      "Gyro bias in use.",
		}, []string{"axis"}),
		calibrationNoise: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_stddev",
			Help:      "Per-channel standard deviation of the last calibration capture.",
		}, []string{"sensor", "axis"}),
	}
	r.registry.MustRegister(
		r.ticks,
		r.softFaults,
		r.driftCorrections,
		r.calibrations,
		r.tickInterval,
		r.angle,
		r.gyroBias,
		r.calibrationNoise,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var axes = [3]string{"x", "y", "z"}

func (r *Recorder) ObserveTick(dt time.Duration, smoothed, fused orientation.Pose) {
	r.ticks.Inc()
	r.tickInterval.Observe(dt.Seconds())
	setPose(r.angle, "smoothed", smoothed)
	setPose(r.angle, "fused", fused)
}

func (r *Recorder) ObserveSoftFault(error) { r.softFaults.Inc() }

func (r *Recorder) ObserveDriftCorrection(gyroBias imu.Vec3) {
	r.driftCorrections.Inc()
	r.setGyroBias(gyroBias)
}

// ObserveCalibration counts the install and exports the new gyro bias.
// Stats are zero for loaded biases and only exported for fresh captures.
func (r *Recorder) ObserveCalibration(source string, bias calibration.BiasRecord, stats calibration.Stats) {
	r.calibrations.WithLabelValues(source).Inc()
	r.setGyroBias(bias.GyroBias)
	if stats.Samples == 0 {
		return
	}
	for i, a := range axes {
		r.calibrationNoise.WithLabelValues("accel", a).Set(stats.AccelStdDev[i])
		r.calibrationNoise.WithLabelValues("gyro", a).Set(stats.GyroStdDev[i])
	}
}

func (r *Recorder) setGyroBias(v imu.Vec3) {
	for i, a := range axes {
		r.gyroBias.WithLabelValues(a).Set(v[i])
	}
}

func setPose(g *prometheus.GaugeVec, stage string, p orientation.Pose) {
	g.WithLabelValues("roll", stage).Set(p.Roll)
	g.WithLabelValues("pitch", stage).Set(p.Pitch)
	g.WithLabelValues("yaw", stage).Set(p.Yaw)
}
