// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/calibration"
	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/estimator"
	"github.com/relabs-tech/palm_pilot/internal/metrics"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
	"github.com/relabs-tech/palm_pilot/internal/sensors"
)

// poseEstimator is what the services need from *estimator.Estimator.
type poseEstimator interface {
	Next() (orientation.Pose, error)
	Fused() orientation.Pose
	Snapshot() estimator.Status
	Setup(ctx context.Context) error
	RecalibrateAsync(ctx context.Context) <-chan error
}

// newEstimator opens the sensor and builds an estimator on the configured
// calibration file. The caller owns the returned source.
func newEstimator(cfg *config.Config, mock bool) (*estimator.Estimator, sensors.IMUSource, error) {
	src, err := sensors.Open(mock)
	if err != nil {
		return nil, nil, err
	}
	est, err := estimator.New(src, calibration.NewFileStore(cfg.CalibrationFile), estimator.FromAppConfig(cfg))
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return est, src, nil
}

// producer runs the estimator tick loop and publishes every result.
type producer struct {
	est    poseEstimator
	pub    publisher
	topics *config.Config

	statusEvery int
	logEvery    int
	ticks       int
	calDone     <-chan error

	// resetPending holds a reset that arrived during a recalibration.
	resetPending bool
}

func newProducer(est poseEstimator, pub publisher, cfg *config.Config) *producer {
	return &producer{
		est:         est,
		pub:         pub,
		topics:      cfg,
		statusEvery: everyN(1000, cfg.IMUSampleInterval),
		logEvery:    everyN(cfg.ConsoleLogInterval, cfg.IMUSampleInterval),
	}
}

// everyN is how many ticks of tickMS fit in periodMS, at least one.
func everyN(periodMS, tickMS int) int {
	if tickMS <= 0 || periodMS <= tickMS {
		return 1
	}
	return periodMS / tickMS
}

func (p *producer) tick() error {
	pose, err := p.est.Next()
	if err != nil {
		return err
	}
	p.ticks++

	if err := publishJSON(p.pub, p.topics.TopicPose, pose); err != nil {
		log.Warn(err)
	}
	if err := publishJSON(p.pub, p.topics.TopicPoseFused, p.est.Fused()); err != nil {
		log.Warn(err)
	}

	if p.ticks%p.statusEvery == 0 || p.ticks%p.logEvery == 0 {
		st := p.est.Snapshot()
		if err := publishJSON(p.pub, p.topics.TopicIMU, st.LastRaw); err != nil {
			log.Warn(err)
		}
		if p.ticks%p.statusEvery == 0 {
			p.publishStatus(st)
		}
		if p.ticks%p.logEvery == 0 {
			log.Debugf("tick %d: pose R=%.2f P=%.2f Y=%.2f | accel ax=%.3f ay=%.3f az=%.3f | gyro gx=%.2f gy=%.2f gz=%.2f",
				st.Ticks, pose.Roll, pose.Pitch, pose.Yaw,
				st.LastRaw.Ax, st.LastRaw.Ay, st.LastRaw.Az,
				st.LastRaw.Gx, st.LastRaw.Gy, st.LastRaw.Gz)
		}
	}
	return nil
}

func (p *producer) publishStatus(st estimator.Status) {
	if err := publishJSON(p.pub, p.topics.TopicStatus, st); err != nil {
		log.Warn(err)
	}
}

// handle applies a control command. A reset is a new session: Setup runs
// again and the pose restarts from level. Recalibration runs in the
// background while ticks continue; a reset received meanwhile runs once it
// completes.
func (p *producer) handle(ctx context.Context, cmd Command) {
	switch cmd {
	case CommandReset:
		if p.calDone != nil {
			log.Println("producer: session reset deferred until recalibration completes")
			p.resetPending = true
			return
		}
		p.reset(ctx)
	case CommandRecalibrate:
		if p.calDone != nil {
			log.Warn("producer: recalibration already running")
			return
		}
		log.Println("producer: recalibration requested, keep the sensor still")
		p.calDone = p.est.RecalibrateAsync(ctx)
		p.publishStatus(p.est.Snapshot())
	}
}

func (p *producer) reset(ctx context.Context) {
	log.Println("producer: session reset requested")
	if err := p.est.Setup(ctx); err != nil {
		log.Warnf("producer: reset failed: %v", err)
	}
	p.publishStatus(p.est.Snapshot())
}

// calibrationFinished is called with the result of a background pass.
func (p *producer) calibrationFinished(ctx context.Context, err error) {
	p.calDone = nil
	if err != nil {
		log.Warnf("producer: recalibration failed: %v", err)
	} else {
		log.Println("producer: recalibration complete")
	}
	if p.resetPending {
		p.resetPending = false
		p.reset(ctx)
		return
	}
	p.publishStatus(p.est.Snapshot())
}

// controlHandler queues control commands for the tick loop. Retained
// messages are stale commands left on the broker and are ignored.
func controlHandler(commands chan<- Command) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			log.Warnf("producer: ignoring retained control message %q", msg.Payload())
			return
		}
		cmd, err := ParseCommand(msg.Payload())
		if err != nil {
			log.Warnf("producer: %v", err)
			return
		}
		select {
		case commands <- cmd:
		default:
			log.Warnf("producer: dropping %q, command queue full", cmd)
		}
	}
}

// RunIMUProducer runs the estimator against the MPU-6050 (or the mock
// sensor) and publishes poses to MQTT until ctx is cancelled.
func RunIMUProducer(ctx context.Context, mock bool) error {
	log.Println("starting palm-pilot orientation producer")

	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("producer: configuration not initialized")
	}

	est, src, err := newEstimator(cfg, mock)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer src.Close()

	recorder := metrics.NewRecorder()
	est.WithObserver(recorder)

	if err := est.Setup(ctx); err != nil {
		return fmt.Errorf("producer: setup: %w", err)
	}

	if cfg.MetricsPort > 0 {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort)}
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		srv.Handler = mux
		go func() {
			log.Printf("producer: metrics on %s/metrics", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnf("producer: metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	commands := make(chan Command, 4)
	if err := subscribe(client, cfg.TopicControl, controlHandler(commands)); err != nil {
		return err
	}

	p := newProducer(est, newStatePublisher(client), cfg)
	p.publishStatus(est.Snapshot())

	log.Println("connected to MQTT, starting publish loop")
	ticker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("producer: shutting down")
			return nil
		case cmd := <-commands:
			p.handle(ctx, cmd)
		case err := <-p.calDone:
			p.calibrationFinished(ctx, err)
		case <-ticker.C:
			if err := p.tick(); err != nil {
				log.Warnf("producer: tick: %v", err)
			}
		}
	}
}
