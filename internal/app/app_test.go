package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/estimator"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{"reset", CommandReset, false},
		{" RECALIBRATE\n", CommandRecalibrate, false},
		{`{"command":"reset"}`, CommandReset, false},
		{`{"command":"fly"}`, "", true},
		{`{"command":`, "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseCommand([]byte(c.in))
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("ParseCommand(%q)=%q,%v want %q (err=%v)", c.in, got, err, c.want, c.wantErr)
		}
	}
}

func TestEveryN(t *testing.T) {
	cases := []struct{ period, tick, want int }{
		{1000, 20, 50},
		{100, 20, 5},
		{10, 20, 1},
		{100, 0, 1},
	}
	for _, c := range cases {
		if got := everyN(c.period, c.tick); got != c.want {
			t.Fatalf("everyN(%d,%d)=%d want %d", c.period, c.tick, got, c.want)
		}
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.msgs == nil {
		p.msgs = map[string][][]byte{}
	}
	p.msgs[topic] = append(p.msgs[topic], payload)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[topic])
}

type fakeEstimator struct {
	pose        orientation.Pose
	setups      int
	recalCalls  int
	recalResult chan error
	nextErr     error
}

func (f *fakeEstimator) Next() (orientation.Pose, error) { return f.pose, f.nextErr }
func (f *fakeEstimator) Fused() orientation.Pose         { return f.pose }
func (f *fakeEstimator) Snapshot() estimator.Status {
	return estimator.Status{Ready: true, Pose: f.pose, LastRaw: imu.Sample{Source: "mock", Az: 1}}
}
func (f *fakeEstimator) Setup(context.Context) error { f.setups++; return nil }
func (f *fakeEstimator) RecalibrateAsync(context.Context) <-chan error {
	f.recalCalls++
	return f.recalResult
}

func testAppConfig() *config.Config {
	cfg := config.Default()
	cfg.IMUSampleInterval = 100
	cfg.ConsoleLogInterval = 200
	return cfg
}

func TestProducer_TickPublishes(t *testing.T) {
	cfg := testAppConfig()
	pub := &recordingPublisher{}
	est := &fakeEstimator{pose: orientation.Pose{Roll: 1.5, Pitch: -2, Yaw: 30}}
	p := newProducer(est, pub, cfg)

	for i := 0; i < 10; i++ {
		if err := p.tick(); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if n := pub.count(cfg.TopicPose); n != 10 {
		t.Fatalf("pose messages=%d want 10", n)
	}
	if n := pub.count(cfg.TopicPoseFused); n != 10 {
		t.Fatalf("fused messages=%d want 10", n)
	}
	// Status once per second at 100ms ticks, raw IMU every 200ms.
	if n := pub.count(cfg.TopicStatus); n != 1 {
		t.Fatalf("status messages=%d want 1", n)
	}
	if n := pub.count(cfg.TopicIMU); n != 5 {
		t.Fatalf("imu messages=%d want 5", n)
	}

	var got orientation.Pose
	if err := json.Unmarshal(pub.msgs[cfg.TopicPose][0], &got); err != nil || got != est.pose {
		t.Fatalf("pose payload=%s err=%v", pub.msgs[cfg.TopicPose][0], err)
	}
}

func TestProducer_TickErrorPublishesNothing(t *testing.T) {
	cfg := testAppConfig()
	pub := &recordingPublisher{}
	p := newProducer(&fakeEstimator{nextErr: estimator.ErrNotReady}, pub, cfg)
	if err := p.tick(); !errors.Is(err, estimator.ErrNotReady) {
		t.Fatalf("err=%v want ErrNotReady", err)
	}
	if n := pub.count(cfg.TopicPose); n != 0 {
		t.Fatalf("published %d poses", n)
	}
}

func TestProducer_PublishFailureDoesNotStopTick(t *testing.T) {
	p := newProducer(&fakeEstimator{}, &recordingPublisher{err: errors.New("broker down")}, testAppConfig())
	if err := p.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestProducer_HandleCommands(t *testing.T) {
	cfg := testAppConfig()
	pub := &recordingPublisher{}
	est := &fakeEstimator{recalResult: make(chan error, 1)}
	p := newProducer(est, pub, cfg)
	ctx := context.Background()

	p.handle(ctx, CommandReset)
	if est.setups != 1 {
		t.Fatalf("setups=%d want 1", est.setups)
	}

	p.handle(ctx, CommandRecalibrate)
	p.handle(ctx, CommandRecalibrate)
	if est.recalCalls != 1 {
		t.Fatalf("recalibrate calls=%d want 1 while one is running", est.recalCalls)
	}
	if p.calDone == nil {
		t.Fatalf("calDone not set")
	}

	p.calibrationFinished(ctx, nil)
	if p.calDone != nil {
		t.Fatalf("calDone not cleared")
	}
	p.handle(ctx, CommandRecalibrate)
	if est.recalCalls != 2 {
		t.Fatalf("recalibrate calls=%d want 2", est.recalCalls)
	}
	if n := pub.count(cfg.TopicStatus); n != 4 {
		t.Fatalf("status messages=%d want 4", n)
	}
}

func TestProducer_ResetDuringRecalibrationRunsAfterwards(t *testing.T) {
	cfg := testAppConfig()
	pub := &recordingPublisher{}
	est := &fakeEstimator{recalResult: make(chan error, 1)}
	p := newProducer(est, pub, cfg)
	ctx := context.Background()

	p.handle(ctx, CommandRecalibrate)
	p.handle(ctx, CommandReset)
	p.handle(ctx, CommandReset)
	if est.setups != 0 {
		t.Fatalf("setups=%d want 0 while recalibrating", est.setups)
	}

	p.calibrationFinished(ctx, nil)
	if est.setups != 1 {
		t.Fatalf("setups=%d want 1 after recalibration", est.setups)
	}
	if p.resetPending {
		t.Fatalf("reset still pending")
	}

	p.handle(ctx, CommandReset)
	if est.setups != 2 {
		t.Fatalf("setups=%d want 2", est.setups)
	}
}

func TestProducer_FailedRecalibrationStillRunsPendingReset(t *testing.T) {
	est := &fakeEstimator{recalResult: make(chan error, 1)}
	p := newProducer(est, &recordingPublisher{}, testAppConfig())
	ctx := context.Background()

	p.handle(ctx, CommandRecalibrate)
	p.handle(ctx, CommandReset)
	p.calibrationFinished(ctx, errors.New("sensor moved"))
	if est.setups != 1 || p.calDone != nil {
		t.Fatalf("setups=%d calDone=%v", est.setups, p.calDone)
	}
}

func TestConsoleFormatters(t *testing.T) {
	cfg := config.Default()
	var out bytes.Buffer
	f := consoleFormatters(cfg, &out)

	if err := f[cfg.TopicPose]([]byte(`{"roll":1.234,"pitch":-5,"yaw":361}`)); err != nil {
		t.Fatalf("pose: %v", err)
	}
	if err := f[cfg.TopicIMU]([]byte(`{"ax":0.01,"ay":0,"az":1,"gx":0,"gy":0,"gz":2.5}`)); err != nil {
		t.Fatalf("imu: %v", err)
	}
	if err := f[cfg.TopicStatus]([]byte(`{"ready":true,"calibration_source":"loaded","ticks":7}`)); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := f[cfg.TopicPoseFused]([]byte(`nope`)); err == nil {
		t.Fatalf("expected unmarshal error")
	}

	text := out.String()
	for _, want := range []string{
		"[POSE] ROLL=  1.23  PITCH= -5.00  YAW=361.00",
		"gz=    2.50",
		"source=loaded ticks=7",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

var errExhausted = errors.New("exhausted")

type sliceSource struct {
	poses []orientation.Pose
	i     int
}

func (s *sliceSource) Next() (orientation.Pose, error) {
	if s.i == len(s.poses) {
		return orientation.Pose{}, errExhausted
	}
	p := s.poses[s.i]
	s.i++
	return p, nil
}

func TestRunConsoleLoop(t *testing.T) {
	src := &sliceSource{poses: []orientation.Pose{{Roll: 1}, {Roll: 2}, {Roll: 3}, {Roll: 4}}}
	var out bytes.Buffer
	if err := runConsoleLoop(context.Background(), src, &out, time.Millisecond, 2); !errors.Is(err, errExhausted) {
		t.Fatalf("err=%v want errExhausted", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ROLL=  2.00") || !strings.HasPrefix(lines[1], "ROLL=  4.00") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestRunConsoleLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if err := runConsoleLoop(ctx, &sliceSource{}, &out, time.Hour, 1); err != nil {
		t.Fatalf("err=%v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}
}
