package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/estimator"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

const (
	displayWidth  = 128
	displayHeight = 64
)

// displayData holds the latest data for the display.
type displayData struct {
	mu         sync.RWMutex
	pose       orientation.Pose
	havePose   bool
	status     estimator.Status
	haveStatus bool
}

func (d *displayData) onPose(payload []byte) error {
	var p orientation.Pose
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pose unmarshal error: %w", err)
	}
	d.mu.Lock()
	d.pose, d.havePose = p, true
	d.mu.Unlock()
	return nil
}

func (d *displayData) onStatus(payload []byte) error {
	var st estimator.Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("status unmarshal error: %w", err)
	}
	d.mu.Lock()
	d.status, d.haveStatus = st, true
	d.mu.Unlock()
	return nil
}

// RunDisplay shows the pose published by the producer on an SSD1306 OLED.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("display: configuration not initialized")
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Printf("display: initialized on %s", bus)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	data := &displayData{}
	handlers := map[string]func([]byte) error{
		cfg.TopicPose:   data.onPose,
		cfg.TopicStatus: data.onStatus,
	}
	for topic, h := range handlers {
		h := h
		err := subscribe(client, topic, func(_ mqtt.Client, msg mqtt.Message) {
			if err := h(msg.Payload()); err != nil {
				log.Printf("display: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		data.mu.RLock()
		img := renderPose(data.pose, data.havePose, data.status, data.haveStatus)
		data.mu.RUnlock()
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: draw error: %v", err)
		}
	}
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, text string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func renderPose(pose orientation.Pose, havePose bool, st estimator.Status, haveStatus bool) *image1bit.VerticalLSB {
	img, d := newFrame()

	if haveStatus && st.Calibrating {
		drawLine(d, 0, 26, "Calibrating")
		drawLine(d, 0, 39, "Hold still...")
		return img
	}
	if !havePose {
		drawLine(d, 0, 26, "Orientation")
		drawLine(d, 0, 39, "Waiting...")
		return img
	}

	drawLine(d, 0, 13, fmt.Sprintf("R: %6.1f", pose.Roll))
	drawLine(d, 0, 26, fmt.Sprintf("P: %6.1f", pose.Pitch))
	drawLine(d, 0, 39, fmt.Sprintf("Y: %6.1f", pose.Yaw))
	if haveStatus {
		drawLine(d, 0, 56, fmt.Sprintf("%s f:%d", shortSource(st.CalibrationSource), st.SoftFaults))
	}
	return img
}

func shortSource(s string) string {
	switch s {
	case estimator.SourceLoaded:
		return "cal:file"
	case estimator.SourceCalibrated:
		return "cal:new"
	}
	return "cal:-"
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newFrame()
	drawLine(d, 20, 26, "Palm Pilot")
	drawLine(d, 10, 43, "Hold level")
	return img
}
