package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/estimator"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

// RunConsoleMQTT prints everything the producer publishes until ctx ends.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("console: configuration not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	for topic, format := range consoleFormatters(cfg, os.Stdout) {
		format := format
		err := subscribe(client, topic, func(_ mqtt.Client, msg mqtt.Message) {
			if err := format(msg.Payload()); err != nil {
				log.Printf("console: %s: %v", msg.Topic(), err)
			}
		})
		if err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

// consoleFormatters maps each producer topic to a printer for its payload.
func consoleFormatters(cfg *config.Config, out io.Writer) map[string]func([]byte) error {
	pose := func(tag string) func([]byte) error {
		return func(payload []byte) error {
			var p orientation.Pose
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("pose unmarshal error: %w", err)
			}
			fmt.Fprintf(out, "[%s] ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f\n", tag, p.Roll, p.Pitch, p.Yaw)
			return nil
		}
	}
	return map[string]func([]byte) error{
		cfg.TopicPose:      pose("POSE"),
		cfg.TopicPoseFused: pose("FUSE"),
		cfg.TopicIMU: func(payload []byte) error {
			var s imu.Sample
			if err := json.Unmarshal(payload, &s); err != nil {
				return fmt.Errorf("imu unmarshal error: %w", err)
			}
			fmt.Fprintf(out, "[IMU ] ax=%7.3f ay=%7.3f az=%7.3f  gx=%8.2f gy=%8.2f gz=%8.2f\n",
				s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz)
			return nil
		},
		cfg.TopicStatus: func(payload []byte) error {
			var st estimator.Status
			if err := json.Unmarshal(payload, &st); err != nil {
				return fmt.Errorf("status unmarshal error: %w", err)
			}
			fmt.Fprintf(out, "[STAT] ready=%v calibrating=%v source=%s ticks=%d faults=%d still=%d drift=%d gyro_bias=%.3f,%.3f,%.3f\n",
				st.Ready, st.Calibrating, st.CalibrationSource, st.Ticks, st.SoftFaults,
				st.StillCount, st.DriftCorrections,
				st.Bias.GyroBias[0], st.Bias.GyroBias[1], st.Bias.GyroBias[2])
			return nil
		},
	}
}
