package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/estimator"
	"github.com/relabs-tech/palm_pilot/internal/orientation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webState is the latest data seen on MQTT plus the live websocket clients.
type webState struct {
	mu         sync.RWMutex
	lastPose   orientation.Pose
	havePose   bool
	lastStatus json.RawMessage

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	control func(Command) error
}

// wsClient buffers outgoing frames so a slow browser never blocks MQTT.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWebState(control func(Command) error) *webState {
	return &webState{
		clients: make(map[*wsClient]struct{}),
		control: control,
	}
}

func (s *webState) onPose(payload []byte) {
	var p orientation.Pose
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("MQTT payload unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.lastPose = p
	s.havePose = true
	s.mu.Unlock()
	s.broadcast(payload)
}

func (s *webState) onStatus(payload []byte) {
	var st estimator.Status
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("MQTT status unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.lastStatus = append(json.RawMessage(nil), payload...)
	s.mu.Unlock()
}

func (s *webState) broadcast(frame []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			// Drop frames for clients that fall behind.
		}
	}
}

func (s *webState) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orientation", s.handleOrientation)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/reset", s.handleControl(CommandReset))
	mux.HandleFunc("/api/recalibrate", s.handleControl(CommandRecalibrate))
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func (s *webState) handleOrientation(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	pose, have := s.lastPose, s.havePose
	s.mu.RUnlock()

	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pose); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (s *webState) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.lastStatus
	s.mu.RUnlock()

	if status == nil {
		http.Error(w, "no status yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status)
}

func (s *webState) handleControl(cmd Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.control(cmd); err != nil {
			log.Warnf("web: %s: %v", cmd, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *webState) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 16)}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	s.mu.RLock()
	if s.havePose {
		if frame, err := json.Marshal(s.lastPose); err == nil {
			c.send <- frame
		}
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Only close frames are expected from the browser.
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// RunWeb serves the latest pose and status over HTTP and websocket, and
// forwards reset/recalibrate requests to the producer over MQTT.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("web: configuration not initialized")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	pub := newCommandPublisher(client)
	state := newWebState(func(cmd Command) error {
		return pub.Publish(cfg.TopicControl, []byte(cmd))
	})

	if err := subscribe(client, cfg.TopicPose, func(_ mqtt.Client, msg mqtt.Message) {
		state.onPose(msg.Payload())
	}); err != nil {
		return err
	}
	if err := subscribe(client, cfg.TopicStatus, func(_ mqtt.Client, msg mqtt.Message) {
		state.onStatus(msg.Payload())
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: state.routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
