// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/palm_pilot/internal/config"
	"github.com/relabs-tech/palm_pilot/internal/imu"
	"github.com/relabs-tech/palm_pilot/internal/sensors"
)

// registerDevice is the part of *sensors.MPU6050 the debug tool uses.
type registerDevice interface {
	imu.Reader
	DumpRegisters() []sensors.RegisterValue
	ReadRegister(addr byte) (byte, error)
}

// RegisterCmd is a websocket request from the debug page.
type RegisterCmd struct {
	Action  string `json:"action"` // "get_map", "read", "read_all", "read_imu"
	Address string `json:"addr,omitempty"`
}

// RegisterResponse is a websocket reply to the debug page.
type RegisterResponse struct {
	Type        string                  `json:"type"` // "register_map", "register_data", "registers", "imu", "error"
	Address     string                  `json:"addr,omitempty"`
	Value       string                  `json:"value,omitempty"`
	Registers   []sensors.RegisterValue `json:"registers,omitempty"`
	RegisterMap []sensors.RegisterInfo  `json:"register_map,omitempty"`
	Sample      *imu.Sample             `json:"sample,omitempty"`
	Timestamp   string                  `json:"timestamp,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

// registerDebug serializes all device access from HTTP and websocket handlers.
type registerDebug struct {
	mu  sync.Mutex
	dev registerDevice
}

func (d *registerDebug) dump() []sensors.RegisterValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.DumpRegisters()
}

func (d *registerDebug) read(addr byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.ReadRegister(addr)
}

func (d *registerDebug) sample() (imu.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.ReadRaw()
}

func parseRegisterAddr(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address format: %q", s)
	}
	return byte(v), nil
}

// handle answers one websocket command.
func (d *registerDebug) handle(cmd RegisterCmd) RegisterResponse {
	now := time.Now().Format(time.RFC3339)
	switch cmd.Action {
	case "get_map":
		return RegisterResponse{Type: "register_map", RegisterMap: sensors.RegisterMap()}
	case "read_all":
		return RegisterResponse{Type: "registers", Registers: d.dump(), Timestamp: now}
	case "read":
		addr, err := parseRegisterAddr(cmd.Address)
		if err != nil {
			return RegisterResponse{Type: "error", Message: err.Error()}
		}
		v, err := d.read(addr)
		if err != nil {
			return RegisterResponse{Type: "error", Message: fmt.Sprintf("read error: %v", err)}
		}
		return RegisterResponse{
			Type:      "register_data",
			Address:   fmt.Sprintf("0x%02X", addr),
			Value:     fmt.Sprintf("0x%02X", v),
			Timestamp: now,
		}
	case "read_imu":
		s, err := d.sample()
		if err != nil {
			return RegisterResponse{Type: "error", Message: fmt.Sprintf("read error: %v", err)}
		}
		return RegisterResponse{Type: "imu", Sample: &s, Timestamp: now}
	default:
		return RegisterResponse{Type: "error", Message: fmt.Sprintf("unknown action: %s", cmd.Action)}
	}
}

func (d *registerDebug) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/registers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.dump())
	})
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		resp := d.handle(RegisterCmd{Action: "read", Address: r.URL.Query().Get("addr")})
		status := http.StatusOK
		if resp.Type == "error" {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, resp)
	})
	mux.HandleFunc("/api/imu", func(w http.ResponseWriter, r *http.Request) {
		s, err := d.sample()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})
	mux.HandleFunc("/ws", d.handleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/register_debug.html")
	})
	return mux
}

func (d *registerDebug) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(d.handle(RegisterCmd{Action: "get_map"})); err != nil {
		log.Printf("register_debug: error sending register map: %v", err)
		return
	}
	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(d.handle(cmd)); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func printRegisters(out io.Writer, regs []sensors.RegisterValue) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tNAME\tVALUE\tDESCRIPTION")
	for _, r := range regs {
		val := r.Value
		if r.Error != "" {
			val = "ERR"
		}
		fmt.Fprintf(tw, "0x%02X\t%s\t%s\t%s\n", r.Address, r.Name, val, r.Description)
	}
	tw.Flush()
}

// RunRegisterDebug dumps the MPU-6050 configuration registers and then
// serves them, plus live samples, over HTTP until ctx ends.
func RunRegisterDebug(ctx context.Context, addr string) error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("register_debug: configuration not initialized")
	}

	dev, err := sensors.NewIMUSource()
	if err != nil {
		return err
	}
	defer dev.Close()

	d := &registerDebug{dev: dev}
	printRegisters(os.Stdout, d.dump())

	srv := &http.Server{Addr: addr, Handler: d.routes()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Printf("register debug tool listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
