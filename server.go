package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"i4.energy/across/obdgw/autopid"
)

// WorkerStatus is the view of the polling worker the API exposes.
type WorkerStatus interface {
	State() autopid.ConnectionState
	Signals() []autopid.SignalInfo
}

// BrokerStatus reports the broker connection.
type BrokerStatus interface {
	IsConnected() bool
}

// Server serves the status API and the live record feed
type Server struct {
	Logger *slog.Logger
	Worker WorkerStatus
	Broker BrokerStatus
	Hub    *Hub

	once   sync.Once
	router http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		mux := chi.NewRouter()
		mux.Use(middleware.RequestID)
		mux.Use(middleware.Recoverer)

		mux.Get("/health", s.handleHealth)
		mux.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Get("/api/status", s.handleStatus)
		})
		mux.Handle("/ws", s.Hub)

		s.router = mux
	})
	s.router.ServeHTTP(w, r)
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signalView struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	PeriodMS    int64  `json:"period_ms"`
	Destination string `json:"destination"`
	Kind        string `json:"kind"`
}

type statusView struct {
	State           string       `json:"state"`
	BrokerConnected bool         `json:"broker_connected"`
	Clients         int          `json:"ws_clients"`
	Signals         []signalView `json:"signals"`
}

// handleStatus reports the state machine, the broker connection and the
// configured signals
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	infos := s.Worker.Signals()
	signals := make([]signalView, 0, len(infos))
	for _, sig := range infos {
		signals = append(signals, signalView{
			Name:        sig.Name,
			Command:     sig.Command,
			PeriodMS:    sig.Period.Milliseconds(),
			Destination: sig.Destination,
			Kind:        sig.Kind,
		})
	}

	jsonResponse(w, http.StatusOK, statusView{
		State:           s.Worker.State().String(),
		BrokerConnected: s.Broker.IsConnected(),
		Clients:         s.Hub.Len(),
		Signals:         signals,
	})
}
