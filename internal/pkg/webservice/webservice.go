// Package webservice exposes the colony over HTTP: snapshots on GET, wiring
// commands on POST/PUT/DELETE, and a websocket stream of network status.
package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/internal/pkg/asset"
	"github.com/ohowland/colony_grid/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/colony_grid/internal/pkg/msg"
	"github.com/ohowland/colony_grid/internal/pkg/power"
	"github.com/ohowland/colony_grid/internal/pkg/root"
)

const (
	contentType    = "application/json; charset=UTF-8"
	commandTimeout = 5 * time.Second
	writeWait      = 2 * time.Second
	maxBody        = 1 << 20
	defaultLimit   = 50
	maxLimit       = 1000
)

// System is the part of root.System the webservice serves.
type System interface {
	msg.Publisher
	Snapshot() root.Snapshot
	Step(ctx context.Context) ([]power.Status, error)
	Link(ctx context.Context, a, b string) error
	Unlink(ctx context.Context, name string) error
	Switch(ctx context.Context, name string, on bool) error
	AddDevice(ctx context.Context, kind string, jsonConfig []byte) (asset.Status, error)
	RemoveDevice(ctx context.Context, name string) error
}

// TransitionLog is the recorded history of mode changes.
type TransitionLog interface {
	Recent(ctx context.Context, limit int) ([]sqldb.Transition, error)
	ForNetwork(ctx context.Context, network uuid.UUID) ([]sqldb.Transition, error)
}

// Option configures a Server.
type Option func(*Server)

// WithTransitions serves the transition history from history.
func WithTransitions(history TransitionLog) Option {
	return func(s *Server) {
		s.transitions = history
	}
}

// LinkRequest is the body of POST /links.
type LinkRequest struct {
	A string `json:"A"`
	B string `json:"B"`
}

// SwitchRequest is the body of PUT /devices/{name}/switch.
type SwitchRequest struct {
	On bool `json:"On"`
}

// DeviceRequest is the body of POST /devices.
type DeviceRequest struct {
	Kind   string          `json:"Kind"`
	Config json.RawMessage `json:"Config"`
}

type errorResponse struct {
	Error string `json:"Error"`
}

// Server routes HTTP requests to a System.
type Server struct {
	system      System
	transitions TransitionLog
	router      *mux.Router
	upgrader    websocket.Upgrader
}

// New builds the router for system.
func New(system System, opts ...Option) *Server {
	s := &Server{
		system: system,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.makeRouter()
	return s
}

func (s *Server) makeRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", baseHandler).Methods("GET")
	r.HandleFunc("/networks", s.networksHandler).Methods("GET")
	r.HandleFunc("/networks/{pid}", s.networkHandler).Methods("GET")
	r.HandleFunc("/networks/{pid}/transitions", s.networkTransitionsHandler).Methods("GET")
	r.HandleFunc("/transitions", s.transitionsHandler).Methods("GET")
	r.HandleFunc("/devices", s.devicesHandler).Methods("GET")
	r.HandleFunc("/devices", s.addDeviceHandler).Methods("POST")
	r.HandleFunc("/devices/{name}", s.deviceHandler).Methods("GET")
	r.HandleFunc("/devices/{name}", s.removeDeviceHandler).Methods("DELETE")
	r.HandleFunc("/devices/{name}/switch", s.switchHandler).Methods("PUT")
	r.HandleFunc("/links", s.linkHandler).Methods("POST")
	r.HandleFunc("/links/{name}", s.unlinkHandler).Methods("DELETE")
	r.HandleFunc("/step", s.stepHandler).Methods("POST")
	r.HandleFunc("/stream", s.streamHandler).Methods("GET")
	r.Use(logRequests)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		log.Infof("[Webservice] listening on %v", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	log.Info("[Webservice] stopped")
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("[Webservice] request")
		next.ServeHTTP(w, r)
	})
}

func baseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("[Webservice] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
}

// statusCode maps a command error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, root.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, root.ErrDuplicateDevice), errors.Is(err, power.ErrTickInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func decode(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *Server) networksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.system.Snapshot().Networks)
}

func (s *Server) networkHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.Parse(mux.Vars(r)["pid"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed UUID: " + err.Error()})
		return
	}
	for _, n := range s.system.Snapshot().Networks {
		if n.PID == pid {
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown network " + pid.String()})
}

func (s *Server) transitionsHandler(w http.ResponseWriter, r *http.Request) {
	if s.transitions == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transition log disabled"})
		return
	}
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit " + strconv.Quote(v)})
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	rows, err := s.transitions.Recent(r.Context(), limit)
	if err != nil {
		log.Errorf("[Webservice] transitions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) networkTransitionsHandler(w http.ResponseWriter, r *http.Request) {
	if s.transitions == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transition log disabled"})
		return
	}
	pid, err := uuid.Parse(mux.Vars(r)["pid"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed UUID: " + err.Error()})
		return
	}
	rows, err := s.transitions.ForNetwork(r.Context(), pid)
	if err != nil {
		log.Errorf("[Webservice] transitions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) devicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.system.Snapshot().Devices)
}

func (s *Server) deviceHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, d := range s.system.Snapshot().Devices {
		if d.Name == name {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown device " + name})
}

func (s *Server) addDeviceHandler(w http.ResponseWriter, r *http.Request) {
	req := DeviceRequest{}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON: " + err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	status, err := s.system.AddDevice(ctx, req.Kind, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) removeDeviceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.system.RemoveDevice(ctx, mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) switchHandler(w http.ResponseWriter, r *http.Request) {
	req := SwitchRequest{}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON: " + err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.system.Switch(ctx, mux.Vars(r)["name"], req.On); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	req := LinkRequest{}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON: " + err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.system.Link(ctx, req.A, req.B); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unlinkHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := s.system.Unlink(ctx, mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stepHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	statuses, err := s.system.Step(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if statuses == nil {
		statuses = []power.Status{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// streamHandler upgrades to a websocket and writes every network status as a
// JSON text frame until the client goes away or the system stops.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("[Webservice] upgrade: %v", err)
		return
	}
	defer conn.Close()

	pid, err := uuid.NewUUID()
	if err != nil {
		return
	}
	ch, err := s.system.Subscribe(pid, msg.Status)
	if err != nil {
		log.Warnf("[Webservice] subscribe: %v", err)
		return
	}
	defer s.system.Unsubscribe(pid)

	// the client never sends; reading only notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "system stopped"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m.Payload()); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
