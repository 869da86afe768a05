// Package server exposes schedule ingestion and slot queries over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/USA-RedDragon/tdmasched/internal/config"
	"github.com/USA-RedDragon/tdmasched/internal/schedule"
	"github.com/USA-RedDragon/tdmasched/internal/scheduler"
	"github.com/USA-RedDragon/tdmasched/internal/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxEventSize     = 1 << 20
	maxTxMultiFrames = 64
)

var (
	ErrInvalidTime        = errors.New("invalid time parameter")
	ErrInvalidIndex       = errors.New("invalid index parameter")
	ErrInvalidMultiFrames = errors.New("invalid multiframes parameter")
)

type Server struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	stats  *stats.Statistics
	router chi.Router
	now    func() time.Time

	httpServer *http.Server
}

func NewServer(cfg *config.Config, sched *scheduler.Scheduler, st *stats.Statistics) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		sched:  sched,
		stats:  st,
		router: router,
		now:    time.Now,
	}
	s.configureRoutes()
	return s
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"schedule": s.sched.HasSchedule(),
		})
	})

	if s.cfg.Metrics.Enabled && s.stats != nil {
		s.router.Handle("/metrics", s.stats.Handler())
	}

	s.router.Post("/events", s.handleEvent)
	s.router.Get("/schedule", s.handleSchedule)
	s.router.Post("/schedule/flush", s.handleFlush)
	s.router.Get("/slot", s.handleSlot)
	s.router.Get("/rx", s.handleRx)
	s.router.Get("/tx", s.handleTx)
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.HTTP.Bind, strconv.Itoa(s.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting HTTP listener: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Serving schedule API", "address", addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	slog.Info("Stopping schedule API")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("error shutting down HTTP server", "error", err)
	}
}

type eventResponse struct {
	Outcome  string `json:"outcome"`
	Accepted bool   `json:"accepted"`
	Flushed  bool   `json:"flushed"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	outcome := s.sched.ProcessEventData(data)
	status := http.StatusOK
	switch {
	case outcome == scheduler.RejectedUpdateBeforeFull:
		status = http.StatusConflict
	case !outcome.Accepted():
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, eventResponse{
		Outcome:  outcome.String(),
		Accepted: outcome.Accepted(),
		Flushed:  outcome.Flushed(),
	})
}

// scheduleResponse carries the active schedule as a full schedule event, so it
// can be posted back to /events unchanged.
type scheduleResponse struct {
	Active   bool                   `json:"active"`
	Schedule *schedule.FullSchedule `json:"schedule,omitempty"`
	Counters stats.Counters         `json:"counters"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	resp := scheduleResponse{
		Counters: s.stats.Snapshot(),
	}
	if structure, ok := s.sched.Structure(); ok {
		resp.Active = true
		resp.Schedule = &schedule.FullSchedule{
			Structure:   structure,
			Frequencies: s.sched.Frequencies(),
			Entries:     s.sched.Table(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	s.sched.Flush()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	var (
		info scheduler.SlotInfo
		ok   bool
	)
	if raw := r.URL.Query().Get("index"); raw != "" {
		index, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidIndex, err))
			return
		}
		info, ok = s.sched.SlotInfoAt(index)
	} else {
		t, err := s.queryTime(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		info, ok = s.sched.SlotInfoAtTime(t)
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no active schedule"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type rxResponse struct {
	Slot scheduler.RxSlotInfo `json:"slot"`
	IsRx bool                 `json:"isRx"`
}

func (s *Server) handleRx(w http.ResponseWriter, r *http.Request) {
	t, err := s.queryTime(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.sched.HasSchedule() {
		writeError(w, http.StatusNotFound, errors.New("no active schedule"))
		return
	}
	info, isRx := s.sched.RxSlotInfoAt(t)
	writeJSON(w, http.StatusOK, rxResponse{Slot: info, IsRx: isRx})
}

type txResponse struct {
	Slots     []scheduler.TxSlotInfo `json:"slots"`
	WindowEnd time.Time              `json:"windowEnd"`
}

// handleTx previews transmit opportunities. It leaves the post-change snap for
// the transmit path.
func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	t, err := s.queryTime(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	multiframes := 1
	if raw := r.URL.Query().Get("multiframes"); raw != "" {
		multiframes, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidMultiFrames, err))
			return
		}
		if multiframes > maxTxMultiFrames {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("%w: at most %d", ErrInvalidMultiFrames, maxTxMultiFrames))
			return
		}
	}
	if !s.sched.HasSchedule() {
		writeError(w, http.StatusNotFound, errors.New("no active schedule"))
		return
	}
	slots, end := s.sched.PeekTxSlotInfos(t, multiframes)
	if slots == nil {
		slots = []scheduler.TxSlotInfo{}
	}
	writeJSON(w, http.StatusOK, txResponse{Slots: slots, WindowEnd: end})
}

// queryTime reads the time parameter as RFC 3339, defaulting to now.
func (s *Server) queryTime(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("time")
	if raw == "" {
		return s.now(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidTime, err)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
