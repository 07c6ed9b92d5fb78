// Package bridge exposes the reminder engine to presentation clients: a
// small HTTP API for status and user actions, a websocket stream of
// notifications, health and metrics endpoints, and a client for all of it.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/nhle/rebootreminder/internal/metrics"
	"github.com/nhle/rebootreminder/internal/model"
	"github.com/nhle/rebootreminder/internal/orchestrator"
	"github.com/nhle/rebootreminder/internal/reminder"
	"github.com/nhle/rebootreminder/internal/schedule"
	"github.com/nhle/rebootreminder/internal/store"
)

// Action names accepted by POST /api/v1/actions.
const (
	ActionAcknowledge = "acknowledge"
	ActionDismiss     = "dismiss"
	ActionShown       = "shown"
	ActionDefer       = "defer"
	ActionRestartNow  = "restart_now"
	ActionConfirm     = "confirm"
	ActionDecline     = "decline"
	ActionCancel      = "cancel"
)

const (
	defaultUser         = "local"
	defaultHistoryLimit = 50
	shutdownTimeout     = 10 * time.Second
)

// Engine is what the API drives. *reminder.Poller implements it.
type Engine interface {
	Status(ctx context.Context) (reminder.Status, error)
	History(ctx context.Context, limit int) (reminder.History, error)
	LastTick() time.Time

	Acknowledge(ctx context.Context, eventID, user string) error
	Dismiss(ctx context.Context, eventID, user string) error
	MarkShown(ctx context.Context, eventID, user string) error
	Defer(ctx context.Context, eventID, user string, d time.Duration) (model.DeferralState, error)
	RestartNow(ctx context.Context, eventID, user string) (orchestrator.Orchestration, error)
	Confirm(user string) (orchestrator.Orchestration, error)
	Decline(user string) (orchestrator.Orchestration, error)
	Cancel(user string) (orchestrator.Orchestration, error)
}

// ActionRequest is the body of POST /api/v1/actions.
type ActionRequest struct {
	Action  string `json:"action" validate:"required,oneof=acknowledge dismiss shown defer restart_now confirm decline cancel"`
	EventID string `json:"event_id,omitempty" validate:"omitempty,max=64"`

	// Duration is a timespan ("4h", "30m") and is required for defer.
	Duration string `json:"duration,omitempty" validate:"required_if=Action defer,omitempty,timespan"`
	User     string `json:"user,omitempty" validate:"omitempty,max=128"`
}

// requestValidate checks decoded request bodies.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = requestValidate.RegisterValidation("timespan", func(fl validator.FieldLevel) bool {
		_, err := model.ParseTimespan(fl.Field().String())
		return err == nil
	})
}

// requestError renders the first validation failure of req.
func requestError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required for this action", fe.Field())
	case "oneof":
		return fmt.Sprintf("unknown %s %q", fe.Field(), fe.Value())
	case "timespan":
		return fmt.Sprintf("invalid %s %q", fe.Field(), fe.Value())
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ActionResponse is returned by a successful action.
type ActionResponse struct {
	Action        string                      `json:"action"`
	Deferral      *model.DeferralState        `json:"deferral,omitempty"`
	Orchestration *reminder.OrchestrationView `json:"orchestration,omitempty"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status     string     `json:"status"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Options configures a Server.
type Options struct {
	Engine Engine
	Hub    *Hub
	Config func() *model.AppConfig

	// Token authorizes action requests. Empty disables the check.
	Token  string
	Logger *slog.Logger
	Now    func() time.Time
}

// Server is the control API.
type Server struct {
	engine Engine
	hub    *Hub
	config func() *model.AppConfig
	token  string
	logger *slog.Logger
	now    func() time.Time
	router chi.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{
		engine: opts.Engine,
		hub:    opts.Hub,
		config: opts.Config,
		token:  opts.Token,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := s.config().API.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		if s.hub != nil {
			r.Get("/events", s.hub.HandleConnect)
		}
		r.With(bearerAuth(s.token)).Post("/actions", s.handleAction)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving control api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	last := s.engine.LastTick()
	if last.IsZero() {
		writeJSONStatus(w, http.StatusServiceUnavailable, Health{Status: "starting", Reason: "no tick has completed yet"})
		return
	}

	interval := s.config().Service.CheckInterval.Duration()
	if interval <= 0 {
		interval = time.Minute
	}
	if age := s.now().Sub(last); age > 3*interval {
		writeJSONStatus(w, http.StatusServiceUnavailable, Health{
			Status:     "stale",
			LastTickAt: &last,
			Reason:     fmt.Sprintf("last tick %s ago", age.Round(time.Second)),
		})
		return
	}
	writeJSON(w, Health{Status: "ok", LastTickAt: &last})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	hist, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, hist)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := requestValidate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, requestError(err))
		return
	}
	user := req.User
	if user == "" {
		user = defaultUser
	}
	ctx := r.Context()
	resp := ActionResponse{Action: req.Action}

	var (
		err  error
		orch orchestrator.Orchestration
		set  bool
	)
	switch req.Action {
	case ActionAcknowledge:
		err = s.engine.Acknowledge(ctx, req.EventID, user)
	case ActionDismiss:
		err = s.engine.Dismiss(ctx, req.EventID, user)
	case ActionShown:
		err = s.engine.MarkShown(ctx, req.EventID, user)
	case ActionDefer:
		// The duration parsed during validation.
		d, _ := model.ParseTimespan(req.Duration)
		var state model.DeferralState
		state, err = s.engine.Defer(ctx, req.EventID, user, d)
		resp.Deferral = &state
	case ActionRestartNow:
		orch, err = s.engine.RestartNow(ctx, req.EventID, user)
		set = true
	case ActionConfirm:
		orch, err = s.engine.Confirm(user)
		set = true
	case ActionDecline:
		orch, err = s.engine.Decline(user)
		set = true
	case ActionCancel:
		orch, err = s.engine.Cancel(user)
		set = true
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if set {
		resp.Orchestration = reminder.NewOrchestrationView(orch)
	}
	writeJSON(w, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalidDeferral), errors.Is(err, reminder.ErrNotReminder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrRebootDisabled):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrOrchestrationConflict),
		errors.Is(err, orchestrator.ErrNoActiveOrchestration),
		errors.Is(err, orchestrator.ErrNotCancellable),
		errors.Is(err, reminder.ErrNothingPending):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("control api", "error", err)
	}
	writeError(w, code, err.Error())
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") ||
				subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}
