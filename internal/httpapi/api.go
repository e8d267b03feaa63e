// Package httpapi is the HTTP surface of the server: manual triggers,
// candidate and heartbeat intake for external decoders, responses from apps,
// health and metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/dedup"
	"pagerbuddy/internal/health"
	"pagerbuddy/internal/pipeline"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/source"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBody = 64 << 10

// Trigger fires manual alerts. *source.Manual satisfies it.
type Trigger interface {
	Fire(ctx context.Context, t source.Trigger) (pipeline.Outcome, error)
}

// Responder records responses. *pipeline.Pipeline satisfies it.
type Responder interface {
	Respond(ctx context.Context, in response.Input) (*alert.AlertResponse, alert.UserResponse, error)
}

// HealthReporter returns the last health report. *health.Monitor satisfies it.
type HealthReporter interface {
	Last() health.Report
}

// Deps are the services behind the routes. Nil members disable their routes.
type Deps struct {
	Trigger   Trigger
	Feed      source.Feed
	Responder Responder
	Health    HealthReporter
	Metrics   http.Handler
	// Pprof mounts the runtime profiler under /debug behind the token.
	Pprof bool
}

// API holds dependencies for HTTP handlers.
type API struct {
	log   logx.Logger
	deps  Deps
	token string
}

// New creates the API. Protected routes require "Authorization: Bearer
// <token>"; with an empty token they are refused.
func New(log logx.Logger, token string, deps Deps) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{log: log.With(logx.String("comp", "httpapi")), deps: deps, token: strings.TrimSpace(token)}
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes attaches the endpoints to r.
func (a *API) RegisterRoutes(r chi.Router) {
	if a.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.deps.Metrics)
	}
	if a.deps.Pprof {
		r.With(a.requireToken).Mount("/debug", middleware.Profiler())
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(a.requireToken)
			r.Post("/alerts", a.handleTrigger)
			r.Post("/sources/{id}/candidates", a.handleCandidate)
			r.Post("/sources/{id}/heartbeat", a.handleHeartbeat)
			r.Post("/responses", a.handleResponse)
		})
	})
}

func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token == "" {
			writeError(w, http.StatusForbidden, "api token not configured")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(a.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type outcomeBody struct {
	Action  string `json:"action"`
	AlertID string `json:"alert_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Queued  int    `json:"queued"`
	Failed  int    `json:"failed"`
}

func writeOutcome(w http.ResponseWriter, out pipeline.Outcome) {
	body := outcomeBody{
		Action: out.Action.String(),
		Reason: out.Reason,
		Queued: len(out.Report.Futures),
		Failed: out.Report.Failed,
	}
	if out.Alert != nil {
		body.AlertID = out.Alert.ID
	}
	status := http.StatusOK
	switch out.Action {
	case dedup.Create:
		status = http.StatusCreated
	case dedup.Suppress:
		status = http.StatusAccepted
	}
	writeJSON(w, status, body)
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if a.deps.Trigger == nil {
		writeError(w, http.StatusNotFound, "manual trigger disabled")
		return
	}
	var t source.Trigger
	if !decode(w, r, &t) {
		return
	}
	if t.UnitCode <= 0 {
		writeError(w, http.StatusBadRequest, "unit_code required")
		return
	}
	out, err := a.deps.Trigger.Fire(r.Context(), t)
	if err != nil {
		a.fail(w, r, "manual trigger failed", err)
		return
	}
	a.log.Info("manual alert", logx.Int("unit", t.UnitCode), logx.String("action", out.Action.String()))
	writeOutcome(w, out)
}

func (a *API) handleCandidate(w http.ResponseWriter, r *http.Request) {
	if a.deps.Feed == nil {
		writeError(w, http.StatusNotFound, "candidate intake disabled")
		return
	}
	var body candidateBody
	if !decode(w, r, &body) {
		return
	}
	c := body.candidate(chi.URLParam(r, "id"))
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.deps.Feed.Handle(r.Context(), c)
	if err != nil {
		a.fail(w, r, "candidate not handled", err)
		return
	}
	writeOutcome(w, out)
}

// candidateBody is the producer wire format. Timestamps are epoch
// milliseconds; RFC3339 strings are accepted as well.
type candidateBody struct {
	UnitCode  int                      `json:"unit_code"`
	Timestamp wireTime                 `json:"timestamp"`
	Info      alert.InformationContent `json:"information_content"`
	Keyword   string                   `json:"keyword"`
	Location  string                   `json:"location"`
	Message   string                   `json:"message"`
	SourceID  string                   `json:"source_id"`
}

func (b candidateBody) candidate(sourceID string) alert.Candidate {
	return alert.Candidate{
		UnitCode:  b.UnitCode,
		Timestamp: time.Time(b.Timestamp),
		Info:      b.Info,
		Keyword:   b.Keyword,
		Location:  b.Location,
		Message:   b.Message,
		SourceID:  sourceID,
	}
}

type wireTime time.Time

func (t *wireTime) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		return nil
	case len(b) > 0 && b[0] == '"':
		var v time.Time
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = wireTime(v)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("timestamp: want epoch milliseconds or RFC3339: %w", err)
	}
	*t = wireTime(time.UnixMilli(ms))
	return nil
}

type heartbeatBody struct {
	At wireTime `json:"at"`
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if a.deps.Feed == nil {
		writeError(w, http.StatusNotFound, "heartbeat intake disabled")
		return
	}
	var hb heartbeatBody
	if r.ContentLength != 0 && !decode(w, r, &hb) {
		return
	}
	if err := a.deps.Feed.Heartbeat(r.Context(), chi.URLParam(r, "id"), time.Time(hb.At)); err != nil {
		a.fail(w, r, "heartbeat failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type responseBody struct {
	AlertResponseID string `json:"alert_response_id"`
	UserID          string `json:"user_id"`
	OptionID        string `json:"option_id"`
	SinkID          string `json:"sink_id"`
}

func (a *API) handleResponse(w http.ResponseWriter, r *http.Request) {
	if a.deps.Responder == nil {
		writeError(w, http.StatusNotFound, "responses disabled")
		return
	}
	var in responseBody
	if !decode(w, r, &in) {
		return
	}
	if in.AlertResponseID == "" || in.UserID == "" || in.OptionID == "" {
		writeError(w, http.StatusBadRequest, "alert_response_id, user_id and option_id required")
		return
	}
	ar, ur, err := a.deps.Responder.Respond(r.Context(), response.Input{
		AlertResponseID: in.AlertResponseID,
		UserID:          in.UserID,
		OptionID:        in.OptionID,
		SinkID:          in.SinkID,
	})
	if err != nil {
		a.fail(w, r, "response not recorded", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert_response_id": ar.ID,
		"response":          ur,
		"responses":         len(ar.Responses),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Health == nil {
		writeJSON(w, http.StatusOK, health.Report{Healthy: true})
		return
	}
	rep := a.deps.Health.Last()
	status := http.StatusOK
	if !rep.Healthy && !rep.CheckedAt.IsZero() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// fail maps domain errors to status codes.
func (a *API) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, source.ErrUnknownSource):
		status = http.StatusNotFound
	case errors.Is(err, response.ErrNotMember):
		status = http.StatusForbidden
	case errors.Is(err, response.ErrTooLate):
		status = http.StatusConflict
	case errors.Is(err, response.ErrUnknownOption), errors.Is(err, response.ErrDisabled):
		status = http.StatusBadRequest
	case errors.Is(err, source.ErrNotRunning):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.log.Error(msg, logx.String("path", r.URL.Path), logx.String("request_id", middleware.GetReqID(r.Context())), logx.Err(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
