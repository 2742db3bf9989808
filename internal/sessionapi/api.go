// Package sessionapi exposes triage sessions over HTTP.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/postgres"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

// maxMessageBytes caps a submitted message body.
const maxMessageBytes = 16 << 10

// TriageService defines the business operations sessionapi needs.
type TriageService interface {
	Create(ctx context.Context) (*triage.Session, error)
	Get(ctx context.Context, id string) (*triage.Session, bool, error)
	Delete(ctx context.Context, id string) error
	Submit(ctx context.Context, id, text string) (*triage.SubmitResult, error)
	SelectFollowUp(ctx context.Context, id, questionID string) (*triage.SubmitResult, error)
	Reset(ctx context.Context, id string) (*triage.Session, error)
	Templates() []string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. mw is applied to
// every /api/v1 route.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw...)
		r.Get("/templates", a.handleTemplates)
		r.Post("/sessions", a.handleCreate)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(a.sessionID)
			r.Get("/", a.handleGet)
			r.Delete("/", a.handleDelete)
			r.Post("/messages", a.handleSubmit)
			r.Post("/follow-ups/{questionID}", a.handleFollowUp)
			r.Post("/reset", a.handleReset)
		})
	})
}

// sessionView is the wire snapshot of a session.
type sessionView struct {
	*triage.Session
	Actions []triage.Action `json:"actions"`
}

type submitView struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// sessionID rejects IDs that cannot name a session and tags the request
// context with the ID for spans and query logs.
func (a *API) sessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := uuid.Validate(id); err != nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triage.session_id", id))
		ctx := postgres.WithSessionID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": a.svc.Templates()})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.Create(r.Context())
	if err != nil {
		a.internalError(w, r, err, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, snapshot(sess))
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.internalError(w, r, err, "failed to get session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triage.state", string(sess.State)))
	writeJSON(w, http.StatusOK, snapshot(sess))
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, triage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		a.internalError(w, r, err, "failed to delete session")
	}
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.svc.Submit(r.Context(), chi.URLParam(r, "id"), body.Text)
	a.writeSubmit(w, r, res, err)
}

func (a *API) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.SelectFollowUp(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "questionID"))
	a.writeSubmit(w, r, res, err)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.Reset(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snapshot(sess))
	case errors.Is(err, triage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		a.internalError(w, r, err, "failed to reset session")
	}
}

func (a *API) writeSubmit(w http.ResponseWriter, r *http.Request, res *triage.SubmitResult, err error) {
	switch {
	case err == nil:
	case errors.Is(err, triage.ErrInputEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, triage.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, triage.ErrUnknownFollowUp):
		writeError(w, http.StatusNotFound, err.Error())
		return
	default:
		a.internalError(w, r, err, "failed to submit message")
		return
	}

	view := submitView{
		SessionID:  res.SessionID,
		Generation: res.Generation,
		Skipped:    res.Skipped,
		Reason:     res.Reason,
	}
	if res.Skipped {
		writeJSON(w, http.StatusConflict, view)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	a.logger.Error(r.Context(), err, msg, "session_id", chi.URLParam(r, "id"))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func snapshot(sess *triage.Session) sessionView {
	return sessionView{Session: sess, Actions: sess.Actions()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
