package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browsergate/internal/browser"
	"github.com/shehryarbajwa/browsergate/internal/session"
	"github.com/shehryarbajwa/browsergate/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessions      *session.Manager
	createTimeout time.Duration
	log           *logrus.Entry
}

// NewHandler creates a new HTTP handler
func NewHandler(sessions *session.Manager, createTimeout time.Duration, log *logrus.Logger) *Handler {
	return &Handler{
		sessions:      sessions,
		createTimeout: createTimeout,
		log:           log.WithField("component", "api"),
	}
}

// CreateSession handles POST /api/create-session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.createTimeout)
	defer cancel()

	sess, err := h.sessions.Create(ctx, req.Timeout)
	if err != nil {
		h.log.WithError(err).Error("create session failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, models.DataResponse{
		Data: models.CreateSessionData{
			ID:          sess.ID,
			LiveViewURL: sess.LiveViewURL,
			BrowserInfo: sess.BrowserInfo,
		},
	})
}

// Navigate handles POST /api/navigate
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req models.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	final, err := h.sessions.Navigate(r.Context(), req.SessionID, req.URL)
	if err != nil {
		h.log.WithError(err).WithField("session", req.SessionID).Error("navigation failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Navigated to %s", final),
	})
}

// Screenshot handles GET /api/screenshot/{sessionId}
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	img, err := h.sessions.Screenshot(r.Context(), sessionID)
	if err != nil {
		// The screenshot contract only has 404 and 500: a session that is
		// no longer running reads as gone.
		status := statusFor(err)
		if errors.Is(err, session.ErrNotRunning) {
			status = http.StatusNotFound
		}
		h.log.WithError(err).WithField("session", sessionID).Error("screenshot failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.ScreenshotResponse{
		Success:  true,
		Image:    base64.StdEncoding.EncodeToString(img),
		MimeType: "image/png",
	})
}

// CloseSession handles POST /api/close-session
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req models.CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.sessions.Close(r.Context(), req.SessionID); err != nil {
		h.log.WithError(err).WithField("session", req.SessionID).Error("close failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Success: true,
		Message: "Session closed",
	})
}

// ListSessions handles GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusResponse{Success: true, Message: "ok"})
}

// statusFor maps manager errors onto the wire contract.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrInvalidTimeout):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, browser.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: msg})
}
