// Package liveview streams screenshot frames of a running session over a
// WebSocket, which is what the live_view_url returned on create points at.
package liveview

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browsergate/internal/session"
	"github.com/shehryarbajwa/browsergate/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is one live view message.
type Frame struct {
	Image      string    `json:"image"` // base64 PNG
	MimeType   string    `json:"mimeType"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Streamer serves live view connections.
type Streamer struct {
	sessions *session.Manager
	interval time.Duration
	log      *logrus.Entry
}

func NewStreamer(sessions *session.Manager, interval time.Duration, log *logrus.Logger) *Streamer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Streamer{
		sessions: sessions,
		interval: interval,
		log:      log.WithField("component", "liveview"),
	}
}

// HandleLiveView upgrades the connection and pushes frames until the viewer
// disconnects or the session stops running.
func (s *Streamer) HandleLiveView(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if sess.Status != models.StatusRunning {
		http.Error(w, "Session is not running", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("session", sessionID)
	log.Info("viewer connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader exists only to observe the close handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("viewer disconnected")
			return
		case <-ticker.C:
			if err := s.pushFrame(ctx, conn, sessionID); err != nil {
				if !errors.Is(err, session.ErrNotRunning) {
					log.WithError(err).Debug("stream ended")
				}
				return
			}
		}
	}
}

func (s *Streamer) pushFrame(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	img, err := s.sessions.Screenshot(ctx, sessionID)
	if err != nil {
		return err
	}

	frame := Frame{
		Image:      base64.StdEncoding.EncodeToString(img),
		MimeType:   "image/png",
		CapturedAt: time.Now(),
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(frame)
}
