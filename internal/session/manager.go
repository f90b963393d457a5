package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/browsergate/internal/store"
	"github.com/shehryarbajwa/browsergate/pkg/models"
)

var (
	// ErrNotFound means no session record exists for the id.
	ErrNotFound = errors.New("session not found")

	// ErrNotRunning means the session exists but is closed or expired.
	ErrNotRunning = errors.New("session is not running")

	// ErrCapacity means the gateway is at its concurrent-session limit.
	ErrCapacity = errors.New("session capacity reached")

	// ErrInvalidTimeout means the requested session timeout is out of range.
	ErrInvalidTimeout = errors.New("timeout must be between 60 and 21600 seconds")
)

// Launcher obtains browser instances for new or recovered sessions.
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (Instance, error)
	Attach(ctx context.Context, connectURL string) (Instance, error)
}

// Instance is one live browser bound to a session.
type Instance interface {
	Info() models.BrowserInfo
	ConnectURL() string
	ContainerID() string
	Navigate(ctx context.Context, url string, timeout time.Duration) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Config bounds session lifecycle and capacity.
type Config struct {
	MaxSessions     int64
	SessionTimeout  time.Duration
	NavigateTimeout time.Duration

	// BaseURL prefixes the live view link handed out on create, e.g.
	// "http://localhost:8080".
	BaseURL string
}

// liveSession pairs a browser handle with the mutex that serializes
// operations on it. Two concurrent navigates on one id must not race.
type liveSession struct {
	mu     sync.Mutex
	inst   Instance
	expire *time.Timer
}

// Manager owns the session registry: records go to the store, live browser
// handles stay in-process. If a record has a CDP connect URL but no live
// handle (the gateway restarted), the manager re-attaches on first use.
type Manager struct {
	launcher Launcher
	store    store.Store
	cfg      Config
	slots    *semaphore.Weighted
	live     sync.Map // sessionID -> *liveSession
	log      *logrus.Entry
}

func NewManager(launcher Launcher, st store.Store, cfg Config, log *logrus.Logger) *Manager {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	return &Manager{
		launcher: launcher,
		store:    st,
		cfg:      cfg,
		slots:    semaphore.NewWeighted(cfg.MaxSessions),
		log:      log.WithField("component", "session"),
	}
}

// Create launches a browser and registers a RUNNING session for it.
// timeoutSeconds of 0 means the configured default.
func (m *Manager) Create(ctx context.Context, timeoutSeconds int) (*models.Session, error) {
	if timeoutSeconds == 0 {
		timeoutSeconds = int(m.cfg.SessionTimeout.Seconds())
	}
	if timeoutSeconds < 60 || timeoutSeconds > 21600 {
		return nil, ErrInvalidTimeout
	}

	if !m.slots.TryAcquire(1) {
		return nil, ErrCapacity
	}

	id := NewID()

	inst, err := m.launcher.Launch(ctx, id)
	if err != nil {
		m.slots.Release(1)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	now := time.Now()
	sess := &models.Session{
		ID:          id,
		Status:      models.StatusRunning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(timeoutSeconds) * time.Second),
		Timeout:     timeoutSeconds,
		LiveViewURL: fmt.Sprintf("%s/api/live/%s", m.cfg.BaseURL, id),
		BrowserInfo: inst.Info(),
		ConnectURL:  inst.ConnectURL(),
		ContainerID: inst.ContainerID(),
	}

	if err := m.store.Save(ctx, sess); err != nil {
		inst.Close(context.WithoutCancel(ctx))
		m.slots.Release(1)
		return nil, fmt.Errorf("save session: %w", err)
	}

	ls := &liveSession{inst: inst}
	ls.expire = time.AfterFunc(time.Duration(timeoutSeconds)*time.Second, func() {
		m.expireSession(id)
	})
	m.live.Store(id, ls)

	m.log.WithFields(logrus.Fields{
		"session": id,
		"timeout": timeoutSeconds,
		"browser": sess.BrowserInfo.Version,
	}).Info("session created")

	return sess, nil
}

// Get returns the record for id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns all session records, including finished ones.
func (m *Manager) List(ctx context.Context) ([]*models.Session, error) {
	return m.store.List(ctx)
}

// Navigate drives the session's page to url, waiting for network idle, and
// returns the final URL.
func (m *Manager) Navigate(ctx context.Context, id, url string) (string, error) {
	ls, sess, err := m.liveFor(ctx, id)
	if err != nil {
		return "", err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	final, err := ls.inst.Navigate(ctx, url, m.cfg.NavigateTimeout)
	if err != nil {
		return "", err
	}

	sess.CurrentURL = final
	if err := m.store.Save(ctx, sess); err != nil {
		m.log.WithError(err).WithField("session", id).Warn("updating record after navigate")
	}

	return final, nil
}

// Screenshot captures the session's current page as PNG bytes.
func (m *Manager) Screenshot(ctx context.Context, id string) ([]byte, error) {
	ls, _, err := m.liveFor(ctx, id)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	return ls.inst.Screenshot(ctx)
}

// Close tears the session's browser down and marks the record COMPLETED.
func (m *Manager) Close(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != models.StatusRunning {
		return ErrNotRunning
	}

	m.finish(ctx, sess, models.StatusCompleted)
	return nil
}

// Shutdown closes every live session, marking the records COMPLETED.
func (m *Manager) Shutdown(ctx context.Context) {
	m.live.Range(func(key, _ any) bool {
		id := key.(string)
		sess, err := m.Get(ctx, id)
		if err != nil {
			return true
		}
		m.finish(ctx, sess, models.StatusCompleted)
		return true
	})
}

// finish releases the live handle (if this call wins the race for it),
// stores the terminal status, and frees the capacity slot.
func (m *Manager) finish(ctx context.Context, sess *models.Session, status models.SessionStatus) {
	value, held := m.live.LoadAndDelete(sess.ID)
	if held {
		ls := value.(*liveSession)
		if ls.expire != nil {
			ls.expire.Stop()
		}
		ls.mu.Lock()
		if err := ls.inst.Close(ctx); err != nil {
			m.log.WithError(err).WithField("session", sess.ID).Warn("closing browser")
		}
		ls.mu.Unlock()
		m.slots.Release(1)
	}

	sess.Status = status
	if err := m.store.Save(ctx, sess); err != nil {
		m.log.WithError(err).WithField("session", sess.ID).Warn("storing terminal status")
	}

	m.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"status":  status,
	}).Info("session finished")
}

// liveFor returns the live handle for a RUNNING session, re-attaching over
// the stored connect URL when the handle is gone but the browser is not.
func (m *Manager) liveFor(ctx context.Context, id string) (*liveSession, *models.Session, error) {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != models.StatusRunning {
		return nil, nil, ErrNotRunning
	}

	if value, ok := m.live.Load(id); ok {
		return value.(*liveSession), sess, nil
	}

	if sess.ConnectURL == "" {
		// Record survived a restart but the browser was local to the old
		// process. Nothing to re-attach to.
		return nil, nil, ErrNotRunning
	}

	if !m.slots.TryAcquire(1) {
		return nil, nil, ErrCapacity
	}

	inst, err := m.launcher.Attach(ctx, sess.ConnectURL)
	if err != nil {
		m.slots.Release(1)
		return nil, nil, fmt.Errorf("re-attach session %s: %w", id, err)
	}

	remaining := time.Until(sess.ExpiresAt)
	if remaining <= 0 {
		remaining = time.Second
	}

	ls := &liveSession{inst: inst}
	ls.expire = time.AfterFunc(remaining, func() {
		m.expireSession(id)
	})

	if value, loaded := m.live.LoadOrStore(id, ls); loaded {
		// Lost the re-attach race; keep the winner's handle.
		ls.expire.Stop()
		inst.Close(context.WithoutCancel(ctx))
		m.slots.Release(1)
		return value.(*liveSession), sess, nil
	}

	return ls, sess, nil
}

// expireSession terminates the session when its timeout elapses. Closing a
// session early stops its timer in finish.
func (m *Manager) expireSession(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := m.Get(ctx, id)
	if err != nil || sess.Status != models.StatusRunning {
		return
	}

	m.log.WithField("session", id).Info("session expired")
	m.finish(ctx, sess, models.StatusExpired)
}
