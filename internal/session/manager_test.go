package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browsergate/internal/store"
	"github.com/shehryarbajwa/browsergate/pkg/models"
)

type stubInstance struct {
	mu          sync.Mutex
	info        models.BrowserInfo
	connectURL  string
	containerID string
	navErr      error
	shot        []byte
	closed      bool
}

func (s *stubInstance) Info() models.BrowserInfo { return s.info }
func (s *stubInstance) ConnectURL() string       { return s.connectURL }
func (s *stubInstance) ContainerID() string      { return s.containerID }

func (s *stubInstance) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if s.navErr != nil {
		return "", s.navErr
	}
	return url, nil
}

func (s *stubInstance) Screenshot(ctx context.Context) ([]byte, error) {
	return s.shot, nil
}

func (s *stubInstance) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubInstance) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubLauncher struct {
	mu        sync.Mutex
	launchErr error
	attachErr error
	launched  []*stubInstance
	attached  []*stubInstance
}

func (l *stubLauncher) Launch(ctx context.Context, sessionID string) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	inst := &stubInstance{
		info: models.BrowserInfo{Name: "chromium", Version: "120.0"},
		shot: []byte("png-bytes"),
	}
	l.launched = append(l.launched, inst)
	return inst, nil
}

func (l *stubLauncher) Attach(ctx context.Context, connectURL string) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attachErr != nil {
		return nil, l.attachErr
	}
	inst := &stubInstance{
		info:       models.BrowserInfo{Name: "chromium", Version: "120.0"},
		connectURL: connectURL,
		shot:       []byte("png-bytes"),
	}
	l.attached = append(l.attached, inst)
	return inst, nil
}

func newTestManager(t *testing.T, launcher Launcher, maxSessions int64) (*Manager, *store.Memory) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := store.NewMemory()
	mgr := NewManager(launcher, st, Config{
		MaxSessions:     maxSessions,
		SessionTimeout:  time.Hour,
		NavigateTimeout: 5 * time.Second,
		BaseURL:         "http://localhost:8080",
	}, log)

	return mgr, st
}

func TestCreateReturnsRunningSession(t *testing.T) {
	launcher := &stubLauncher{}
	mgr, _ := newTestManager(t, launcher, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sess.ID, "sess_"))
	assert.Equal(t, models.StatusRunning, sess.Status)
	assert.Equal(t, "chromium", sess.BrowserInfo.Name)
	assert.Equal(t, "http://localhost:8080/api/live/"+sess.ID, sess.LiveViewURL)
	assert.Equal(t, 3600, sess.Timeout)

	got, err := mgr.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestCreateRejectsTimeoutOutOfRange(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	_, err := mgr.Create(context.Background(), 30)
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	_, err = mgr.Create(context.Background(), 30000)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestCreateEnforcesCapacity(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 1)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), 0)
	assert.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, mgr.Close(context.Background(), sess.ID))

	_, err = mgr.Create(context.Background(), 0)
	assert.NoError(t, err)
}

func TestCreateReleasesSlotOnLaunchFailure(t *testing.T) {
	launcher := &stubLauncher{launchErr: errors.New("no browser")}
	mgr, _ := newTestManager(t, launcher, 1)

	_, err := mgr.Create(context.Background(), 0)
	require.Error(t, err)

	launcher.launchErr = nil
	_, err = mgr.Create(context.Background(), 0)
	assert.NoError(t, err)
}

func TestNavigateUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	_, err := mgr.Navigate(context.Background(), "sess_0_missing", "https://example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNavigateUpdatesCurrentURL(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	final, err := mgr.Navigate(context.Background(), sess.ID, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", final)

	got, err := mgr.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.CurrentURL)
}

func TestNavigateClosedSession(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, mgr.Close(context.Background(), sess.ID))

	_, err = mgr.Navigate(context.Background(), sess.ID, "https://example.com")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestScreenshot(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	img, err := mgr.Screenshot(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img)
}

func TestCloseIsTerminal(t *testing.T) {
	launcher := &stubLauncher{}
	mgr, _ := newTestManager(t, launcher, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background(), sess.ID))
	assert.True(t, launcher.launched[0].isClosed())

	got, err := mgr.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	err = mgr.Close(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestExpiryFinishesSession(t *testing.T) {
	launcher := &stubLauncher{}
	mgr, _ := newTestManager(t, launcher, 1)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	mgr.expireSession(sess.ID)

	got, err := mgr.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.True(t, launcher.launched[0].isClosed())

	// Slot must be free again
	_, err = mgr.Create(context.Background(), 0)
	assert.NoError(t, err)
}

func TestCloseStopsExpiryTimer(t *testing.T) {
	mgr, _ := newTestManager(t, &stubLauncher{}, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	value, ok := mgr.live.Load(sess.ID)
	require.True(t, ok)
	ls := value.(*liveSession)

	require.NoError(t, mgr.Close(context.Background(), sess.ID))

	// Stop reports false once the timer is already stopped; the session's
	// hour-long timeout is nowhere near elapsed.
	assert.False(t, ls.expire.Stop())
}

func TestReattachOverStoredConnectURL(t *testing.T) {
	launcher := &stubLauncher{}
	mgr, st := newTestManager(t, launcher, 5)

	// Record from a previous process: live handle gone, browser not.
	rec := &models.Session{
		ID:         "sess_1_abcd1234",
		Status:     models.StatusRunning,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
		Timeout:    3600,
		ConnectURL: "ws://localhost:49222",
	}
	require.NoError(t, st.Save(context.Background(), rec))

	final, err := mgr.Navigate(context.Background(), rec.ID, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", final)
	require.Len(t, launcher.attached, 1)
	assert.Equal(t, "ws://localhost:49222", launcher.attached[0].ConnectURL())
}

func TestReattachImpossibleForLocalRecord(t *testing.T) {
	mgr, st := newTestManager(t, &stubLauncher{}, 5)

	rec := &models.Session{
		ID:        "sess_2_deadbeef",
		Status:    models.StatusRunning,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		Timeout:   3600,
	}
	require.NoError(t, st.Save(context.Background(), rec))

	_, err := mgr.Navigate(context.Background(), rec.ID, "https://example.com")
	assert.ErrorIs(t, err, ErrNotRunning)
}

// blockingInstance parks every Navigate on a channel so tests can observe
// which calls are in flight.
type blockingInstance struct {
	entered chan string
	release chan struct{}
}

func (b *blockingInstance) Info() models.BrowserInfo {
	return models.BrowserInfo{Name: "chromium", Version: "120.0"}
}
func (b *blockingInstance) ConnectURL() string  { return "" }
func (b *blockingInstance) ContainerID() string { return "" }

func (b *blockingInstance) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	b.entered <- url
	<-b.release
	return url, nil
}

func (b *blockingInstance) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (b *blockingInstance) Close(ctx context.Context) error { return nil }

type blockingLauncher struct {
	mu        sync.Mutex
	instances []*blockingInstance
}

func (l *blockingLauncher) Launch(ctx context.Context, sessionID string) (Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst := &blockingInstance{
		entered: make(chan string, 4),
		release: make(chan struct{}),
	}
	l.instances = append(l.instances, inst)
	return inst, nil
}

func (l *blockingLauncher) Attach(ctx context.Context, connectURL string) (Instance, error) {
	return nil, errors.New("not supported")
}

func waitEntered(t *testing.T, inst *blockingInstance, msg string) string {
	t.Helper()
	select {
	case url := <-inst.entered:
		return url
	case <-time.After(time.Second):
		t.Fatal(msg)
		return ""
	}
}

func TestNavigateSerializesPerSession(t *testing.T) {
	launcher := &blockingLauncher{}
	mgr, _ := newTestManager(t, launcher, 5)

	sess, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)
	inst := launcher.instances[0]

	done := make(chan struct{}, 2)
	go func() {
		mgr.Navigate(context.Background(), sess.ID, "https://first.test")
		done <- struct{}{}
	}()

	waitEntered(t, inst, "first navigate never started")

	go func() {
		mgr.Navigate(context.Background(), sess.ID, "https://second.test")
		done <- struct{}{}
	}()

	// The second navigate must not reach the browser while the first is
	// still in flight.
	select {
	case url := <-inst.entered:
		t.Fatalf("navigate to %s entered while another was in flight", url)
	case <-time.After(50 * time.Millisecond):
	}

	inst.release <- struct{}{}
	assert.Equal(t, "https://second.test", waitEntered(t, inst, "second navigate never started"))
	inst.release <- struct{}{}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("navigate did not return")
		}
	}
}

func TestNavigateDifferentSessionsRunConcurrently(t *testing.T) {
	launcher := &blockingLauncher{}
	mgr, _ := newTestManager(t, launcher, 5)

	a, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)
	b, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	done := make(chan struct{}, 2)
	go func() {
		mgr.Navigate(context.Background(), a.ID, "https://a.test")
		done <- struct{}{}
	}()
	go func() {
		mgr.Navigate(context.Background(), b.ID, "https://b.test")
		done <- struct{}{}
	}()

	// Both must be in flight at once; neither blocks the other.
	waitEntered(t, launcher.instances[0], "session a navigate never started")
	waitEntered(t, launcher.instances[1], "session b navigate never started")

	launcher.instances[0].release <- struct{}{}
	launcher.instances[1].release <- struct{}{}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("navigate did not return")
		}
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	launcher := &stubLauncher{}
	mgr, _ := newTestManager(t, launcher, 5)

	a, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)
	b, err := mgr.Create(context.Background(), 0)
	require.NoError(t, err)

	mgr.Shutdown(context.Background())

	for _, id := range []string{a.ID, b.ID} {
		got, err := mgr.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
	}
	for _, inst := range launcher.launched {
		assert.True(t, inst.isClosed())
	}
}
