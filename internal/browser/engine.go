package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browsergate/pkg/models"
)

// ErrTimeout marks operations that ran out of time. The API layer maps it
// to 504 instead of 500.
var ErrTimeout = errors.New("browser operation timed out")

const (
	viewportWidth  = 1280
	viewportHeight = 720
)

// Config selects how browsers are obtained.
type Config struct {
	// Backend is "local" (launch Chromium in-process) or "docker"
	// (start a browserless/chrome container and attach over CDP).
	Backend string

	// DockerImage is the container image for the docker backend.
	DockerImage string
}

// Engine owns the Playwright runtime and hands out browser instances.
type Engine struct {
	pw   *playwright.Playwright
	pool *Pool
	log  *logrus.Entry
}

// NewEngine starts the Playwright driver and, for the docker backend, the
// container pool.
func NewEngine(cfg Config, log *logrus.Logger) (*Engine, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	e := &Engine{
		pw:  pw,
		log: log.WithField("component", "browser"),
	}

	if cfg.Backend == "docker" {
		pool, err := NewPool(cfg.DockerImage, log)
		if err != nil {
			pw.Stop()
			return nil, err
		}
		e.pool = pool
	}

	return e, nil
}

// EnsureImage pulls the container image if the docker backend is in use.
func (e *Engine) EnsureImage(ctx context.Context) error {
	if e.pool == nil {
		return nil
	}
	return e.pool.EnsureImage(ctx)
}

// Launch obtains a fresh browser for the given session.
func (e *Engine) Launch(ctx context.Context, sessionID string) (*Instance, error) {
	if e.pool != nil {
		return e.launchContainer(ctx, sessionID)
	}
	return e.launchLocal(ctx)
}

func (e *Engine) launchLocal(ctx context.Context) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapTimeout(err)
	}

	br, err := e.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", mapTimeout(err))
	}

	return e.newInstance(br, "", "")
}

func (e *Engine) launchContainer(ctx context.Context, sessionID string) (*Instance, error) {
	containerID, connectURL, err := e.pool.Start(ctx, sessionID)
	if err != nil {
		return nil, mapTimeout(err)
	}

	br, err := e.pw.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		e.pool.Stop(context.WithoutCancel(ctx), containerID)
		return nil, fmt.Errorf("attach to %s: %w", connectURL, mapTimeout(err))
	}

	return e.newInstance(br, connectURL, containerID)
}

// Attach connects to an already-running remote browser, used when the
// gateway restarted but the container survived.
func (e *Engine) Attach(ctx context.Context, connectURL string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapTimeout(err)
	}

	br, err := e.pw.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", connectURL, mapTimeout(err))
	}

	e.log.WithField("connectUrl", connectURL).Info("re-attached to remote browser")
	return e.newInstance(br, connectURL, "")
}

func (e *Engine) newInstance(br playwright.Browser, connectURL, containerID string) (*Instance, error) {
	bctx, err := br.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  viewportWidth,
			Height: viewportHeight,
		},
	})
	if err != nil {
		br.Close()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		br.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &Instance{
		browser:     br,
		browserCtx:  bctx,
		page:        page,
		pool:        e.pool,
		connectURL:  connectURL,
		containerID: containerID,
		info: models.BrowserInfo{
			Name:    "chromium",
			Version: br.Version(),
		},
	}, nil
}

// Close shuts the Playwright runtime and the container pool down.
func (e *Engine) Close() error {
	if e.pool != nil {
		if err := e.pool.Close(); err != nil {
			e.log.WithError(err).Warn("closing container pool")
		}
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return nil
}

// Instance is one live browser with a single page.
type Instance struct {
	browser     playwright.Browser
	browserCtx  playwright.BrowserContext
	page        playwright.Page
	pool        *Pool
	connectURL  string
	containerID string
	info        models.BrowserInfo
}

// Info reports the browser name and version.
func (i *Instance) Info() models.BrowserInfo { return i.info }

// ConnectURL returns the CDP endpoint for remote instances, "" for local.
func (i *Instance) ConnectURL() string { return i.connectURL }

// ContainerID returns the backing container id, "" for local instances.
func (i *Instance) ContainerID() string { return i.containerID }

// Navigate drives the page to url and waits for the network to go idle.
// It returns the final URL after redirects.
func (i *Instance) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}

	if _, err := i.page.Goto(url, opts); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, mapTimeout(err))
	}

	return i.page.URL(), nil
}

// Screenshot captures the current page as PNG bytes.
func (i *Instance) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapTimeout(err)
	}

	data, err := i.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", mapTimeout(err))
	}

	return data, nil
}

// Close releases the page, context, browser, and backing container.
func (i *Instance) Close(ctx context.Context) error {
	// Ignore per-resource errors, continue cleanup
	_ = i.page.Close()
	_ = i.browserCtx.Close()
	_ = i.browser.Close()

	if i.pool != nil && i.containerID != "" {
		if err := i.pool.Stop(ctx, i.containerID); err != nil {
			return fmt.Errorf("stop container: %w", err)
		}
	}

	return nil
}

// mapTimeout folds playwright and context deadline errors into ErrTimeout.
func mapTimeout(err error) error {
	if errors.Is(err, playwright.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
