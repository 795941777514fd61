package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// InProcessConfig tunes the playwright-managed browser
type InProcessConfig struct {
	SlowMoMin         time.Duration
	SlowMoMax         time.Duration
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

func (c InProcessConfig) withDefaults() InProcessConfig {
	if c.ViewportWidth == 0 || c.ViewportHeight == 0 {
		c.ViewportWidth, c.ViewportHeight = 1366, 768
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.SlowMoMax < c.SlowMoMin {
		c.SlowMoMax = c.SlowMoMin
	}
	return c
}

// slowMo picks the randomized per-operation delay that makes the traffic look less scripted
func (c InProcessConfig) slowMo() time.Duration {
	if c.SlowMoMax <= c.SlowMoMin {
		return c.SlowMoMin
	}
	return c.SlowMoMin + rand.N(c.SlowMoMax-c.SlowMoMin+1)
}

type inProcessTransport struct {
	logger *logrus.Logger
	cfg    InProcessConfig
}

// NewInProcessTransport - creates the playwright-backed transport
func NewInProcessTransport(logger *logrus.Logger, cfg InProcessConfig) interfaces.Transport {
	return &inProcessTransport{logger: logger, cfg: cfg.withDefaults()}
}

func (t *inProcessTransport) Kind() entities.BackendKind { return entities.BackendInProcess }

// Open starts playwright, launches Chromium and opens a blank page.
// The target is loaded by the first Navigate so that navigation can be retried.
func (t *inProcessTransport) Open(ctx context.Context, target string, opts entities.LaunchOptions) (interfaces.Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright: %v", ErrLaunchFailed, err)
	}

	slowMo := t.cfg.slowMo()
	if opts.ExtensionPath != "" && opts.Headless {
		t.logger.Warn("extensions require a visible browser, ignoring headless mode")
		opts.Headless = false
	}

	browser, err := pw.Chromium.Launch(buildLaunchOptions(opts, slowMo))
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to launch browser: %v", ErrLaunchFailed, err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  t.cfg.ViewportWidth,
			Height: t.cfg.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to create context: %v", ErrLaunchFailed, err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to create page: %v", ErrLaunchFailed, err)
	}

	s := &inProcessSession{
		id:      uuid.NewString(),
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		cfg:     t.cfg,
	}
	s.logger = t.logger.WithFields(logrus.Fields{"backend": entities.BackendInProcess, "session": s.id})

	// Alerts such as "Product added" block the page until handled.
	page.OnDialog(func(dialog playwright.Dialog) {
		dialog.Accept()
	})

	bctx.OnPage(func(newPage playwright.Page) {
		s.pageMutex.Lock()
		defer s.pageMutex.Unlock()
		s.page = newPage
		newPage.OnDialog(func(dialog playwright.Dialog) {
			dialog.Accept()
		})
	})

	s.logger.WithFields(logrus.Fields{
		"target":   target,
		"slow_mo":  slowMo,
		"headless": opts.Headless,
	}).Info("in-process browser launched")

	return s, nil
}

// buildLaunchOptions maps launch options onto playwright's launch options
func buildLaunchOptions(opts entities.LaunchOptions, slowMo time.Duration) playwright.BrowserTypeLaunchOptions {
	args := []string{
		"--start-maximized",
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
	}
	if opts.ExtensionPath != "" {
		args = append(args,
			"--disable-extensions-except="+opts.ExtensionPath,
			"--load-extension="+opts.ExtensionPath,
		)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		SlowMo:   playwright.Float(float64(slowMo.Milliseconds())),
		Args:     args,
	}
	if hp := opts.ProxyHostPort(); hp != "" {
		launch.Proxy = &playwright.Proxy{
			Server: "http://" + hp,
			Bypass: playwright.String("<-loopback>"),
		}
	}
	return launch
}

type inProcessSession struct {
	id        string
	pw        *playwright.Playwright
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	pageMutex sync.Mutex
	cfg       InProcessConfig
	logger    *logrus.Entry

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func (s *inProcessSession) ID() string                 { return s.id }
func (s *inProcessSession) Kind() entities.BackendKind { return entities.BackendInProcess }

func (s *inProcessSession) currentPage() (playwright.Page, error) {
	s.pageMutex.Lock()
	defer s.pageMutex.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.page, nil
}

// RunScript runs code as the body of a function and returns its JSON-encoded return value
func (s *inProcessSession) RunScript(ctx context.Context, code string) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	result, err := page.Evaluate("() => {\n" + code + "\n}")
	if err != nil {
		return "", &ScriptError{Backend: entities.BackendInProcess, Message: err.Error()}
	}
	if result == nil {
		return "", nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result), nil
	}
	return string(out), nil
}

func (s *inProcessSession) Evaluate(ctx context.Context, expression string) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	result, err := page.Evaluate("() => " + jsonResultExpression(expression))
	if err != nil {
		return "", &ScriptError{Backend: entities.BackendInProcess, Message: err.Error()}
	}
	text, ok := result.(string)
	if !ok {
		return "null", nil
	}
	return text, nil
}

func (s *inProcessSession) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) bool {
	page, err := s.currentPage()
	if err != nil {
		return false
	}
	_, err = page.WaitForFunction("() => "+truthyExpression(predicate), nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		s.logger.WithError(err).Debug("condition not met")
		return false
	}
	return true
}

func (s *inProcessSession) Navigate(ctx context.Context, url string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.cfg.NavigationTimeout.Milliseconds())),
	})
	return err
}

func (s *inProcessSession) Reload(ctx context.Context) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	_, err = page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (s *inProcessSession) Content(ctx context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	return page.Content()
}

// Click - clicks on an element by CSS selector
func (s *inProcessSession) Click(ctx context.Context, selector string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	locator := page.Locator(selector).First()
	if err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(15000),
	}); err != nil {
		return fmt.Errorf("element %q not found or not visible: %w", selector, err)
	}
	return locator.Click()
}

// Fill - types text into an input field
func (s *inProcessSession) Fill(ctx context.Context, selector string, text string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	locator := page.Locator(selector).First()
	if err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(15000),
	}); err != nil {
		return fmt.Errorf("input field %q not found: %w", selector, err)
	}
	return locator.Fill(text)
}

func (s *inProcessSession) Screenshot(ctx context.Context, path string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	_, err = page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return err
}

func (s *inProcessSession) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	if _, err := s.currentPage(); err != nil {
		return nil, err
	}
	cookies, err := s.context.Cookies()
	if err != nil {
		return nil, err
	}
	out := make([]entities.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := entities.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (s *inProcessSession) AddCookies(ctx context.Context, cookies []entities.Cookie) error {
	if _, err := s.currentPage(); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(path),
			Expires:  playwright.Float(c.Expires),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &sameSite
		}
		optional = append(optional, oc)
	}
	return s.context.AddCookies(optional)
}

// Close - closes the context and browser and stops the playwright driver
func (s *inProcessSession) Close() error {
	s.closeOnce.Do(func() {
		s.pageMutex.Lock()
		s.closed = true
		s.pageMutex.Unlock()

		var errs []error
		if err := s.context.Close(); err != nil && !isAlreadyClosed(err) {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
		if err := s.browser.Close(); err != nil && !isAlreadyClosed(err) {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("in-process browser closed")
	})
	return s.closeErr
}

func isAlreadyClosed(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "closed") || strings.Contains(errStr, "target closed")
}

var (
	_ interfaces.ElementActor  = (*inProcessSession)(nil)
	_ interfaces.Screenshotter = (*inProcessSession)(nil)
	_ interfaces.CookieJar     = (*inProcessSession)(nil)
)
