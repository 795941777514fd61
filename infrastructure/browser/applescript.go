package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"
	"shop_automation/internal/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ScriptConfig tunes the script-injection transport
type ScriptConfig struct {
	// Application is the scriptable application name, e.g. "Google Chrome"
	Application string
	BinaryPath  string
	// Attach skips launching and drives the front window of an already running browser
	Attach       bool
	StartupWait  time.Duration
	PollInterval time.Duration
	TempDir      string
}

func (c ScriptConfig) withDefaults() ScriptConfig {
	if c.Application == "" {
		c.Application = "Google Chrome"
	}
	if c.BinaryPath == "" {
		c.BinaryPath = FindChromeBinary("darwin")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

type scriptTransport struct {
	logger  *logrus.Logger
	cfg     ScriptConfig
	runner  CommandRunner
	starter ProcessStarter
}

// NewScriptTransport - creates the transport that drives a visible browser through osascript
func NewScriptTransport(logger *logrus.Logger, cfg ScriptConfig, runner CommandRunner, starter ProcessStarter) interfaces.Transport {
	if runner == nil {
		runner = NewExecRunner()
	}
	if starter == nil {
		starter = NewExecStarter()
	}
	return &scriptTransport{logger: logger, cfg: cfg.withDefaults(), runner: runner, starter: starter}
}

func (t *scriptTransport) Kind() entities.BackendKind { return entities.BackendScriptInjection }

func (t *scriptTransport) Open(ctx context.Context, target string, opts entities.LaunchOptions) (interfaces.Session, error) {
	s := &scriptSession{
		id:     uuid.NewString(),
		cfg:    t.cfg,
		runner: t.runner,
	}
	s.logger = t.logger.WithFields(logrus.Fields{"backend": entities.BackendScriptInjection, "session": s.id})

	dir, cleanup, err := userDataDir(opts, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	s.cleanup = cleanup

	if !t.cfg.Attach {
		opts.DebugPort = 0
		args := ChromeArgs(opts, dir, target)
		s.logger.WithField("command", t.cfg.BinaryPath+" "+strings.Join(args, " ")).Info("launching browser window")
		proc, err := t.starter.Start(t.cfg.BinaryPath, args...)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		s.proc = proc
	}

	if err := clock.Sleep(ctx, t.cfg.StartupWait); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	activate := fmt.Sprintf("tell application %s to activate", appleScriptString(t.cfg.Application))
	if _, stderr, err := t.runner.Run(ctx, "osascript", "-e", activate); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: could not activate %s: %v %s", ErrLaunchFailed, t.cfg.Application, err, strings.TrimSpace(string(stderr)))
	}

	if t.cfg.Attach && target != "" {
		if err := s.Navigate(ctx, target); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
	}

	s.logger.Info("browser window in focus")
	return s, nil
}

type scriptSession struct {
	id      string
	cfg     ScriptConfig
	runner  CommandRunner
	proc    Process
	cleanup func()
	logger  *logrus.Entry

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func (s *scriptSession) ID() string                 { return s.id }
func (s *scriptSession) Kind() entities.BackendKind { return entities.BackendScriptInjection }

func (s *scriptSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RunScript executes code in the active tab and discards its value
func (s *scriptSession) RunScript(ctx context.Context, code string) (string, error) {
	return s.runJavaScript(ctx, code, false)
}

// Evaluate differs from RunScript only in that the expression value is captured as JSON text
func (s *scriptSession) Evaluate(ctx context.Context, expression string) (string, error) {
	out, err := s.runJavaScript(ctx, jsonResultExpression(expression), true)
	if err != nil {
		return "", err
	}
	if out == "" || out == "missing value" {
		return "null", nil
	}
	return out, nil
}

func (s *scriptSession) runJavaScript(ctx context.Context, js string, capture bool) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}
	return s.runAppleScript(ctx, javaScriptAppleScript(s.cfg.Application, js, capture))
}

// runAppleScript writes script to a temporary file, runs it and always removes the file
func (s *scriptSession) runAppleScript(ctx context.Context, script string) (string, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "shopbot-*.applescript")
	if err != nil {
		return "", fmt.Errorf("failed to create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write script file: %w", err)
	}

	stdout, stderr, err := s.runner.Run(ctx, "osascript", path)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return "", fmt.Errorf("AppleScript command failed: %w", err)
		}
		return "", &ScriptError{Backend: entities.BackendScriptInjection, Message: msg}
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (s *scriptSession) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) bool {
	return pollCondition(ctx, s.logger, s.Evaluate, predicate, timeout, s.cfg.PollInterval)
}

func (s *scriptSession) Navigate(ctx context.Context, url string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	script := fmt.Sprintf(`tell application %s
	set URL of active tab of front window to %s
%s
end tell`, appleScriptString(s.cfg.Application), appleScriptString(url), waitWhileLoading)
	_, err := s.runAppleScript(ctx, script)
	return err
}

func (s *scriptSession) Reload(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	script := fmt.Sprintf(`tell application %s
	reload active tab of front window
%s
end tell`, appleScriptString(s.cfg.Application), waitWhileLoading)
	_, err := s.runAppleScript(ctx, script)
	return err
}

func (s *scriptSession) Content(ctx context.Context) (string, error) {
	raw, err := s.Evaluate(ctx, contentExpression)
	if err != nil {
		return "", err
	}
	return decodeString(raw)
}

// Screenshot captures the screen with the macOS screencapture tool
func (s *scriptSession) Screenshot(ctx context.Context, path string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if _, stderr, err := s.runner.Run(ctx, "screencapture", "-x", path); err != nil {
		return fmt.Errorf("screencapture failed: %w %s", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Cookies reads the script-visible cookies of the current document
func (s *scriptSession) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	raw, err := s.Evaluate(ctx, "({host: location.hostname, cookie: document.cookie})")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Host   string `json:"host"`
		Cookie string `json:"cookie"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unexpected cookie payload: %w", err)
	}
	return parseDocumentCookie(doc.Host, doc.Cookie), nil
}

// AddCookies restores cookies through document.cookie. HttpOnly cookies cannot be set from a page.
func (s *scriptSession) AddCookies(ctx context.Context, cookies []entities.Cookie) error {
	for _, c := range cookies {
		if c.HTTPOnly {
			s.logger.WithField("cookie", c.Name).Debug("skipping HttpOnly cookie")
			continue
		}
		if _, err := s.RunScript(ctx, "document.cookie = "+jsLiteral(documentCookieString(c))+";"); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the spawned browser (if any) and removes its temporary profile
func (s *scriptSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.proc != nil {
			s.closeErr = s.proc.Terminate()
		}
		if s.cleanup != nil {
			s.cleanup()
		}
		s.logger.Info("script-injection session closed")
	})
	return s.closeErr
}

const cookieTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

const waitWhileLoading = `	repeat while loading of active tab of front window
		delay 0.25
	end repeat`

// javaScriptAppleScript wraps js in an "execute javascript" call against the active tab.
// With capture the value is returned so osascript prints it.
func javaScriptAppleScript(app, js string, capture bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tell application %s\n", appleScriptString(app))
	b.WriteString("\tactivate\n")
	b.WriteString("\ttell front window to set theTab to active tab\n")
	b.WriteString("\ttell theTab\n")
	if capture {
		fmt.Fprintf(&b, "\t\tset jsResult to execute javascript %s\n", appleScriptString(js))
	} else {
		fmt.Fprintf(&b, "\t\texecute javascript %s\n", appleScriptString(js))
	}
	b.WriteString("\tend tell\n")
	b.WriteString("end tell\n")
	if capture {
		b.WriteString("return jsResult\n")
	}
	return b.String()
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func jsLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func parseDocumentCookie(host, header string) []entities.Cookie {
	var out []entities.Cookie
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out = append(out, entities.Cookie{
			Name:   strings.TrimSpace(name),
			Value:  value,
			Domain: host,
			Path:   "/",
		})
	}
	return out
}

func documentCookieString(c entities.Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name + "=" + c.Value)
	path := c.Path
	if path == "" {
		path = "/"
	}
	b.WriteString("; path=" + path)
	if c.Expires > 0 {
		b.WriteString("; expires=" + time.Unix(int64(c.Expires), 0).UTC().Format(cookieTimeFormat))
	}
	if c.Secure {
		b.WriteString("; secure")
	}
	if c.SameSite != "" {
		b.WriteString("; samesite=" + c.SameSite)
	}
	return b.String()
}

var (
	_ interfaces.Screenshotter = (*scriptSession)(nil)
	_ interfaces.CookieJar     = (*scriptSession)(nil)
)
