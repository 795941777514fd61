package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"
	"shop_automation/internal/clock"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RemoteConfig tunes the remote-protocol transport
type RemoteConfig struct {
	BinaryPath string
	Host       string
	DebugPort  int
	// Attach connects to an already running debugging endpoint instead of spawning a browser
	Attach            bool
	DiscoveryTimeout  time.Duration
	DiscoveryInterval time.Duration
	CommandTimeout    time.Duration
	NavigationTimeout time.Duration
	PollInterval      time.Duration
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
}

func (c RemoteConfig) withDefaults() RemoteConfig {
	if c.BinaryPath == "" {
		c.BinaryPath = defaultChromeBinary()
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.DebugPort == 0 {
		c.DebugPort = 9222
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 15 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 500 * time.Millisecond
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// DebugTarget is one entry of the /json discovery listing
type DebugTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type remoteTransport struct {
	logger  *logrus.Logger
	cfg     RemoteConfig
	starter ProcessStarter
}

// NewRemoteTransport - creates the transport that speaks the debugging protocol over a websocket
func NewRemoteTransport(logger *logrus.Logger, cfg RemoteConfig, starter ProcessStarter) interfaces.Transport {
	if starter == nil {
		starter = NewExecStarter()
	}
	return &remoteTransport{logger: logger, cfg: cfg.withDefaults(), starter: starter}
}

func (t *remoteTransport) Kind() entities.BackendKind { return entities.BackendRemoteProtocol }

func (t *remoteTransport) Open(ctx context.Context, target string, opts entities.LaunchOptions) (interfaces.Session, error) {
	if opts.DebugPort == 0 {
		opts.DebugPort = t.cfg.DebugPort
	}
	s := &remoteSession{
		id:      uuid.NewString(),
		cfg:     t.cfg,
		pending: make(map[int64]chan cdpMessage),
	}
	s.logger = t.logger.WithFields(logrus.Fields{"backend": entities.BackendRemoteProtocol, "session": s.id})

	if !t.cfg.Attach {
		dir, cleanup, err := userDataDir(opts, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		s.cleanup = cleanup

		args := ChromeArgs(opts, dir, target)
		s.logger.WithField("command", t.cfg.BinaryPath+" "+strings.Join(args, " ")).Info("launching browser with remote debugging")
		proc, err := t.starter.Start(t.cfg.BinaryPath, args...)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		s.proc = proc
	}

	endpoint := fmt.Sprintf("http://%s:%d/json", t.cfg.Host, opts.DebugPort)
	debugTarget, err := t.discover(ctx, endpoint)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrTargetNotFound, err)
	}

	conn, _, err := t.cfg.Dialer.DialContext(ctx, debugTarget.WebSocketDebuggerURL, nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrTargetNotFound, debugTarget.WebSocketDebuggerURL, err)
	}
	s.start(conn)
	s.logger.WithField("target", debugTarget.ID).Info("connected to debugging target")

	if t.cfg.Attach && target != "" {
		if err := s.Navigate(ctx, target); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// discover polls the discovery endpoint until a page target with a websocket URL shows up
func (t *remoteTransport) discover(ctx context.Context, endpoint string) (DebugTarget, error) {
	deadline := time.Now().Add(t.cfg.DiscoveryTimeout)
	var lastErr error
	for {
		targets, err := t.listTargets(ctx, endpoint)
		if err == nil {
			if target, ok := pickTarget(targets); ok {
				return target, nil
			}
			err = errors.New("no targets with a webSocketDebuggerUrl returned")
		}
		lastErr = err
		t.logger.WithError(err).Debug("debugging endpoint not ready")

		if time.Now().Add(t.cfg.DiscoveryInterval).After(deadline) {
			return DebugTarget{}, fmt.Errorf("discovery at %s timed out: %w", endpoint, lastErr)
		}
		if err := clock.Sleep(ctx, t.cfg.DiscoveryInterval); err != nil {
			return DebugTarget{}, err
		}
	}
}

func (t *remoteTransport) listTargets(ctx context.Context, endpoint string) ([]DebugTarget, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned HTTP %d", resp.StatusCode)
	}
	var targets []DebugTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	return targets, nil
}

// pickTarget prefers the first page target and falls back to the first debuggable one
func pickTarget(targets []DebugTarget) (DebugTarget, bool) {
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t, true
		}
	}
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return t, true
		}
	}
	return DebugTarget{}, false
}

type cdpRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

type remoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

type evaluateReturns struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

type remoteSession struct {
	id      string
	cfg     RemoteConfig
	conn    *websocket.Conn
	proc    Process
	cleanup func()
	logger  *logrus.Entry

	nextID  atomic.Int64
	writeMu sync.Mutex

	// pending holds one reply channel per request still waiting for its response
	pendingMu sync.Mutex
	pending   map[int64]chan cdpMessage

	// readDone is closed when the read loop exits; readErr is set before that
	readDone chan struct{}
	readErr  error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *remoteSession) ID() string                 { return s.id }
func (s *remoteSession) Kind() entities.BackendKind { return entities.BackendRemoteProtocol }

// start attaches conn and runs the read loop that routes responses to their requests
func (s *remoteSession) start(conn *websocket.Conn) {
	s.conn = conn
	s.readDone = make(chan struct{})
	go s.readLoop()
}

func (s *remoteSession) readLoop() {
	defer close(s.readDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(err).Debug("skipping undecodable message")
			continue
		}
		if msg.ID == 0 {
			s.logger.WithField("event", msg.Method).Trace("protocol event")
			continue
		}
		if reply, ok := s.takePending(msg.ID); ok {
			reply <- msg
			continue
		}
		s.logger.WithField("id", msg.ID).Debug("discarding response with no waiting request")
	}
}

func (s *remoteSession) addPending(id int64) chan cdpMessage {
	reply := make(chan cdpMessage, 1)
	s.pendingMu.Lock()
	s.pending[id] = reply
	s.pendingMu.Unlock()
	return reply
}

func (s *remoteSession) takePending(id int64) (chan cdpMessage, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	reply, ok := s.pending[id]
	delete(s.pending, id)
	return reply, ok
}

// outstanding returns how many requests are waiting for a response
func (s *remoteSession) outstanding() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Send issues one command and waits for the response carrying the same id.
// Ids come from a strictly increasing counter. A request that times out is forgotten,
// its late response is dropped and the connection stays usable.
func (s *remoteSession) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if s.closed.Load() || s.conn == nil {
		return nil, ErrSessionClosed
	}
	if params == nil {
		params = map[string]any{}
	}

	id := s.nextID.Add(1)
	reply := s.addPending(id)

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.CommandTimeout))
	err := s.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.takePending(id)
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	case <-timer.C:
		s.takePending(id)
		return nil, fmt.Errorf("%s timed out after %s: %w", method, s.cfg.CommandTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		s.takePending(id)
		return nil, ctx.Err()
	case <-s.readDone:
		s.takePending(id)
		if s.closed.Load() {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("failed to read %s response: %w", method, s.readErr)
	}
}

func (s *remoteSession) evaluate(ctx context.Context, expression string) (evaluateReturns, error) {
	raw, err := s.Send(ctx, cdpruntime.CommandEvaluate, map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return evaluateReturns{}, err
	}
	var out evaluateReturns
	if err := json.Unmarshal(raw, &out); err != nil {
		return evaluateReturns{}, fmt.Errorf("unexpected evaluate result: %w", err)
	}
	if out.ExceptionDetails != nil {
		msg := out.ExceptionDetails.Text
		if ex := out.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
		return out, &ScriptError{Backend: entities.BackendRemoteProtocol, Message: msg}
	}
	return out, nil
}

// RunScript evaluates code and returns the raw JSON value, empty when the script yields nothing
func (s *remoteSession) RunScript(ctx context.Context, code string) (string, error) {
	out, err := s.evaluate(ctx, code)
	if err != nil {
		return "", err
	}
	return string(out.Result.Value), nil
}

func (s *remoteSession) Evaluate(ctx context.Context, expression string) (string, error) {
	out, err := s.evaluate(ctx, jsonResultExpression(expression))
	if err != nil {
		return "", err
	}
	if len(out.Result.Value) == 0 || out.Result.Type == "undefined" {
		return "null", nil
	}
	var text string
	if err := json.Unmarshal(out.Result.Value, &text); err != nil {
		return string(out.Result.Value), nil
	}
	return text, nil
}

func (s *remoteSession) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) bool {
	return pollCondition(ctx, s.logger, s.Evaluate, predicate, timeout, s.cfg.PollInterval)
}

func (s *remoteSession) Navigate(ctx context.Context, url string) error {
	raw, err := s.Send(ctx, page.CommandNavigate, map[string]any{"url": url})
	if err != nil {
		return err
	}
	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &res); err == nil && res.ErrorText != "" {
		return fmt.Errorf("navigation to %s failed: %s", url, res.ErrorText)
	}
	return s.waitForDocument(ctx)
}

func (s *remoteSession) Reload(ctx context.Context) error {
	if _, err := s.Send(ctx, page.CommandReload, nil); err != nil {
		return err
	}
	return s.waitForDocument(ctx)
}

func (s *remoteSession) waitForDocument(ctx context.Context) error {
	if !s.WaitForCondition(ctx, `document.readyState !== "loading"`, s.cfg.NavigationTimeout) {
		return fmt.Errorf("document did not finish loading within %s", s.cfg.NavigationTimeout)
	}
	return nil
}

func (s *remoteSession) Content(ctx context.Context) (string, error) {
	raw, err := s.Evaluate(ctx, contentExpression)
	if err != nil {
		return "", err
	}
	return decodeString(raw)
}

func (s *remoteSession) Screenshot(ctx context.Context, path string) error {
	raw, err := s.Send(ctx, page.CommandCaptureScreenshot, map[string]any{"format": "png"})
	if err != nil {
		return err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unexpected screenshot result: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return os.WriteFile(path, img, 0644)
}

type protocolCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (s *remoteSession) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	raw, err := s.Send(ctx, network.CommandGetCookies, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Cookies []protocolCookie `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unexpected cookies result: %w", err)
	}
	out := make([]entities.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		out = append(out, entities.Cookie(c))
	}
	return out, nil
}

func (s *remoteSession) AddCookies(ctx context.Context, cookies []entities.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]protocolCookie, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, protocolCookie(c))
	}
	_, err := s.Send(ctx, network.CommandSetCookies, map[string]any{"cookies": params})
	return err
}

// Close sends a close frame, drops the socket, terminates the spawned browser and removes its profile
func (s *remoteSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var errs []error
		if s.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.WithError(err).Debug("close frame not sent")
			}
			if err := s.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close socket: %w", err))
			}
			<-s.readDone
		}
		if s.proc != nil {
			if err := s.proc.Terminate(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.cleanup != nil {
			s.cleanup()
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("remote-protocol session closed")
	})
	return s.closeErr
}

var (
	_ interfaces.Screenshotter = (*remoteSession)(nil)
	_ interfaces.CookieJar     = (*remoteSession)(nil)
)
