package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shop_automation/application/retry"
	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"

	"github.com/sirupsen/logrus"
)

const (
	storeURL   = "https://www.demoblaze.com/"
	validToken = "dGVzdHVzZXI="
)

var (
	jsLiteralRe  = `("(?:[^"\\]|\\.)*")`
	querySelRe   = regexp.MustCompile(`document\.querySelector\(` + jsLiteralRe + `\)`)
	valueRe      = regexp.MustCompile(`el\.value = ` + jsLiteralRe + `;`)
	clickNthRe   = regexp.MustCompile(`els\[(\d+)\]\.click\(\)`)
	phoneCatalog = map[string]string{
		"iPhone 6":          "It comes with 1GB of RAM.",
		"Samsung Galaxy S6": "The Samsung Galaxy S6 is powered by 1.5GHz octa-core Samsung Exynos 7420 processor.",
		"Samsung Galaxy S7": "The Samsung Galaxy S7 is powered by a 2.3GHz quad-core processor.",
		"Nexus 6":           "The Motorola Google Nexus 6 is powered by 2.7GHz quad-core processor.",
	}
)

// fakeStorefront is a session against a simulated demo store
type fakeStorefront struct {
	mu   sync.Mutex
	site entities.SiteProfile

	username, password string
	titles             []string
	captcha            bool
	cartBroken         bool
	failNavigations    int

	page         string
	modalOpen    bool
	loggedIn     bool
	listingShown bool
	current      string
	filled       map[string]string
	cart         []string

	navigations  int
	reloads      int
	loginClicks  int
	closeCount   int
	screenshots  []string
	restored     []entities.Cookie
	scriptCalls  []string
	screenshotFn func(path string) error
}

func newStorefront() *fakeStorefront {
	return &fakeStorefront{
		site:     entities.DemoblazeProfile(),
		username: "testuser",
		password: "hunter2",
		titles:   []string{"iPhone 6", "Samsung Galaxy S6", "Samsung Galaxy S7"},
		filled:   map[string]string{},
	}
}

func (f *fakeStorefront) ID() string                 { return "fake-session" }
func (f *fakeStorefront) Kind() entities.BackendKind { return entities.BackendInProcess }

func (f *fakeStorefront) visible(predicate string) bool {
	checks := []struct {
		selector string
		visible  bool
	}{
		{f.site.LoginButton, f.page != ""},
		{f.site.LoginModal, f.modalOpen},
		{f.site.UsernameInput, f.modalOpen},
		{f.site.PasswordInput, f.modalOpen},
		{f.site.SubmitLogin, f.modalOpen},
		{f.site.AuthenticatedMarker, f.loggedIn},
		{f.site.CategoryLink, f.page == "home"},
		{f.site.ListingEntry, f.page == "home" && f.listingShown},
		{f.site.ProductName, f.page == "product"},
		{f.site.AddToCart, f.page == "product"},
		{f.site.CartLink, f.page != ""},
		{f.site.CartSuccessMarker, f.page == "cart" && len(f.cart) > 0 && !f.cartBroken},
	}
	for _, c := range checks {
		if c.selector != "" && strings.Contains(predicate, jsString(c.selector)) {
			return c.visible
		}
	}
	return false
}

func (f *fakeStorefront) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible(predicate)
}

func (f *fakeStorefront) Evaluate(ctx context.Context, expression string) (string, error) {
	return "null", nil
}

func (f *fakeStorefront) RunScript(ctx context.Context, code string) (string, error) {
	f.mu.Lock()
	f.scriptCalls = append(f.scriptCalls, code)
	f.mu.Unlock()

	if m := clickNthRe.FindStringSubmatch(code); m != nil {
		i, _ := strconv.Atoi(m[1])
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.page != "home" || i >= len(f.titles) {
			return "", errors.New("element not found")
		}
		f.page, f.current = "product", f.titles[i]
		return "", nil
	}

	m := querySelRe.FindStringSubmatch(code)
	if m == nil {
		return "", fmt.Errorf("unexpected script: %s", code)
	}
	var selector string
	if err := json.Unmarshal([]byte(m[1]), &selector); err != nil {
		return "", err
	}
	if v := valueRe.FindStringSubmatch(code); v != nil {
		var value string
		if err := json.Unmarshal([]byte(v[1]), &value); err != nil {
			return "", err
		}
		return "", f.Fill(ctx, selector, value)
	}
	return "", f.Click(ctx, selector)
}

func (f *fakeStorefront) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch selector {
	case f.site.LoginButton:
		f.loginClicks++
		f.modalOpen = true
	case f.site.SubmitLogin:
		if !f.modalOpen {
			return errors.New("login modal is closed")
		}
		if f.filled[f.site.UsernameInput] == f.username && f.filled[f.site.PasswordInput] == f.password {
			f.loggedIn, f.modalOpen = true, false
		}
	case f.site.CategoryLink:
		f.listingShown = true
	case f.site.AddToCart:
		if f.page != "product" {
			return errors.New("not on a product page")
		}
		f.cart = append(f.cart, f.current)
	case f.site.CartLink:
		f.page = "cart"
	default:
		return fmt.Errorf("no element matches %s", selector)
	}
	return nil
}

func (f *fakeStorefront) Fill(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.modalOpen {
		return fmt.Errorf("%s is not visible", selector)
	}
	f.filled[selector] = text
	return nil
}

func (f *fakeStorefront) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations++
	if f.failNavigations > 0 {
		f.failNavigations--
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	f.page, f.listingShown, f.modalOpen = "home", false, false
	return nil
}

func (f *fakeStorefront) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	f.modalOpen = false
	for _, c := range f.restored {
		if c.Name == "tokenp_" && c.Value == validToken {
			f.loggedIn = true
		}
	}
	return nil
}

func (f *fakeStorefront) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	b.WriteString("<html><body>")
	if f.captcha {
		b.WriteString(`<div class="challenge">Please complete the CAPTCHA to continue</div>`)
	}
	switch f.page {
	case "home":
		b.WriteString(`<div id="tbodyid">`)
		if f.listingShown {
			for i, t := range f.titles {
				fmt.Fprintf(&b, `<div class="card h-100"><h4 class="card-title"><a href="prod.html?idp_=%d" class="hrefch">%s</a></h4><h5>$360</h5></div>`, i+1, html.EscapeString(t))
			}
		}
		b.WriteString(`</div>`)
	case "product":
		fmt.Fprintf(&b, `<div id="tbodyid"><h2 class="name">%s</h2><h3 class="price-container">$360 <small>*includes tax</small></h3>`, html.EscapeString(f.current))
		if desc := phoneCatalog[f.current]; desc != "" {
			fmt.Fprintf(&b, `<div id="more-information"><strong>Product description</strong><p>%s</p></div>`, html.EscapeString(desc))
		}
		b.WriteString(`</div>`)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeStorefront) Screenshot(ctx context.Context, path string) error {
	f.mu.Lock()
	f.screenshots = append(f.screenshots, path)
	fn := f.screenshotFn
	f.mu.Unlock()
	if fn != nil {
		return fn(path)
	}
	return nil
}

func (f *fakeStorefront) Cookies(ctx context.Context) ([]entities.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loggedIn {
		return nil, nil
	}
	return []entities.Cookie{
		{Name: "tokenp_", Value: validToken, Domain: "www.demoblaze.com", Path: "/"},
		{Name: "user", Value: "5f1a", Domain: ".demoblaze.com", Path: "/"},
	}, nil
}

func (f *fakeStorefront) AddCookies(ctx context.Context, cookies []entities.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, cookies...)
	return nil
}

func (f *fakeStorefront) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	f.page = ""
	return nil
}

var (
	_ interfaces.ElementActor  = (*fakeStorefront)(nil)
	_ interfaces.Screenshotter = (*fakeStorefront)(nil)
	_ interfaces.CookieJar     = (*fakeStorefront)(nil)
)

// scriptOnly hides every optional capability so the engine falls back to injected scripts
type scriptOnly struct {
	interfaces.Session
}

type fakeTransport struct {
	session interfaces.Session
	openErr error
	opened  int
}

func (t *fakeTransport) Kind() entities.BackendKind { return entities.BackendInProcess }

func (t *fakeTransport) Open(ctx context.Context, target string, opts entities.LaunchOptions) (interfaces.Session, error) {
	t.opened++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.session, nil
}

type captchaDetector struct{}

func (captchaDetector) Detect(ctx context.Context, s interfaces.Session) bool {
	html, err := s.Content(ctx)
	return err == nil && strings.Contains(strings.ToLower(html), "captcha")
}

type memoryStore struct {
	mu     sync.Mutex
	states map[string]*entities.SessionState
	saves  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: map[string]*entities.SessionState{}}
}

func (m *memoryStore) Save(state *entities.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.states[state.ID] = state
	return nil
}

func (m *memoryStore) Load(id string) (*entities.SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	return s, ok
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	store     *memoryStore
	sleeps    *sleepRecorder
	states    []entities.WorkflowState
}

func newHarness(t *testing.T, session interfaces.Session, mutate func(*Options), extra ...EngineOption) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		transport: &fakeTransport{session: session},
		store:     newMemoryStore(),
		sleeps:    &sleepRecorder{},
	}
	opts := DefaultOptions(storeURL)
	opts.ArtifactsDir = t.TempDir()
	if mutate != nil {
		mutate(&opts)
	}
	options := append([]EngineOption{
		WithRetrier(retry.NewRetrier(logger, retry.WithSleep(h.sleeps.sleep))),
		WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		WithObserver(func(runID string, from, to entities.WorkflowState) {
			h.states = append(h.states, to)
		}),
	}, extra...)
	h.engine = NewEngine(h.transport, captchaDetector{}, h.store, logger, opts, options...)
	return h
}

func fullContext(term string) *entities.WorkflowContext {
	return &entities.WorkflowContext{
		Credentials: entities.Credentials{Username: "testuser", Password: "hunter2"},
		SearchTerm:  term,
	}
}
