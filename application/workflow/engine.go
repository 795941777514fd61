// Package workflow drives the storefront workflow through any transport.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"shop_automation/application/retry"
	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"
	"shop_automation/internal/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Step names used in surfaced errors
const (
	StepInitialize  = "Initialization"
	StepLaunch      = "Launch"
	StepNavigate    = "Navigation"
	StepInterrupt   = "Interrupt"
	StepLogin       = "Login"
	StepInteraction = "Interaction"
)

const (
	loginFailureShot = "login_failure.png"
	interactionShot  = "interaction_error.png"
)

var (
	ErrMissingCredentials = errors.New("username and password must be set")
	ErrMissingSearchTerm  = errors.New("search term must be set")
	ErrNoProductFound     = errors.New("no product found")
	ErrNotAuthenticated   = errors.New("authenticated marker never appeared")
	ErrCartNotVerified    = errors.New("cart success marker never appeared")
	ErrElementNotVisible  = errors.New("element not visible")
)

// Options configures an Engine
type Options struct {
	TargetURL        string
	Site             entities.SiteProfile
	Launch           entities.LaunchOptions
	NavigationPolicy entities.RetryPolicy
	StagePolicy      entities.RetryPolicy
	ElementTimeout   time.Duration
	AuthTimeout      time.Duration
	CartTimeout      time.Duration
	SettleDelay      time.Duration
	ArtifactsDir     string
	// SessionID keys the session store; the username is used when empty
	SessionID string
}

// DefaultOptions - options for the demo store
func DefaultOptions(target string) Options {
	return Options{
		TargetURL:        target,
		Site:             entities.DemoblazeProfile(),
		NavigationPolicy: entities.DefaultRetryPolicy(),
		StagePolicy:      entities.SingleAttempt(),
		ElementTimeout:   15 * time.Second,
		AuthTimeout:      15 * time.Second,
		CartTimeout:      15 * time.Second,
		SettleDelay:      2 * time.Second,
		ArtifactsDir:     ".",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.TargetURL)
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = d.ElementTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = d.AuthTimeout
	}
	if o.CartTimeout <= 0 {
		o.CartTimeout = d.CartTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.ArtifactsDir == "" {
		o.ArtifactsDir = d.ArtifactsDir
	}
	return o
}

// Transition is one recorded state change
type Transition struct {
	From entities.WorkflowState `json:"from"`
	To   entities.WorkflowState `json:"to"`
	At   time.Time              `json:"at"`
}

// Observer is notified synchronously of every state change
type Observer func(runID string, from, to entities.WorkflowState)

// Result describes a finished run
type Result struct {
	RunID       string
	Plan        entities.Plan
	State       entities.WorkflowState
	FailedAt    string
	Product     *entities.ExtractedProduct
	Transitions []Transition
}

// Engine runs workflow plans. One Run at a time.
type Engine struct {
	transport interfaces.Transport
	detector  interfaces.InterruptDetector
	store     interfaces.SessionStore
	retrier   *retry.Retrier
	gate      *Gate
	logger    *logrus.Logger
	opts      Options
	observers []Observer
	sleep     retry.SleepFunc
	now       func() time.Time
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

func WithRetrier(r *retry.Retrier) EngineOption {
	return func(e *Engine) { e.retrier = r }
}

func WithGate(g *Gate) EngineOption {
	return func(e *Engine) { e.gate = g }
}

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithSleep replaces the settle-delay timer
func WithSleep(fn retry.SleepFunc) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine - creates an engine. store may be nil to disable session persistence.
func NewEngine(transport interfaces.Transport, detector interfaces.InterruptDetector, store interfaces.SessionStore, logger *logrus.Logger, opts Options, options ...EngineOption) *Engine {
	e := &Engine{
		transport: transport,
		detector:  detector,
		store:     store,
		logger:    logger,
		opts:      opts.withDefaults(),
		sleep:     clock.Sleep,
		now:       time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.retrier == nil {
		e.retrier = retry.NewRetrier(logger)
	}
	if e.gate == nil {
		e.gate = NewGate()
	}
	return e
}

// Acknowledge resumes a run paused in AwaitingAcknowledgment
func (e *Engine) Acknowledge() {
	e.gate.Acknowledge()
}

// Transport returns the transport the engine drives
func (e *Engine) Transport() interfaces.Transport {
	return e.transport
}

// run is the per-execution state; it never outlives Run
type run struct {
	engine  *Engine
	plan    entities.Plan
	wctx    *entities.WorkflowContext
	session interfaces.Session
	log     *logrus.Entry
	result  *Result
}

func (r *run) state() entities.WorkflowState { return r.result.State }

func (r *run) to(next entities.WorkflowState) error {
	from := r.result.State
	if !from.CanTransition(next) {
		return fmt.Errorf("illegal workflow transition %s -> %s", from, next)
	}
	r.result.State = next
	r.result.Transitions = append(r.result.Transitions, Transition{From: from, To: next, At: r.engine.now()})
	r.log.WithFields(logrus.Fields{"from": from, "state": next}).Info("workflow state changed")
	for _, o := range r.engine.observers {
		o(r.wctx.RunID, from, next)
	}
	return nil
}

// fail moves the run to Failed and returns err tagged with the step when it is not already
func (r *run) fail(step string, err error) error {
	var stepErr *retry.StepError
	if !errors.As(err, &stepErr) {
		err = &retry.StepError{Step: step, Attempts: 1, Err: err}
	} else {
		step = stepErr.Step
	}
	r.result.FailedAt = step
	if !r.state().IsTerminal() {
		r.to(entities.StateFailed)
	}
	r.log.WithError(err).WithField("step", step).Error("workflow failed")
	return err
}

// Run executes plan against a fresh session. The session is closed exactly once on every path.
func (e *Engine) Run(ctx context.Context, plan entities.Plan, wctx *entities.WorkflowContext) (*Result, error) {
	if wctx == nil {
		wctx = &entities.WorkflowContext{}
	}
	if wctx.RunID == "" {
		wctx.RunID = uuid.NewString()
	}
	if wctx.TargetURL == "" {
		wctx.TargetURL = e.opts.TargetURL
	}

	r := &run{
		engine: e,
		plan:   plan,
		wctx:   wctx,
		log: e.logger.WithFields(logrus.Fields{
			"run_id":  wctx.RunID,
			"plan":    plan,
			"backend": e.transport.Kind(),
		}),
		result: &Result{RunID: wctx.RunID, Plan: plan, State: entities.StateIdle},
	}

	if err := r.to(entities.StateInitializing); err != nil {
		return r.result, r.fail(StepInitialize, err)
	}
	if err := validate(plan, wctx); err != nil {
		return r.result, r.fail(StepInitialize, err)
	}

	session, err := e.transport.Open(ctx, wctx.TargetURL, e.opts.Launch)
	if err != nil {
		return r.result, r.fail(StepLaunch, err)
	}
	r.session = session
	r.log = r.log.WithField("session", session.ID())

	var closeOnce sync.Once
	defer closeOnce.Do(func() {
		if err := session.Close(); err != nil {
			r.log.WithError(err).Warn("failed to close session")
		}
	})

	err = r.execute(ctx)
	r.result.Product = wctx.Product
	if err != nil {
		return r.result, err
	}
	r.log.Info("workflow completed")
	return r.result, nil
}

func validate(plan entities.Plan, wctx *entities.WorkflowContext) error {
	switch plan {
	case entities.PlanFull, entities.PlanLogin, entities.PlanSearch:
	default:
		return fmt.Errorf("unknown plan %q", plan)
	}
	if wctx.TargetURL == "" {
		return errors.New("target url must be set")
	}
	if plan.Authenticates() && !wctx.Credentials.Complete() {
		return ErrMissingCredentials
	}
	if plan.Locates() && wctx.SearchTerm == "" {
		return ErrMissingSearchTerm
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	if r.plan.Authenticates() {
		if err := r.to(entities.StateAuthenticating); err != nil {
			return r.fail(StepLogin, err)
		}
		if err := r.authenticate(ctx); err != nil {
			return r.fail(StepLogin, err)
		}
	}

	if r.plan.Locates() {
		if err := r.to(entities.StateLocating); err != nil {
			return r.fail(StepInteraction, err)
		}
		if err := r.locate(ctx); err != nil {
			return r.fail(StepInteraction, err)
		}
	}

	if r.plan.AddsToCart() {
		if err := r.to(entities.StateActing); err != nil {
			return r.fail(StepInteraction, err)
		}
		if err := r.act(ctx); err != nil {
			return r.fail(StepInteraction, err)
		}
		if err := r.to(entities.StateVerifying); err != nil {
			return r.fail(StepInteraction, err)
		}
		if err := r.verify(ctx); err != nil {
			return r.fail(StepInteraction, err)
		}
	}

	if err := r.to(entities.StateCompleted); err != nil {
		return r.fail(StepInitialize, err)
	}
	return nil
}

// ensureNavigated loads the storefront once per run, with backoff
func (r *run) ensureNavigated(ctx context.Context) error {
	if r.wctx.Navigated {
		return nil
	}
	e := r.engine
	err := e.retrier.Run(ctx, StepNavigate, e.opts.NavigationPolicy, func(ctx context.Context) error {
		return r.session.Navigate(ctx, r.wctx.TargetURL)
	}, nil)
	if err != nil {
		return err
	}
	r.wctx.Navigated = true
	return nil
}

// checkInterrupt pauses in AwaitingAcknowledgment while a challenge is on screen and
// resumes into the state it was called from
func (r *run) checkInterrupt(ctx context.Context) error {
	e := r.engine
	if e.detector == nil || !e.detector.Detect(ctx, r.session) {
		return nil
	}
	resume := r.state()
	e.gate.reset()
	if err := r.to(entities.StateAwaitingAcknowledgment); err != nil {
		return err
	}
	r.log.Warn("interrupt detected, waiting for manual acknowledgment")
	if err := e.gate.Wait(ctx); err != nil {
		return &retry.StepError{Step: StepInterrupt, Attempts: 1, Err: fmt.Errorf("acknowledgment not received: %w", err)}
	}
	r.log.Info("acknowledgment received, resuming")
	return r.to(resume)
}

// abort recovers from a failure raised outside a retried operation and reports it under step.
// The original error stays in the chain.
func (r *run) abort(ctx context.Context, step, screenshot string, err error) error {
	r.engine.retrier.Recover(ctx, step, r.recovery(screenshot), err)
	attempts := 1
	var inner *retry.StepError
	if errors.As(err, &inner) {
		attempts = inner.Attempts
	}
	return &retry.StepError{Step: step, Attempts: attempts, Err: err}
}

func (r *run) authenticate(ctx context.Context) error {
	e := r.engine
	if err := r.ensureNavigated(ctx); err != nil {
		return r.abort(ctx, StepLogin, loginFailureShot, err)
	}
	if r.restoreSession(ctx) {
		r.log.Info("restored session is already authenticated")
		return nil
	}
	if err := r.checkInterrupt(ctx); err != nil {
		return r.abort(ctx, StepLogin, loginFailureShot, err)
	}

	site := e.opts.Site
	creds := r.wctx.Credentials
	err := e.retrier.Run(ctx, StepLogin, e.opts.StagePolicy, func(ctx context.Context) error {
		if err := r.click(ctx, site.LoginButton); err != nil {
			return err
		}
		if !r.session.WaitForCondition(ctx, visiblePredicate(site.LoginModal), e.opts.ElementTimeout) {
			return fmt.Errorf("login modal %s did not open: %w", site.LoginModal, ErrElementNotVisible)
		}
		if err := r.fill(ctx, site.UsernameInput, creds.Username); err != nil {
			return err
		}
		if err := r.fill(ctx, site.PasswordInput, creds.Password); err != nil {
			return err
		}
		if err := r.click(ctx, site.SubmitLogin); err != nil {
			return err
		}
		if !r.session.WaitForCondition(ctx, visiblePredicate(site.AuthenticatedMarker), e.opts.AuthTimeout) {
			return ErrNotAuthenticated
		}
		return nil
	}, r.recovery(loginFailureShot))
	if err != nil {
		return err
	}

	r.log.Info("login completed")
	r.persistSession(ctx)
	return nil
}

func (r *run) locate(ctx context.Context) error {
	e := r.engine
	if err := r.ensureNavigated(ctx); err != nil {
		return r.abort(ctx, StepInteraction, interactionShot, err)
	}
	if err := r.checkInterrupt(ctx); err != nil {
		return r.abort(ctx, StepInteraction, interactionShot, err)
	}

	site := e.opts.Site
	term := r.wctx.SearchTerm
	return e.retrier.Run(ctx, StepInteraction, e.opts.StagePolicy, func(ctx context.Context) error {
		if site.CategoryLink != "" {
			if err := r.click(ctx, site.CategoryLink); err != nil {
				return err
			}
		}
		if !r.session.WaitForCondition(ctx, presentPredicate(site.ListingEntry), e.opts.ElementTimeout) {
			return fmt.Errorf("product listing %s did not load: %w", site.ListingEntry, ErrElementNotVisible)
		}
		html, err := r.session.Content(ctx)
		if err != nil {
			return err
		}
		titles, err := ListingTitles(html, site.ListingEntry)
		if err != nil {
			return err
		}
		idx, ok := MatchProduct(titles, term)
		if !ok {
			return retry.Permanent(fmt.Errorf("%w matching '%s'", ErrNoProductFound, term))
		}
		r.log.WithFields(logrus.Fields{"term": term, "title": titles[idx], "index": idx}).Info("product matched")

		if _, err := r.session.RunScript(ctx, clickNthScript(site.ListingEntry, idx)); err != nil {
			return err
		}
		if !r.session.WaitForCondition(ctx, visiblePredicate(site.ProductName), e.opts.ElementTimeout) {
			return fmt.Errorf("product page %s did not load: %w", site.ProductName, ErrElementNotVisible)
		}
		page, err := r.session.Content(ctx)
		if err != nil {
			return err
		}
		product, err := ExtractProduct(page, site)
		if err != nil {
			return err
		}
		r.wctx.Product = &product
		r.log.WithFields(logrus.Fields{"name": product.Name, "price": product.Price}).Info("product details extracted")
		return nil
	}, r.recovery(interactionShot))
}

func (r *run) act(ctx context.Context) error {
	e := r.engine
	return e.retrier.Run(ctx, StepInteraction, e.opts.StagePolicy, func(ctx context.Context) error {
		if err := r.click(ctx, e.opts.Site.AddToCart); err != nil {
			return err
		}
		r.log.Info("add to cart clicked")
		return e.sleep(ctx, e.opts.SettleDelay)
	}, r.recovery(interactionShot))
}

func (r *run) verify(ctx context.Context) error {
	e := r.engine
	site := e.opts.Site
	return e.retrier.Run(ctx, StepInteraction, e.opts.StagePolicy, func(ctx context.Context) error {
		if site.CartURL != "" {
			if err := r.session.Navigate(ctx, site.CartURL); err != nil {
				return err
			}
		} else if err := r.click(ctx, site.CartLink); err != nil {
			return err
		}
		if !r.session.WaitForCondition(ctx, presentPredicate(site.CartSuccessMarker), e.opts.CartTimeout) {
			return ErrCartNotVerified
		}
		r.log.Info("item verified in cart")
		return nil
	}, r.recovery(interactionShot))
}

// click waits for selector to be visible and clicks it, natively when the backend can
func (r *run) click(ctx context.Context, selector string) error {
	if actor, ok := r.session.(interfaces.ElementActor); ok {
		return actor.Click(ctx, selector)
	}
	if !r.session.WaitForCondition(ctx, visiblePredicate(selector), r.engine.opts.ElementTimeout) {
		return fmt.Errorf("%s: %w", selector, ErrElementNotVisible)
	}
	_, err := r.session.RunScript(ctx, clickScript(selector))
	return err
}

func (r *run) fill(ctx context.Context, selector, value string) error {
	if actor, ok := r.session.(interfaces.ElementActor); ok {
		return actor.Fill(ctx, selector, value)
	}
	if !r.session.WaitForCondition(ctx, visiblePredicate(selector), r.engine.opts.ElementTimeout) {
		return fmt.Errorf("%s: %w", selector, ErrElementNotVisible)
	}
	_, err := r.session.RunScript(ctx, fillScript(selector, value))
	return err
}

// recovery reloads the page and captures a screenshot; both are best effort
func (r *run) recovery(screenshot string) retry.Recovery {
	return func(ctx context.Context, cause error) error {
		var errs []error
		if err := r.session.Reload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reload: %w", err))
		}
		shooter, ok := r.session.(interfaces.Screenshotter)
		if !ok {
			r.log.Debug("backend cannot capture screenshots")
			return errors.Join(errs...)
		}
		path := filepath.Join(r.engine.opts.ArtifactsDir, screenshot)
		if err := shooter.Screenshot(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("screenshot: %w", err))
		} else {
			r.log.WithField("path", path).Info("diagnostic screenshot saved")
		}
		return errors.Join(errs...)
	}
}

func (r *run) sessionID() string {
	if id := r.engine.opts.SessionID; id != "" {
		return id
	}
	if u := r.wctx.Credentials.Username; u != "" {
		return u
	}
	return "default"
}

// restoreSession pushes stored cookies into the browser and reports whether that alone
// authenticated the user. Every failure means "no session".
func (r *run) restoreSession(ctx context.Context) bool {
	e := r.engine
	jar, ok := r.session.(interfaces.CookieJar)
	if e.store == nil || !ok {
		return false
	}
	state, found := e.store.Load(r.sessionID())
	if !found || state.Len() == 0 {
		return false
	}
	if err := jar.AddCookies(ctx, state.List()); err != nil {
		r.log.WithError(err).Warn("failed to restore session cookies")
		return false
	}
	if err := r.session.Reload(ctx); err != nil {
		r.log.WithError(err).Warn("failed to reload after restoring session")
		return false
	}
	return r.session.WaitForCondition(ctx, visiblePredicate(e.opts.Site.AuthenticatedMarker), e.opts.ElementTimeout/3)
}

func (r *run) persistSession(ctx context.Context) {
	e := r.engine
	jar, ok := r.session.(interfaces.CookieJar)
	if e.store == nil || !ok {
		return
	}
	cookies, err := jar.Cookies(ctx)
	if err != nil {
		r.log.WithError(err).Warn("failed to read session cookies")
		return
	}
	state := entities.NewSessionState(r.sessionID(), cookies)
	if err := e.store.Save(state); err != nil {
		r.log.WithError(err).Warn("failed to persist session state")
		return
	}
	r.log.WithField("cookies", state.Len()).Info("session state persisted")
}
