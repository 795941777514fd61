package interfaces

import (
	"context"
	"time"

	"shop_automation/domain/entities"
)

// Transport starts browser sessions for one backend kind
type Transport interface {
	// Kind returns the backend this transport implements
	Kind() entities.BackendKind

	// Open launches (or attaches to) a browser and points it at target.
	// A launch failure is fatal and must not be retried by the caller.
	Open(ctx context.Context, target string, opts entities.LaunchOptions) (Session, error)
}

// Session is one live connection to a browser. It owns its connection handle exclusively.
type Session interface {
	// ID identifies the session in logs
	ID() string

	// Kind returns the backend that owns the session
	Kind() entities.BackendKind

	// RunScript executes code in the page and returns whatever raw output the backend reports
	RunScript(ctx context.Context, code string) (string, error)

	// Evaluate evaluates expression and returns its value JSON-encoded
	Evaluate(ctx context.Context, expression string) (string, error)

	// WaitForCondition polls predicate until it is truthy or timeout elapses.
	// A timeout returns false and is not an error.
	WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) bool

	// Navigate loads url in the current tab
	Navigate(ctx context.Context, url string) error

	// Reload reloads the current page
	Reload(ctx context.Context) error

	// Content returns the serialized DOM of the current page
	Content(ctx context.Context) (string, error)

	// Close releases the connection and terminates anything the session spawned
	Close() error
}

// ElementActor is implemented by backends with native DOM primitives
type ElementActor interface {
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector string, text string) error
}

// Screenshotter is implemented by backends able to capture the page
type Screenshotter interface {
	Screenshot(ctx context.Context, path string) error
}

// CookieJar is implemented by backends able to read and restore cookies
type CookieJar interface {
	Cookies(ctx context.Context) ([]entities.Cookie, error)
	AddCookies(ctx context.Context, cookies []entities.Cookie) error
}
