package interfaces

import "context"

// InterruptDetector checks the current page for challenges that need a human (CAPTCHA and similar)
type InterruptDetector interface {
	// Detect reports whether the page shows an interrupt marker
	Detect(ctx context.Context, session Session) bool
}
