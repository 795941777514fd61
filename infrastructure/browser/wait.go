package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const contentExpression = "document.documentElement.outerHTML"

// jsonResultExpression wraps expression so its value comes back as JSON text
func jsonResultExpression(expression string) string {
	return fmt.Sprintf("JSON.stringify((%s))", strings.TrimRight(strings.TrimSpace(expression), ";"))
}

// truthyExpression coerces a predicate to a boolean
func truthyExpression(predicate string) string {
	return fmt.Sprintf("Boolean(%s)", strings.TrimRight(strings.TrimSpace(predicate), ";"))
}

// decodeString decodes a JSON-encoded string value
func decodeString(raw string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", fmt.Errorf("unexpected evaluation result %q: %w", truncate(raw, 80), err)
	}
	return s, nil
}

func isTrue(raw string) bool {
	return strings.TrimSpace(raw) == "true"
}

type evaluator func(ctx context.Context, expression string) (string, error)

// pollCondition evaluates predicate every interval until it holds, timeout elapses or ctx ends.
// Evaluation errors count as "not yet".
func pollCondition(ctx context.Context, logger *logrus.Entry, eval evaluator, predicate string, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	expr := truthyExpression(predicate)

	for {
		out, err := eval(ctx, expr)
		if err == nil && isTrue(out) {
			return true
		}
		if err != nil {
			logger.WithError(err).Debug("condition evaluation failed")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
