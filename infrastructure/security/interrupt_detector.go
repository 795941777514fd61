package security

import (
	"context"
	"strings"

	"shop_automation/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// DefaultInterruptKeywords are the markers of a challenge page
var DefaultInterruptKeywords = []string{
	"captcha",
	"unusual traffic",
	"verify you are human",
}

// KeywordDetector flags pages whose content contains any interrupt keyword
type KeywordDetector struct {
	logger   *logrus.Logger
	keywords []string
}

// NewKeywordDetector - creates a detector; with no keywords the defaults apply
func NewKeywordDetector(logger *logrus.Logger, keywords ...string) *KeywordDetector {
	if len(keywords) == 0 {
		keywords = DefaultInterruptKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordDetector{logger: logger, keywords: lowered}
}

// Match returns the first keyword found in content, case-insensitively
func (d *KeywordDetector) Match(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// Detect reads the rendered page and reports whether it shows an interrupt.
// A page that cannot be read counts as clean.
func (d *KeywordDetector) Detect(ctx context.Context, session interfaces.Session) bool {
	content, err := session.Content(ctx)
	if err != nil {
		d.logger.WithError(err).WithField("session", session.ID()).Warn("could not read page for interrupt detection")
		return false
	}
	keyword, found := d.Match(content)
	if found {
		d.logger.WithFields(logrus.Fields{
			"session": session.ID(),
			"keyword": keyword,
		}).Warn("interrupt detected, manual intervention required")
	}
	return found
}

// Ensure KeywordDetector implements InterruptDetector interface
var _ interfaces.InterruptDetector = (*KeywordDetector)(nil)
