package app

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

// classificationRule maps a keyword set to a category.
// Rules are evaluated in table order and the first match wins.
type classificationRule struct {
	category   domain.ErrorCategory
	severity   domain.ErrorSeverity
	reason     string
	suggestion string
	keywords   []string
	pattern    *regexp.Regexp
}

var classificationRules = compileRules([]classificationRule{
	{
		category:   domain.CategoryContentPermanent,
		severity:   domain.SeverityHigh,
		reason:     "geo",
		suggestion: "Consider using a VPN or proxy service",
		keywords: []string{"geo", "country", "region", "location", "not available in your country",
			"blocked in your country", "geographic"},
	},
	{
		category:   domain.CategoryContentPermanent,
		severity:   domain.SeverityHigh,
		reason:     "age",
		suggestion: "Authentication may be required for age-restricted content",
		keywords:   []string{"age", "sign in", "login", "account", "restricted", "mature"},
	},
	{
		category:   domain.CategoryContentPermanent,
		severity:   domain.SeverityHigh,
		reason:     "private",
		suggestion: "Video may be private, deleted, or unavailable",
		keywords:   []string{"private", "deleted", "removed", "unavailable", "not found", "404", "does not exist"},
	},
	{
		category:   domain.CategoryRateLimit,
		severity:   domain.SeverityMedium,
		reason:     "rate-limit",
		suggestion: "Reduce request frequency",
		keywords:   []string{"rate limit", "too many requests", "429", "quota", "throttle"},
	},
	{
		category: domain.CategoryNetwork,
		severity: domain.SeverityMedium,
		reason:   "network",
		keywords: []string{"network", "connection", "timeout", "dns", "resolve", "unreachable", "refused", "reset"},
	},
	{
		category: domain.CategoryProcessing,
		severity: domain.SeverityMedium,
		reason:   "processing",
		keywords: []string{"ffmpeg", "format", "codec", "conversion", "processing"},
	},
	{
		category:   domain.CategoryFilesystem,
		severity:   domain.SeverityCritical,
		reason:     "filesystem",
		suggestion: "Check free space and permissions of the output directory",
		keywords: []string{"permission denied", "no space left", "disk", "busy", "locked", "read-only",
			"file exists"},
	},
	{
		category: domain.CategoryContentTransient,
		severity: domain.SeverityMedium,
		reason:   "server",
		keywords: []string{"temporary", "server error", "5xx", "500", "502", "503"},
	},
	{
		category: domain.CategoryValidation,
		severity: domain.SeverityLow,
		reason:   "validation",
		keywords: []string{"invalid url", "unsupported url", "malformed", "invalid argument"},
	},
})

var (
	retryAfterPattern = regexp.MustCompile(`retry.*?(\d+)`)

	networkTransientKeywords    = wordPattern([]string{"timeout", "connection", "network", "dns"})
	filesystemTransientKeywords = wordPattern([]string{"busy", "locked", "temporary"})
)

func compileRules(rules []classificationRule) []classificationRule {
	for i := range rules {
		rules[i].pattern = wordPattern(rules[i].keywords)
	}
	return rules
}

// wordPattern matches any of the keywords as whole words
func wordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// RetryCoordinator classifies fetch errors and decides retries and backoff
type RetryCoordinator struct {
	config domain.RetryConfig
	random func() float64
	logger *zap.Logger
}

// NewRetryCoordinator creates a retry coordinator
func NewRetryCoordinator(config domain.RetryConfig, log *zap.Logger) *RetryCoordinator {
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	return &RetryCoordinator{
		config: config,
		random: rand.Float64,
		logger: logger.OrNop(log),
	}
}

// Classify maps a raw fetch error to a category using keyword heuristics
func (rc *RetryCoordinator) Classify(err error) domain.ErrorClassification {
	if err == nil {
		return domain.ErrorClassification{Category: domain.CategoryUnknown, Severity: domain.SeverityLow}
	}

	message := err.Error()
	lower := strings.ToLower(message)

	c := domain.ErrorClassification{
		Category:  domain.CategoryUnknown,
		Severity:  domain.SeverityMedium,
		Retryable: true,
		Message:   message,
	}
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(lower) {
			c.Category = rule.category
			c.Severity = rule.severity
			c.Reason = rule.reason
			c.Suggestion = rule.suggestion
			break
		}
	}

	switch c.Category {
	case domain.CategoryContentPermanent:
		c.Retryable = false
	case domain.CategoryNetwork:
		c.Retryable = networkTransientKeywords.MatchString(lower)
	case domain.CategoryFilesystem:
		c.Retryable = filesystemTransientKeywords.MatchString(lower)
	case domain.CategoryRateLimit:
		c.SuggestedDelay = retryAfter(err, lower)
		if c.SuggestedDelay > 0 {
			c.Suggestion = "Wait " + c.SuggestedDelay.String() + " before retrying"
		}
	}

	rc.logger.Debug("Classified error",
		zap.String("category", string(c.Category)),
		zap.String("reason", c.Reason),
		zap.Bool("retryable", c.Retryable),
		zap.Duration("suggested_delay", c.SuggestedDelay))

	return c
}

// retryAfter prefers a provider supplied value over one parsed from the message
func retryAfter(err error, lower string) time.Duration {
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	m := retryAfterPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	seconds, convErr := strconv.Atoi(m[1])
	if convErr != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// ShouldRetry reports whether a failure gets another attempt.
// attempt is the number of retries already made for the task.
func (rc *RetryCoordinator) ShouldRetry(c domain.ErrorClassification, attempt, maxRetries int) bool {
	if !c.Retryable {
		return false
	}
	limit := maxRetries
	switch c.Category {
	case domain.CategoryContentTransient, domain.CategoryProcessing:
		limit = min(1, maxRetries)
	}
	return attempt < limit
}

// Delay returns the wait before the next attempt
func (rc *RetryCoordinator) Delay(attempt int, c domain.ErrorClassification) time.Duration {
	if c.Category == domain.CategoryRateLimit && c.SuggestedDelay > 0 {
		return c.SuggestedDelay
	}

	delay := rc.config.MaxDelay
	if attempt < 0 {
		attempt = 0
	}
	// past 2^30 the multiplication can overflow and the cap applies anyway
	if attempt < 30 {
		if d := rc.config.BaseDelay * time.Duration(1<<attempt); d > 0 && d < delay {
			delay = d
		}
	}

	jitter := time.Duration(float64(delay) * rc.config.JitterFactor * rc.random())
	return delay + jitter
}
