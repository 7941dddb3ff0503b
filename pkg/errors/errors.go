package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind represents the kind of crawl error
type Kind string

const (
	// KindThrottled represents a rate-limit or cooldown denial; never retried within the same call
	KindThrottled Kind = "throttled"
	// KindSignatureUnavailable represents a missing or empty in-page signer; hard failure for the current path
	KindSignatureUnavailable Kind = "signature_unavailable"
	// KindProtocolRejected represents a structured platform error code in an otherwise valid response
	KindProtocolRejected Kind = "protocol_rejected"
	// KindStepTimeout represents a sub-step exceeding its computed budget; recorded and skipped
	KindStepTimeout Kind = "step_timeout"
	// KindDeadlineReached represents the outer crawl budget being exhausted
	KindDeadlineReached Kind = "deadline_reached"
	// KindEmptyResult represents a transport-level success that yielded no usable data
	KindEmptyResult Kind = "empty_result"
	// KindNavigationFailed represents both primary and fallback page loads failing
	KindNavigationFailed Kind = "navigation_failed"
	// KindCache represents key-value store errors from collaborators
	KindCache Kind = "cache"
	// KindPublisher represents result publishing errors
	KindPublisher Kind = "publisher"
	// KindConfiguration represents configuration errors
	KindConfiguration Kind = "configuration"
)

// CrawlError represents a crawl-specific error
type CrawlError struct {
	Kind     Kind
	Platform string
	Code     int // platform error code, set for KindProtocolRejected
	Message  string
	Hard     bool // hard failures stop further attempts on the current path
	Err      error
	Time     time.Time
}

// Error implements the error interface
func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Kind, e.Platform, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Platform, e.Message)
}

// Unwrap returns the underlying error
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// IsHard returns true if the error should stop further attempts on its path
func (e *CrawlError) IsHard() bool {
	switch e.Kind {
	case KindSignatureUnavailable, KindDeadlineReached:
		return true
	case KindProtocolRejected:
		return e.Hard
	default:
		return false
	}
}

// SessionNeutral reports whether the error must not count against session
// health. Throttling, empty results and budget expiry say nothing about
// whether the authenticated session itself is still good.
func (e *CrawlError) SessionNeutral() bool {
	switch e.Kind {
	case KindThrottled, KindEmptyResult, KindStepTimeout, KindDeadlineReached:
		return true
	}
	return false
}

// New creates a new CrawlError
func New(kind Kind, platform, message string, err error) *CrawlError {
	return &CrawlError{
		Kind:     kind,
		Platform: platform,
		Message:  message,
		Err:      err,
		Time:     time.Now(),
	}
}

// NewThrottled creates a throttled error carrying the remaining wait
func NewThrottled(platform string, retryAfter time.Duration) *CrawlError {
	message := fmt.Sprintf("throttled, retry after %v", retryAfter)
	return New(KindThrottled, platform, message, nil)
}

// NewSignatureUnavailable creates a signature error; reason is the normalized signer failure string
func NewSignatureUnavailable(platform, reason string) *CrawlError {
	e := New(KindSignatureUnavailable, platform, reason, nil)
	e.Hard = true
	return e
}

// NewProtocolRejected creates a platform-code rejection; hard per the platform profile's code set
func NewProtocolRejected(platform string, code int, message string, hard bool) *CrawlError {
	e := New(KindProtocolRejected, platform, message, nil)
	e.Code = code
	e.Hard = hard
	return e
}

// NewStepTimeout creates a step-timeout error for the named sub-step
func NewStepTimeout(platform, step string, budget time.Duration) *CrawlError {
	message := fmt.Sprintf("step %s exceeded %v", step, budget)
	return New(KindStepTimeout, platform, message, nil)
}

// NewDeadlineReached creates a deadline error
func NewDeadlineReached(platform string) *CrawlError {
	e := New(KindDeadlineReached, platform, "crawl_deadline_reached", nil)
	e.Hard = true
	return e
}

// NewEmptyResult creates an empty-result error for the named step
func NewEmptyResult(platform, step string) *CrawlError {
	return New(KindEmptyResult, platform, step, nil)
}

// NewNavigationFailed creates a navigation error
func NewNavigationFailed(platform, url string, err error) *CrawlError {
	return New(KindNavigationFailed, platform, "navigate "+url, err)
}

// NewCache creates a cache error
func NewCache(platform, message string, err error) *CrawlError {
	return New(KindCache, platform, message, err)
}

// NewPublisher creates a publisher error
func NewPublisher(platform, message string, err error) *CrawlError {
	return New(KindPublisher, platform, message, err)
}

// NewConfiguration creates a configuration error
func NewConfiguration(message string, err error) *CrawlError {
	return New(KindConfiguration, "", message, err)
}

// KindOf extracts the kind from any error; empty when err is not a CrawlError
func KindOf(err error) Kind {
	var ce *CrawlError
	if stderrors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// CodeOf extracts a platform code when err is a protocol rejection
func CodeOf(err error) (int, bool) {
	var ce *CrawlError
	if stderrors.As(err, &ce) && ce.Kind == KindProtocolRejected {
		return ce.Code, true
	}
	return 0, false
}

// IsHard reports whether err is a hard failure for its path
func IsHard(err error) bool {
	var ce *CrawlError
	if stderrors.As(err, &ce) {
		return ce.IsHard()
	}
	return false
}

// SessionNeutral reports whether err should be excluded from session health bookkeeping
func SessionNeutral(err error) bool {
	var ce *CrawlError
	if stderrors.As(err, &ce) {
		return ce.SessionNeutral()
	}
	return false
}
