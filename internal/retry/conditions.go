package retry

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Condition decides whether a failed attempt should be retried. err is the
// attempt error (nil when the operation returned a value), attempt is the
// 1-based attempt number, and result is the operation's return value.
type Condition interface {
	ShouldRetry(err error, attempt int, result any) bool
}

// StatusCoder is implemented by results that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// statusOf extracts a status code from an operation result, or 0.
func statusOf(result any) int {
	switch v := result.(type) {
	case *http.Response:
		if v != nil {
			return v.StatusCode
		}
	case StatusCoder:
		return v.StatusCode()
	case int:
		return v
	}
	return 0
}

// StatusCodeCondition retries on specific HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition that retries on specific HTTP status codes.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool)
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// ShouldRetry implements Condition.
func (c *StatusCodeCondition) ShouldRetry(err error, attempt int, result any) bool {
	return c.codes[statusOf(result)]
}

// Retry5xxCondition retries on 5xx status codes.
type Retry5xxCondition struct{}

// RetryOn5xx creates a condition that retries on 5xx status codes.
func RetryOn5xx() *Retry5xxCondition {
	return &Retry5xxCondition{}
}

// ShouldRetry implements Condition.
func (c *Retry5xxCondition) ShouldRetry(err error, attempt int, result any) bool {
	code := statusOf(result)
	return code >= 500 && code < 600
}

// RetryableStatusCodes returns common retryable HTTP status codes.
func RetryableStatusCodes() *StatusCodeCondition {
	return RetryOnStatusCodes(
		408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
	)
}

// ErrorTypeCondition retries on specific error values.
type ErrorTypeCondition struct {
	errors []error
}

// RetryOnErrors creates a condition that retries on specific errors.
func RetryOnErrors(errs ...error) *ErrorTypeCondition {
	return &ErrorTypeCondition{errors: errs}
}

// ShouldRetry implements Condition.
func (c *ErrorTypeCondition) ShouldRetry(err error, attempt int, result any) bool {
	if err == nil {
		return false
	}

	for _, target := range c.errors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// NetworkErrorCondition retries on network errors.
type NetworkErrorCondition struct{}

// RetryOnNetworkErrors creates a condition that retries on network errors.
func RetryOnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements Condition.
func (c *NetworkErrorCondition) ShouldRetry(err error, attempt int, result any) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	if errors.Is(err, io.EOF) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || urlErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// GRPCStatusCondition retries on specific gRPC status codes.
type GRPCStatusCondition struct {
	codes map[codes.Code]bool
}

// RetryOnGRPCCodes creates a condition that retries on specific gRPC status codes.
func RetryOnGRPCCodes(grpcCodes ...codes.Code) *GRPCStatusCondition {
	codeMap := make(map[codes.Code]bool)
	for _, code := range grpcCodes {
		codeMap[code] = true
	}
	return &GRPCStatusCondition{codes: codeMap}
}

// ShouldRetry implements Condition.
func (c *GRPCStatusCondition) ShouldRetry(err error, attempt int, result any) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	return c.codes[st.Code()]
}

// RetryableGRPCCodes returns common retryable gRPC status codes.
func RetryableGRPCCodes() *GRPCStatusCondition {
	return RetryOnGRPCCodes(
		codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.DeadlineExceeded,
	)
}

// TimeoutCondition retries on timeout errors.
type TimeoutCondition struct{}

// RetryOnTimeout creates a condition that retries on timeout errors.
func RetryOnTimeout() *TimeoutCondition {
	return &TimeoutCondition{}
}

// ShouldRetry implements Condition.
func (c *TimeoutCondition) ShouldRetry(err error, attempt int, result any) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAttemptTimeout) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	st, ok := status.FromError(err)
	if ok && st.Code() == codes.DeadlineExceeded {
		return true
	}

	return false
}

// CompositeCondition combines multiple conditions with OR logic.
type CompositeCondition struct {
	conditions []Condition
}

// RetryOnAny creates a condition that retries if any of the conditions match.
func RetryOnAny(conditions ...Condition) *CompositeCondition {
	return &CompositeCondition{conditions: conditions}
}

// ShouldRetry implements Condition.
func (c *CompositeCondition) ShouldRetry(err error, attempt int, result any) bool {
	for _, condition := range c.conditions {
		if condition.ShouldRetry(err, attempt, result) {
			return true
		}
	}
	return false
}

// AllCondition combines multiple conditions with AND logic.
type AllCondition struct {
	conditions []Condition
}

// RetryOnAll creates a condition that retries only if all conditions match.
func RetryOnAll(conditions ...Condition) *AllCondition {
	return &AllCondition{conditions: conditions}
}

// ShouldRetry implements Condition.
func (c *AllCondition) ShouldRetry(err error, attempt int, result any) bool {
	if len(c.conditions) == 0 {
		return false
	}

	for _, condition := range c.conditions {
		if !condition.ShouldRetry(err, attempt, result) {
			return false
		}
	}
	return true
}

// NeverRetryCondition never retries.
type NeverRetryCondition struct{}

// NeverRetry creates a condition that never retries.
func NeverRetry() *NeverRetryCondition {
	return &NeverRetryCondition{}
}

// ShouldRetry implements Condition.
func (c *NeverRetryCondition) ShouldRetry(err error, attempt int, result any) bool {
	return false
}

// AlwaysRetryCondition retries every failure up to the retry budget.
type AlwaysRetryCondition struct{}

// AlwaysRetry creates a condition that always retries failures.
func AlwaysRetry() *AlwaysRetryCondition {
	return &AlwaysRetryCondition{}
}

// ShouldRetry implements Condition.
func (c *AlwaysRetryCondition) ShouldRetry(err error, attempt int, result any) bool {
	return err != nil || statusOf(result) >= 400
}

// IdempotentMethodCondition only retries for idempotent HTTP methods.
type IdempotentMethodCondition struct {
	method    string
	condition Condition
}

// RetryIfIdempotent creates a condition that only retries for idempotent methods.
func RetryIfIdempotent(method string, condition Condition) *IdempotentMethodCondition {
	return &IdempotentMethodCondition{
		method:    method,
		condition: condition,
	}
}

// ShouldRetry implements Condition.
func (c *IdempotentMethodCondition) ShouldRetry(err error, attempt int, result any) bool {
	switch c.method {
	case "GET", "HEAD", "OPTIONS", "PUT", "DELETE":
		return c.condition.ShouldRetry(err, attempt, result)
	default:
		return false
	}
}

// DefaultCondition is the condition used when a policy has none: network
// errors, timeouts and 5xx results are retried, everything else is not.
// Results with 4xx status codes are never retried.
func DefaultCondition() Condition {
	return RetryOnAny(
		RetryOnNetworkErrors(),
		RetryOnTimeout(),
		RetryOn5xx(),
	)
}

// WithCondition sets the retry condition from a Condition value.
func (p *Policy) WithCondition(c Condition) *Policy {
	p.RetryCondition = c.ShouldRetry
	return p
}
