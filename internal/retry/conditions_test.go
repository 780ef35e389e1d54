package retry

import (
	"errors"
	"io"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatusCodeCondition(t *testing.T) {
	cond := RetryOnStatusCodes(429, 503)

	assert.True(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 429}))
	assert.True(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 503}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 200}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 500}))
	assert.False(t, cond.ShouldRetry(nil, 1, nil))
}

func TestRetry5xxCondition(t *testing.T) {
	cond := RetryOn5xx()

	assert.True(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 500}))
	assert.True(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 599}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 404}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 200}))
}

func TestNetworkErrorCondition(t *testing.T) {
	cond := RetryOnNetworkErrors()

	assert.True(t, cond.ShouldRetry(syscall.ECONNRESET, 1, nil))
	assert.True(t, cond.ShouldRetry(syscall.ECONNREFUSED, 1, nil))
	assert.True(t, cond.ShouldRetry(io.EOF, 1, nil))
	assert.True(t, cond.ShouldRetry(io.ErrUnexpectedEOF, 1, nil))
	assert.False(t, cond.ShouldRetry(errors.New("application error"), 1, nil))
	assert.False(t, cond.ShouldRetry(nil, 1, nil))
}

func TestErrorTypeCondition(t *testing.T) {
	target := errors.New("transient")
	cond := RetryOnErrors(target)

	assert.True(t, cond.ShouldRetry(target, 1, nil))
	assert.True(t, cond.ShouldRetry(errors.Join(errors.New("outer"), target), 1, nil))
	assert.False(t, cond.ShouldRetry(errors.New("other"), 1, nil))
}

func TestGRPCStatusCondition(t *testing.T) {
	cond := RetryableGRPCCodes()

	assert.True(t, cond.ShouldRetry(status.Error(codes.Unavailable, "down"), 1, nil))
	assert.True(t, cond.ShouldRetry(status.Error(codes.ResourceExhausted, "throttled"), 1, nil))
	assert.False(t, cond.ShouldRetry(status.Error(codes.InvalidArgument, "bad"), 1, nil))
	assert.False(t, cond.ShouldRetry(errors.New("not a grpc error"), 1, nil))
}

func TestTimeoutCondition(t *testing.T) {
	cond := RetryOnTimeout()

	assert.True(t, cond.ShouldRetry(ErrAttemptTimeout, 1, nil))
	assert.True(t, cond.ShouldRetry(status.Error(codes.DeadlineExceeded, "too slow"), 1, nil))
	assert.False(t, cond.ShouldRetry(errors.New("boom"), 1, nil))
}

func TestCompositeConditions(t *testing.T) {
	any5xxOrNet := RetryOnAny(RetryOn5xx(), RetryOnNetworkErrors())
	assert.True(t, any5xxOrNet.ShouldRetry(nil, 1, &http.Response{StatusCode: 502}))
	assert.True(t, any5xxOrNet.ShouldRetry(io.EOF, 1, nil))
	assert.False(t, any5xxOrNet.ShouldRetry(nil, 1, &http.Response{StatusCode: 200}))

	all := RetryOnAll(RetryOn5xx(), AlwaysRetry())
	assert.True(t, all.ShouldRetry(nil, 1, &http.Response{StatusCode: 500}))
	assert.False(t, all.ShouldRetry(nil, 1, &http.Response{StatusCode: 200}))

	assert.False(t, RetryOnAll().ShouldRetry(io.EOF, 1, nil))
}

func TestIdempotentMethodCondition(t *testing.T) {
	cond := RetryIfIdempotent("GET", AlwaysRetry())
	assert.True(t, cond.ShouldRetry(io.EOF, 1, nil))

	post := RetryIfIdempotent("POST", AlwaysRetry())
	assert.False(t, post.ShouldRetry(io.EOF, 1, nil))
}

func TestDefaultCondition(t *testing.T) {
	cond := DefaultCondition()

	assert.True(t, cond.ShouldRetry(syscall.ECONNREFUSED, 1, nil))
	assert.True(t, cond.ShouldRetry(ErrAttemptTimeout, 1, nil))
	assert.True(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 503}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 400}))
	assert.False(t, cond.ShouldRetry(nil, 1, &http.Response{StatusCode: 200}))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 503, statusOf(&http.Response{StatusCode: 503}))
	assert.Equal(t, 200, statusOf(200))
	assert.Equal(t, 0, statusOf(nil))
	assert.Equal(t, 0, statusOf("not a response"))
}
