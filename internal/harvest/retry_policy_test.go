package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type refusedErr struct{}

func (refusedErr) Error() string   { return "refused" }
func (refusedErr) Timeout() bool   { return false }
func (refusedErr) Temporary() bool { return false }

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(errors.New("boom"), 1))
	assert.True(t, p.ShouldRetry(errors.New("boom"), 2))
	assert.False(t, p.ShouldRetry(errors.New("boom"), 3))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(fmt.Errorf("fetch: %w", ErrBodyTooLarge), 1))
	assert.True(t, p.ShouldRetry(timeoutErr{}, 1))
	assert.True(t, p.ShouldRetry(refusedErr{}, 1))
	reset := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	assert.True(t, p.ShouldRetry(fmt.Errorf("colly visit failed: %w", reset), 1))
	assert.True(t, p.ShouldRetry(&net.DNSError{Err: "server misbehaving", Name: "or.justice.cz", IsTemporary: true}, 1))
	assert.False(t, p.ShouldRetry(&net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, 1))
	assert.True(t, p.ShouldRetry(fmt.Errorf("fetch: %w", &StatusError{URL: "u", StatusCode: 503}), 1))
	assert.True(t, p.ShouldRetry(&StatusError{URL: "u", StatusCode: 429}, 1))
	assert.False(t, p.ShouldRetry(&StatusError{URL: "u", StatusCode: 404}, 1))

	single := NewExponentialRetryPolicy(0, time.Millisecond, time.Millisecond)
	assert.False(t, single.ShouldRetry(errors.New("boom"), 1))
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Retry(context.Background(), NewExponentialRetryPolicy(3, 0, 0), func(_ context.Context, _ int) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestRetryGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), NewExponentialRetryPolicy(2, 0, 0), func(_ context.Context, attempt int) (int, error) {
		calls++
		assert.Equal(t, calls, attempt)
		return 0, errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
