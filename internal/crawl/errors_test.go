package crawl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryable_Classification(t *testing.T) {
	t.Parallel()

	require.False(t, Retryable(nil))
	require.False(t, Retryable(&PolitenessError{Domain: "example.com"}))
	require.False(t, Retryable(&ValidationError{Field: "url", Reason: "url is required"}))
	require.False(t, Retryable(ErrJobNotFound))
	require.False(t, Retryable(fmt.Errorf("lookup: %w", ErrJobNotFound)))

	require.True(t, Retryable(&NavigationError{URL: "https://example.com", Err: errors.New("timeout")}))
	require.True(t, Retryable(&InfrastructureError{Op: "update job", Err: errors.New("connection reset")}))
	require.True(t, Retryable(errors.New("something unexpected")))
}

func TestErrorUnwrapping(t *testing.T) {
	t.Parallel()

	inner := errors.New("net: connection refused")
	navErr := &NavigationError{URL: "https://example.com", Err: inner}
	require.ErrorIs(t, navErr, inner)
	require.Contains(t, navErr.Error(), "https://example.com")

	infraErr := &InfrastructureError{Op: "enqueue job", Err: inner}
	require.ErrorIs(t, infraErr, inner)
	require.Contains(t, infraErr.Error(), "enqueue job")
}

func TestPolitenessError_Message(t *testing.T) {
	t.Parallel()

	err := &PolitenessError{Domain: "example.com"}
	require.Equal(t, "crawling disallowed by robots.txt for domain example.com", err.Error())
}
