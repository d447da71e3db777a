package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const robotsBodyLimit = 1 << 20

// HTTPFetcher retrieves robots.txt over plain HTTP with a bounded timeout.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPFetcher constructs an HTTPFetcher. The timeout bounds the whole
// request including body read; the default is 10s.
func NewHTTPFetcher(timeout time.Duration, userAgent string, logger *zap.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch implements crawl.RobotsFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close robots response body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsBodyLimit))
	if err != nil {
		return 0, nil, fmt.Errorf("read robots body: %w", err)
	}
	return resp.StatusCode, body, nil
}
