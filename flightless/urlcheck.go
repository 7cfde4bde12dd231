package flightless

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
)

// URLChecker reports whether a tag's image link still resolves. An
// error means the answer is unknown, and the image is kept.
type URLChecker interface {
	Alive(ctx context.Context, url string) (bool, error)
}

// httpURLChecker sends a HEAD request. Only a 200 response counts as
// alive.
type httpURLChecker struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func newHTTPURLChecker(cfg *URLCheckConfig, client *http.Client) *httpURLChecker {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := DefaultURLCheckTimeout
	var level slog.Leveler = DefaultURLCheckLogLevel
	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		if cfg.LogLevel != nil {
			level = cfg.LogLevel
		}
	}
	return &httpURLChecker{
		client:  client,
		timeout: timeout,
		logger:  newComponentLogger("url_check", level),
	}
}

func (c *httpURLChecker) Alive(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("error building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "image check failed", "url", url, tint.Err(err))
		return false, err
	}
	_ = resp.Body.Close()

	c.logger.DebugContext(ctx, "image checked", "url", url, "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK, nil
}
