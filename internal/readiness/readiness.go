package readiness

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Gate blocks until a freshly spawned service is considered ready.
type Gate interface {
	Await(ctx context.Context) error
}

// FixedDelay waits a configured duration and then assumes the service is
// reachable. A zero or negative delay returns immediately without arming a
// timer.
type FixedDelay struct {
	delay  time.Duration
	logger *zap.Logger
}

var _ Gate = (*FixedDelay)(nil)

// NewFixedDelay creates a fixed-delay gate.
func NewFixedDelay(delay time.Duration, logger *zap.Logger) *FixedDelay {
	return &FixedDelay{delay: delay, logger: logger}
}

// Await sleeps for the full configured delay unless the context is
// cancelled first.
func (g *FixedDelay) Await(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}

	g.logger.Info("Waiting for service startup", zap.Duration("delay", g.delay))
	timer := time.NewTimer(g.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPProbe polls a health endpoint with backoff until it answers 200 OK or
// the maximum wait elapses. Exceeding the maximum wait is reported as an
// error so the caller can treat the service as failed to start.
type HTTPProbe struct {
	url     string
	maxWait time.Duration
	client  *resty.Client
	logger  *zap.Logger
}

var _ Gate = (*HTTPProbe)(nil)

// NewHTTPProbe creates a probing gate against the given health URL.
func NewHTTPProbe(url string, maxWait time.Duration, logger *zap.Logger) *HTTPProbe {
	return &HTTPProbe{
		url:     url,
		maxWait: maxWait,
		client:  resty.New().SetTimeout(2 * time.Second),
		logger:  logger,
	}
}

// Await polls the health endpoint until it responds 200 OK. The poll
// interval starts at 100ms and doubles up to one second.
func (g *HTTPProbe) Await(ctx context.Context) error {
	deadline := time.Now().Add(g.maxWait)
	interval := 100 * time.Millisecond

	g.logger.Info("Probing service health",
		zap.String("url", g.url),
		zap.Duration("max_wait", g.maxWait),
	)

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := g.client.R().SetContext(ctx).Get(g.url)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode() == http.StatusOK:
			g.logger.Info("Service is ready", zap.String("url", g.url), zap.Int("attempts", attempt))
			return nil
		default:
			lastErr = fmt.Errorf("health check returned status %s", resp.Status())
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("service not ready after %s: %w", g.maxWait, lastErr)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}

		if interval < time.Second {
			interval *= 2
		}
	}
}
