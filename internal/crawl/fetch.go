package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"

	"medialib/internal/logging"
)

// ErrFetchFailed indicates a blob that could not be fetched within the retry
// budget.
var ErrFetchFailed = errors.New("fetch failed")

// maxBlobBytes bounds a single response body after decoding.
const maxBlobBytes = 128 << 20

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

func (e statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func isNotFound(err error) bool {
	var status statusError
	return errors.As(err, &status) && status.code == http.StatusNotFound
}

// AssetURL returns the origin location of a key.
func AssetURL(origin, key string) string {
	return strings.TrimRight(origin, "/") + "/" + key + "/get/"
}

// get fetches url with bounded retries. Network errors, 429 and 5xx responses
// are retried with doubling backoff; other statuses fail immediately. An open
// breaker ends the attempt loop without contacting the origin.
func (c *Crawler) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.Backoff << (attempt - 1)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		data, err := c.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		var status statusError
		if errors.As(err, &status) && !status.retryable() {
			break
		}
		c.logger.Debug("fetch attempt failed",
			logging.String("url", url),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, lastErr)
}

func (c *Crawler) attempt(ctx context.Context, url string) ([]byte, error) {
	if c.breaker == nil {
		return c.getOnce(ctx, url)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.getOnce(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// newBreaker trips after threshold consecutive origin failures. Statuses the
// origin answered deliberately, such as 404, do not count against it.
func (c *Crawler) newBreaker(threshold int, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.opts.Origin,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var status statusError
			return errors.As(err, &status) && !status.retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.breaker(to == gobreaker.StateOpen)
			logging.WarnWithContext(c.logger, "origin breaker state changed", "crawl_breaker",
				logging.String("origin", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
				logging.String(logging.FieldImpact, "fetches fail fast while the breaker is open"),
			)
		},
	})
}

func (c *Crawler) getOnce(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError{code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBlobBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxBlobBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBlobBytes)
	}
	return data, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
