package fetcher

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxHTTPBackoff = 30 * time.Second

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent     string
	Timeout       time.Duration
	Attempts      int           // total tries per download; default 3
	RatePerSecond float64       // per-host request rate; default 5
	BaseBackoff   time.Duration // first retry delay; default 1s
}

// HTTPFetcher downloads over HTTP(S). Requests to one host share a rate
// limiter, and throttling or server errors are retried with backoff.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	log    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher, filling unset options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "support-elt/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:   opts,
		log:    zap.L().With(zap.String("component", "fetcher.http")),
		hosts:  make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.hosts[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(f.opts.RatePerSecond), 1)
	f.hosts[host] = lim
	return lim
}

// retryableStatus reports whether a response status is worth another try.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout ||
		(code >= 500 && code != http.StatusNotImplemented)
}

// retryAfter reads a Retry-After header given in seconds. Zero means the
// server did not say.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxHTTPBackoff)
}

// Download returns the body of a 200 response. Transport errors and
// retryable statuses are tried again up to Attempts times; any other status
// fails at once.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	lim := f.limiter(req.URL.Host)

	var (
		lastErr error
		hint    time.Duration
	)
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, f.delay(attempt-1, hint)); err != nil {
				return nil, eris.Wrap(err, "http: download cancelled")
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "http: download cancelled")
			}
			lastErr, hint = err, 0
			f.log.Warn("http: request failed", zap.String("url", req.URL.Redacted()), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		_ = resp.Body.Close()
		if !retryableStatus(resp.StatusCode) {
			return nil, eris.Errorf("http: unexpected status %d from %s", resp.StatusCode, req.URL.Redacted())
		}
		lastErr, hint = eris.Errorf("http %d", resp.StatusCode), retryAfter(resp)
		f.log.Warn("http: retryable status", zap.String("url", req.URL.Redacted()), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
	}

	return nil, eris.Wrapf(lastErr, "http: all %d attempts failed", f.opts.Attempts)
}

// delay is the wait before retry n: the server's hint when it gave one,
// otherwise doubling backoff with up to 50% added jitter.
func (f *HTTPFetcher) delay(n int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := f.opts.BaseBackoff
	for i := 1; i < n && d < maxHTTPBackoff; i++ {
		d *= 2
	}
	d = min(d, maxHTTPBackoff)
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
