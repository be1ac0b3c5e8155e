// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes rejects larger bodies with harvest.ErrBodyTooLarge; 0 disables the limit.
	MaxBodyBytes int
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// Resumed phases fetch the same URLs again, and clones share the visited store.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.MaxBodyBytes > 0 {
		// One extra byte tells an exact fit from a cut body.
		c.MaxBodySize = cfg.MaxBodyBytes + 1
	} else {
		c.MaxBodySize = 0
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
	}
}

// Fetch executes a single HTTP GET using Colly. Responses outside 2xx are
// returned as *harvest.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return harvest.FetchResponse{}, fmt.Errorf("wait for %s: %w", request.URL, err)
		}
	}

	var (
		result   harvest.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, string(request.Stage), fetchStatus(err), 0)
		return harvest.FetchResponse{}, err
	}
	metrics.ObserveFetch(request.URL, string(request.Stage), strconv.Itoa(result.StatusCode), len(result.Body))
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *harvest.FetchResponse,
	fetchErr *error,
) {
	var start time.Time
	hooks.OnRequest(func(_ *colly.Request) {
		start = time.Now()
	})

	hooks.OnResponse(func(r *colly.Response) {
		if f.cfg.MaxBodyBytes > 0 && (len(r.Body) > f.cfg.MaxBodyBytes || declaredLength(r.Headers) > int64(f.cfg.MaxBodyBytes)) {
			*fetchErr = fmt.Errorf("%s exceeds %d bytes: %w", r.Request.URL, f.cfg.MaxBodyBytes, harvest.ErrBodyTooLarge)
			return
		}
		var headers harvest.Headers
		if r.Headers != nil {
			headers = harvest.HeadersFromHTTP(*r.Headers)
		}
		*result = harvest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusMultipleChoices {
			url := ""
			if r.Request != nil && r.Request.URL != nil {
				url = r.Request.URL.String()
			}
			*fetchErr = &harvest.StatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func declaredLength(headers *http.Header) int64 {
	if headers == nil {
		return -1
	}
	n, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func fetchStatus(err error) string {
	var statusErr *harvest.StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	return "error"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
