// Package gibs fetches true-color snapshots from a NASA GIBS WMS endpoint
// using a Colly collector.
package gibs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/imagery"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 20 * 1024 * 1024
)

// Config controls the request the fetcher issues.
type Config struct {
	WMS          imagery.WMSParams
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements imagery.Fetcher. It performs exactly one GET per call;
// retrying is left to the refresh interval.
type Fetcher struct {
	cfg           Config
	clock         imagery.Clock
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture receives whatever the collector callbacks observed.
type capture struct {
	status int
	body   []byte
	// contentLength is the declared length of an unencoded body, -1 when unknown.
	contentLength int
	err           error
}

// New builds a Fetcher.
func New(cfg Config, clock imagery.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		// One extra byte so an oversized body is detectable after colly truncates it.
		colly.MaxBodySize(cfg.MaxBodyBytes + 1),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		clock:         clock,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch requests the image for the current UTC day.
func (f *Fetcher) Fetch(ctx context.Context) imagery.Outcome {
	start := time.Now()
	target, err := f.cfg.WMS.BuildURL(f.clock.Now())
	if err != nil {
		return imagery.Failure("", "build request: "+err.Error(), err, 0)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	f.logger.Debug("requesting imagery", zap.String("url", target))
	result := &capture{contentLength: -1}
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, result)
	completed, runErr := f.runCollector(reqCtx, collector, target)
	if !completed {
		// The visit goroutine may still write to result; ignore it.
		return imagery.TransportFailure(target, runErr, time.Since(start))
	}
	return f.toOutcome(target, result, runErr, time.Since(start))
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *capture) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
		result.contentLength = declaredLength(r.Headers)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// runCollector reports completed=false when ctx ended before the visit returned.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("colly visit failed: %w", err)
		}
		return true, nil
	}
}

func (f *Fetcher) toOutcome(target string, result *capture, runErr error, elapsed time.Duration) imagery.Outcome {
	if runErr != nil {
		// A status is only known if the provider answered before the error.
		if result.status != 0 && result.status != http.StatusOK {
			return imagery.StatusFailure(target, result.status, elapsed)
		}
		if isTimeout(runErr) {
			runErr = fmt.Errorf("timeout after %s: %w", f.cfg.Timeout, runErr)
		}
		return imagery.TransportFailure(target, runErr, elapsed)
	}
	if result.status != http.StatusOK {
		return imagery.StatusFailure(target, result.status, elapsed)
	}
	if len(result.body) == 0 {
		out := imagery.Failure(target, "empty body", nil, elapsed)
		out.StatusCode = http.StatusOK
		return out
	}
	if len(result.body) > f.cfg.MaxBodyBytes {
		out := imagery.Failure(target, fmt.Sprintf("body exceeds max_body_bytes (%d)", f.cfg.MaxBodyBytes), nil, elapsed)
		out.StatusCode = http.StatusOK
		return out
	}
	if result.contentLength >= 0 && result.contentLength != len(result.body) {
		reason := fmt.Sprintf("short body: got %d of %d bytes", len(result.body), result.contentLength)
		out := imagery.Failure(target, reason, nil, elapsed)
		out.StatusCode = http.StatusOK
		return out
	}
	return imagery.Success(target, result.body, elapsed)
}

// declaredLength returns Content-Length when it describes the body colly hands
// back. Encoded bodies are decoded before the callback, so their length is unknown.
func declaredLength(h *http.Header) int {
	if h == nil || h.Get("Content-Encoding") != "" {
		return -1
	}
	n, err := strconv.Atoi(h.Get("Content-Length"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
