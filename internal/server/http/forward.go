package httpserver

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"relayd/internal/config"
)

// forwardResult is one successful upstream attempt, body fully buffered.
type forwardResult struct {
	status int
	header http.Header
	body   []byte
}

// forwarder issues outbound calls with a per-attempt timeout, capped
// redirects and a fixed retry schedule with jitter.
type forwarder struct {
	client      *http.Client
	timeout     time.Duration
	attempts    int
	backoffBase time.Duration
	jitter      time.Duration
	retryPolicy string
	userAgent   string
}

func newForwarder(cfg config.Upstream) *forwarder {
	maxRedirects := cfg.MaxRedirects
	if maxRedirects < 0 {
		maxRedirects = 0
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "relayd/1.0"
	}

	return &forwarder{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// past the cap the last redirect response is returned as-is
				if len(via) > maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		timeout:     cfg.TimeoutDuration(),
		attempts:    attempts,
		backoffBase: cfg.BackoffBaseDuration(),
		jitter:      cfg.JitterDuration(),
		retryPolicy: cfg.RetryPolicy,
		userAgent:   userAgent,
	}
}

// forward runs the retry loop: up to f.attempts total attempts, sleeping
// backoffBase*(n-1) plus uniform jitter before attempt n. The first
// success returns immediately; exhaustion returns the last attempt error.
func (f *forwarder) forward(method, target, accept string) (*forwardResult, error) {
	var lastErr *upstreamError
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(f.backoffDelay(attempt))
		}

		res, ferr := f.attempt(method, target, accept)
		if ferr == nil {
			return res, nil
		}
		lastErr = ferr
		log.Printf("[relayd] upstream attempt %d/%d %s %s failed: %v", attempt, f.attempts, method, target, ferr)

		if !f.retryable(ferr.kind) {
			break
		}
	}
	return nil, lastErr
}

func (f *forwarder) backoffDelay(attempt int) time.Duration {
	d := f.backoffBase * time.Duration(attempt-1)
	if f.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(f.jitter)))
	}
	return d
}

// retryable applies the configured policy: "all" retries every failure
// (observed legacy behavior), "network" retries only timeout/network-class
// failures and aborts on protocol-class ones.
func (f *forwarder) retryable(kind upstreamErrKind) bool {
	if f.retryPolicy == "network" {
		return kind != errKindProtocol
	}
	return true
}

// attempt makes one outbound call. The timeout context derives from
// context.Background: a client disconnect does not cancel in-flight
// upstream work or pending retries.
func (f *forwarder) attempt(method, target, accept string) (*forwardResult, *upstreamError) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, &upstreamError{kind: errKindProtocol, url: target, err: fmt.Errorf("build request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	if accept == "" {
		accept = "*/*"
	}
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		kind := errKindNetwork
		if isTimeoutErr(err) {
			kind = errKindTimeout
		}
		return nil, &upstreamError{kind: kind, url: target, err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &upstreamError{kind: errKindProtocol, url: target, err: fmt.Errorf("read body: %w", err)}
	}

	return &forwardResult{status: resp.StatusCode, header: resp.Header, body: body}, nil
}
