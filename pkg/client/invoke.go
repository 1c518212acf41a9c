package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nimburion/orchestra/pkg/observability/logger"
	"github.com/nimburion/orchestra/pkg/observability/metrics"
	"github.com/nimburion/orchestra/pkg/observability/tracing"
	"github.com/nimburion/orchestra/pkg/resilience"
)

// Request describes one API operation.
type Request struct {
	OperationID string
	Method      string
	// Path is relative to the REST address, e.g. "/jobs/activation".
	Path  string
	Query url.Values
	// Body is encoded as JSON when non-nil.
	Body any
	// Exempt calls bypass the backpressure gate. Job outcome reports use it
	// so finishing work is never throttled by the budget for new work.
	Exempt bool
	// Timeout overrides the per-attempt request timeout.
	Timeout time.Duration
}

// Response describes the final attempt of an Invoke call.
type Response struct {
	StatusCode int
	Header     http.Header
	RequestID  string
	Attempts   int
	// Err holds the non-2xx outcome when the client does not throw on error.
	Err *HTTPError
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// Invoke performs one API operation. When out is non-nil and the response
// has a body, the body is decoded into out. Non-2xx responses are returned
// as *HTTPError, or recorded in Response.Err when ThrowOnError is disabled.
func (c *Client) Invoke(ctx context.Context, req Request, out any) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var payload []byte
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.OperationID, err)
		}
		payload = raw
	}

	requestID := c.newRequestID()
	ctx = logger.ContextWithOperationID(ctx, req.OperationID)
	ctx = logger.ContextWithRequestID(ctx, requestID)
	log := c.log.WithContext(ctx)

	ctx, span := tracing.StartClientSpan(ctx, req.OperationID, req.Method, req.Path)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}
	if !req.Exempt {
		if err := c.backpressure.Acquire(ctx); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		defer c.backpressure.Release()
	}

	attempts := 0
	classify := func(err error) resilience.RetryDecision {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Backpressure {
			c.backpressure.RecordBackpressureSignal()
			metrics.RecordBackpressureSignal()
		}
		return c.classify(err)
	}
	retryOpts := []resilience.RetryOption{
		resilience.WithRetryLogger(log),
		resilience.WithOnRetry(func(_ int, _ time.Duration, decision resilience.RetryDecision) {
			metrics.RecordRetry(req.OperationID, decision.Reason)
		}),
	}
	if c.jitter != nil {
		retryOpts = append(retryOpts, resilience.WithJitterSource(c.jitter))
	}

	raw, err := resilience.ExecuteWithRetry(ctx, c.retry, classify, func(ctx context.Context) (*rawResponse, error) {
		attempts++
		return c.send(ctx, log, req, payload, requestID)
	}, retryOpts...)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			tracing.SetStatusCode(span, httpErr.Status)
		}
		tracing.RecordError(span, err)
		log.Warn("operation failed", "method", req.Method, "path", req.Path, "attempts", attempts, "error", err)

		if httpErr != nil && !c.throwOnError {
			return &Response{
				StatusCode: httpErr.Status,
				Header:     httpErr.Header,
				RequestID:  requestID,
				Attempts:   attempts,
				Err:        httpErr,
			}, nil
		}
		return nil, err
	}

	c.backpressure.RecordHealthySignal()
	tracing.SetStatusCode(span, raw.status)

	if out != nil && raw.status != http.StatusNoContent && len(bytes.TrimSpace(raw.body)) > 0 {
		if err := json.Unmarshal(raw.body, out); err != nil {
			err = fmt.Errorf("decode %s response: %w", req.OperationID, err)
			tracing.RecordError(span, err)
			return nil, err
		}
	}
	tracing.RecordSuccess(span)

	return &Response{
		StatusCode: raw.status,
		Header:     raw.header,
		RequestID:  requestID,
		Attempts:   attempts,
	}, nil
}

// InvokeJSON is Invoke with a typed result. With ThrowOnError disabled a
// non-2xx response yields the zero value and a nil error.
func InvokeJSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Invoke(ctx, req, &out)
	if err != nil {
		var zero T
		return zero, err
	}
	if resp.Err != nil {
		var zero T
		return zero, nil
	}
	return out, nil
}

// send performs a single attempt bounded by the request timeout.
func (c *Client) send(ctx context.Context, log logger.Logger, req Request, payload []byte, requestID string) (*rawResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.requestTimeout
	}

	return resilience.WithTimeout(ctx, timeout, func(ctx context.Context) (*rawResponse, error) {
		httpReq, err := c.newHTTPRequest(ctx, req, payload, requestID)
		if err != nil {
			return nil, err
		}

		log.Debug("sending request", "method", req.Method, "path", req.Path)
		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			metrics.RecordRequest(req.OperationID, req.Method, 0, time.Since(start))
			log.Warn("request failed", "method", req.Method, "path", req.Path, "error", err)
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		metrics.RecordRequest(req.OperationID, req.Method, httpResp.StatusCode, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", req.OperationID, err)
		}
		log.Debug("received response", "method", req.Method, "path", req.Path, "status", httpResp.StatusCode)

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			httpErr := newHTTPError(req.OperationID, req.Method, req.Path, httpResp.StatusCode, httpResp.Header, body)
			log.Warn("request returned error status",
				"method", req.Method,
				"path", req.Path,
				"status", httpResp.StatusCode,
				"reason", problemTitle(httpErr),
				"backpressure", httpErr.Backpressure,
			)
			return nil, httpErr
		}
		return &rawResponse{status: httpResp.StatusCode, header: httpResp.Header, body: body}, nil
	})
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, payload []byte, requestID string) (*http.Request, error) {
	target := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.OperationID, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	return httpReq, nil
}

func problemTitle(err *HTTPError) string {
	if err.Problem != nil && err.Problem.Title != "" {
		return err.Problem.Title
	}
	return http.StatusText(err.Status)
}
