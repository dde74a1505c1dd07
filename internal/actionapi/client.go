package actionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/ramiqadoumi/engageflow/internal/domain"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

type actionRequest struct {
	ActionType string `json:"action_type"`
	TargetID   string `json:"target_id"`
	TargetURL  string `json:"target_url,omitempty"`
	Text       string `json:"text,omitempty"`
}

type actionResponse struct {
	ActionID string `json:"action_id"`
}

// Client submits actions over HTTP, paced by a token bucket.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRate paces submissions to rps per second with the given burst. rps <= 0 disables pacing.
func WithRate(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient returns a Client for the action API at baseURL.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, s Submission) (Receipt, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "actionapi.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("action.type", string(s.ActionType)),
		attribute.String("action.target_id", s.TargetExternalID),
	)

	r, err := c.submit(ctx, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return Receipt{}, err
	}
	span.SetAttributes(attribute.String("action.id", r.ActionID))
	return r, nil
}

func (c *Client) submit(ctx context.Context, s Submission) (Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Receipt{}, &domain.ActionSubmissionError{Retryable: true, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	body, err := json.Marshal(actionRequest{
		ActionType: string(s.ActionType),
		TargetID:   s.TargetExternalID,
		TargetURL:  s.TargetURL,
		Text:       s.Text,
	})
	if err != nil {
		return Receipt{}, &domain.ActionSubmissionError{Err: fmt.Errorf("encode action: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/actions", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, &domain.ActionSubmissionError{Err: fmt.Errorf("build action request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if s.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", s.IdempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Receipt{}, &domain.ActionSubmissionError{Retryable: retryableTransport(err), Err: fmt.Errorf("call action api: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, &domain.ActionSubmissionError{
			StatusCode: resp.StatusCode,
			Retryable:  RetryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("action api: %s", strings.TrimSpace(string(msg))),
		}
	}

	var out actionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return Receipt{}, &domain.ActionSubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode action response: %w", err)}
	}
	if out.ActionID == "" {
		return Receipt{}, &domain.ActionSubmissionError{StatusCode: resp.StatusCode, Err: errors.New("action api returned no action_id")}
	}
	return Receipt{ActionID: out.ActionID}, nil
}

// RetryableStatus reports whether an HTTP status is worth retrying: request
// timeout, throttling and server errors.
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryableTransport(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
