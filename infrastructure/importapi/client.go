// Package importapi is the HTTP client for the knowledge import service.
package importapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/ports"
	"github.com/Steake/GodelOS-sub005/domain/imports"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

const importPath = "/api/knowledge/import"

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4 << 10

// Client calls the import REST API through a circuit breaker
type Client struct {
	baseURL *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.ImportAPI = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records request metrics
func WithMetrics(m *observability.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer starts request spans from tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// NewClient creates a client for cfg.BaseURL
func NewClient(cfg config.Import, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, pkgerrors.NewConfigError("invalid import base URL", err)
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		tracer:  otel.Tracer("cogviz/importapi"),
		logger:  logger.Named("importapi"),
	}
	for _, opt := range opts {
		opt(c)
	}

	minRequests := cfg.BreakerMinRequests
	ratio := cfg.BreakerFailureRatio
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "import-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Only transport failures and server errors count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsConnection(err)
		},
	})
	return c, nil
}

type progressResponse struct {
	ImportID        string  `json:"importId"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	Error           string  `json:"error,omitempty"`
}

func (r progressResponse) toProgress() (imports.Progress, error) {
	status, err := imports.ParseStatus(r.Status)
	if err != nil {
		return imports.Progress{}, err
	}
	return imports.Progress{
		ImportID:        r.ImportID,
		Status:          status,
		ProgressPercent: r.ProgressPercent,
		Error:           r.Error,
	}, nil
}

// Submit starts an import. Each call carries a fresh idempotency key.
func (c *Client) Submit(ctx context.Context, source imports.Source) (imports.Progress, error) {
	body, err := json.Marshal(source)
	if err != nil {
		return imports.Progress{}, pkgerrors.Wrap(err, "encode import source")
	}
	var resp progressResponse
	header := http.Header{"Idempotency-Key": []string{uuid.New().String()}}
	if err := c.do(ctx, "submit", http.MethodPost, importPath, header, body, &resp); err != nil {
		return imports.Progress{}, err
	}
	if resp.Status == "" {
		resp.Status = string(imports.StatusQueued)
	}
	return resp.toProgress()
}

// Progress fetches the status of one import
func (c *Client) Progress(ctx context.Context, id string) (imports.Progress, error) {
	var resp progressResponse
	path := fmt.Sprintf("%s/%s/progress", importPath, url.PathEscape(id))
	if err := c.do(ctx, "progress", http.MethodGet, path, nil, nil, &resp); err != nil {
		return imports.Progress{}, err
	}
	if resp.ImportID == "" {
		resp.ImportID = id
	}
	return resp.toProgress()
}

// Cancel asks the server to stop an import
func (c *Client) Cancel(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s", importPath, url.PathEscape(id))
	return c.do(ctx, "cancel", http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, header http.Header, body []byte, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "importapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.RecordImportRequest(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, header, body, out)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return pkgerrors.NewConnectionError("import service unavailable", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, header http.Header, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return pkgerrors.Wrap(err, "build request")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.NewConnectionError("import request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.NewProtocolError("undecodable import response").WithCause(err)
	}
	return nil
}

func statusError(status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.NewNotFoundError("import job").WithDetail("body", body)
	case status >= 500 || status == http.StatusTooManyRequests:
		return pkgerrors.NewConnectionError(fmt.Sprintf("import service returned %d", status), nil).
			WithDetail("body", body)
	default:
		return pkgerrors.NewValidationError(fmt.Sprintf("import request rejected with %d", status)).
			WithDetail("body", body)
	}
}
