package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/nais/armordash/pkg/model"
)

const (
	tracerName = "github.com/nais/armordash/pkg/source"
	// how much of an error response body ends up in the error message
	maxErrorBody = 512
)

// Client is the data source adapter for the policies endpoint.
type Client struct {
	cfg    Config
	url    string
	httpc  *http.Client
	logger logr.Logger
	tracer trace.Tracer
}

type Option func(*Client)

// WithHTTPClient replaces the default http client. No timeout is set on
// the default one; cancellation comes from the caller's context.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:    cfg,
		url:    cfg.PoliciesURL(),
		httpc:  http.DefaultClient,
		logger: logr.Discard(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithName("policy-source")
	return c, nil
}

// URL is the endpoint the client fetches from.
func (c *Client) URL() string {
	return c.url
}

// FetchPolicies issues a single GET against the policies endpoint and
// decodes the JSON array it returns, preserving the backend's order.
func (c *Client) FetchPolicies(ctx context.Context) ([]model.PolicyRecord, error) {
	ctx, span := c.tracer.Start(ctx, "source.FetchPolicies",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", c.url)))
	defer span.End()

	policies, status, err := c.fetch(ctx)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		c.logger.V(1).Info("Fetching policies failed", "url", c.url, "kind", KindOf(err).String(), "error", err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("policies.count", len(policies)))
	c.logger.V(1).Info("Fetched policies", "url", c.url, "count", len(policies))
	return policies, nil
}

func (c *Client) fetch(ctx context.Context) ([]model.PolicyRecord, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("forming policies query: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	response, err := c.httpc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, newNetworkError(c.url, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return nil, response.StatusCode, newStatusError(c.url, response.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, response.StatusCode, ctxErr
		}
		return nil, response.StatusCode, newNetworkError(c.url, err)
	}

	policies, err := decodePolicies(body)
	if err == nil && c.cfg.RequireFingerprint {
		err = checkFingerprints(policies)
	}
	if err != nil {
		return nil, response.StatusCode, newDecodeError(c.url, err)
	}
	return policies, response.StatusCode, nil
}

func decodePolicies(body []byte) ([]model.PolicyRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] != '[' {
		return nil, errors.New("body is not a JSON array")
	}
	policies := []model.PolicyRecord{}
	if err := json.Unmarshal(trimmed, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func checkFingerprints(policies []model.PolicyRecord) error {
	seen := make(map[string]int, len(policies))
	for i, p := range policies {
		if p.Fingerprint == "" {
			return fmt.Errorf("%w: index %d (%s)", ErrMissingFingerprint, i, p.Name)
		}
		if j, ok := seen[p.Fingerprint]; ok {
			return fmt.Errorf("%w: %s at index %d and %d", ErrDuplicateFingerprint, p.Fingerprint, j, i)
		}
		seen[p.Fingerprint] = i
	}
	return nil
}

// Probe issues one GET against url and returns the response status code.
// It is a startup diagnostic; the body is discarded.
func (c *Client) Probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("forming probe request: %w", err)
	}
	response, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", url, err)
	}
	defer response.Body.Close()
	//nolint:errcheck
	io.Copy(io.Discard, response.Body)
	return response.StatusCode, nil
}
