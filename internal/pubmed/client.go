// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pubmed is a client for the NCBI E-utilities: ESearch turns a query
// into pages of PubMed ids and EFetch turns a batch of ids into records.
// Every request waits on the injected limiter first. The client never
// retries; it classifies failures as transient or fatal and leaves the
// decision to the caller.
package pubmed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/pms/internal/httputil"
	"github.com/pdiddy/pms/internal/metrics"
	"github.com/pdiddy/pms/pkg/types"
)

// DefaultBaseURL is the public E-utilities root.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// MaxFetchIDs is the largest id batch sent in one EFetch call.
const MaxFetchIDs = 200

const (
	endpointSearch = "esearch"
	endpointFetch  = "efetch"
)

// Limiter gates outbound calls. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Acquire()
}

// Client talks to E-utilities.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	Tool      string
	Email     string
	APIKey    string
	UserAgent string
	Limiter   Limiter
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// New builds a client from resolved API settings. A nil logger is replaced
// with a no-op logger.
func New(cfg types.APIConfig, limiter Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	tool := cfg.Tool
	if tool == "" {
		tool = "pms"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if cfg.Email == "" {
		logger.Warn("no contact email configured; NCBI requires one (pms config set api.email you@example.org)")
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		BaseURL:   base,
		Tool:      tool,
		Email:     cfg.Email,
		APIKey:    cfg.APIKey,
		UserAgent: cfg.UserAgent,
		Limiter:   limiter,
		Logger:    logger,
	}
}

// commonParams adds the identification parameters NCBI asks for.
func (c *Client) commonParams(v url.Values) url.Values {
	v.Set("db", "pubmed")
	v.Set("tool", c.Tool)
	if c.Email != "" {
		v.Set("email", c.Email)
	}
	if c.APIKey != "" {
		v.Set("api_key", c.APIKey)
	}
	return v
}

// do waits on the limiter, sends req, and returns the full body of a 200
// response. Every other outcome is classified into a TransientError or a
// FatalError; context cancellation is returned as is.
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	if c.Limiter != nil {
		c.Limiter.Acquire()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	start := time.Now()
	body, err := c.roundTrip(ctx, endpoint, req)
	outcome := metrics.OutcomeOK
	switch {
	case IsFatal(err):
		outcome = metrics.OutcomeFatal
	case err != nil:
		outcome = metrics.OutcomeTransient
	}
	c.Metrics.ObserveRequest(endpoint, outcome, time.Since(start))
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !httputil.RetryableError(err) {
			return nil, &FatalError{Endpoint: endpoint, Err: err}
		}
		return nil, &TransientError{Endpoint: endpoint, Err: err}
	}
	defer httputil.DrainClose(resp)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if httputil.RetryableStatus(resp.StatusCode) {
			return nil, &TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: statusErr}
		}
		return nil, &FatalError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: statusErr}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}
