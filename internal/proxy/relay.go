// Package proxy relays browser requests to the Claude Messages API, adding
// the headers browsers cannot send cross-origin.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/madscience/crmkit/internal/config"
	"github.com/rs/zerolog"
)

// MessagesPath is the upstream endpoint every relayed request goes to.
const MessagesPath = "/v1/messages"

// ErrUpstreamUnavailable wraps transport failures talking to the API.
var ErrUpstreamUnavailable = errors.New("proxy: upstream unavailable")

// Request is one relayed call. Body is forwarded unchanged.
type Request struct {
	APIKey  string
	Version string // empty uses the configured default
	Beta    string
	Body    []byte
}

// Relay forwards requests to the upstream API.
type Relay struct {
	client  *http.Client
	url     string
	version string
	log     zerolog.Logger
}

// NewRelay creates a Relay from configuration. The timeout bounds the wait
// for response headers only, so long streamed replies are not cut off.
func NewRelay(cfg *config.Config, log zerolog.Logger) *Relay {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ProxyTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Relay{
		client:  &http.Client{Transport: transport},
		url:     cfg.AnthropicBaseURL + MessagesPath,
		version: cfg.AnthropicVersion,
		log:     log.With().Str("component", "proxy").Logger(),
	}
}

// Forward sends req upstream. The caller must close the response body. Any
// HTTP status, including errors, is returned as a response; only transport
// failures produce an error.
func (r *Relay) Forward(ctx context.Context, req Request) (*http.Response, error) {
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	version := req.Version
	if version == "" {
		version = r.version
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set("x-api-key", req.APIKey)
	upReq.Header.Set("anthropic-version", version)
	if req.Beta != "" {
		upReq.Header.Set("anthropic-beta", req.Beta)
	}

	start := time.Now()
	resp, err := r.client.Do(upReq)
	if err != nil {
		r.log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Upstream request failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	r.log.Info().
		Int("status", resp.StatusCode).
		Int("bytes_in", len(req.Body)).
		Str("version", version).
		Dur("elapsed", time.Since(start)).
		Msg("Relayed request")
	return resp, nil
}
