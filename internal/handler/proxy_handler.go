package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/madscience/crmkit/internal/proxy"
	"github.com/madscience/crmkit/internal/response"
	"github.com/rs/zerolog"
)

// Forwarder is the relay the proxy handler talks to.
type Forwarder interface {
	Forward(ctx context.Context, req proxy.Request) (*http.Response, error)
}

// upstream headers copied back to the browser besides Content-Type.
var passthroughHeaders = []string{"Request-Id", "Retry-After"}

// ProxyHandler relays Claude API calls for browser clients.
type ProxyHandler struct {
	relay   Forwarder
	maxBody int64
	log     zerolog.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(relay Forwarder, maxBody int64, log zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{
		relay:   relay,
		maxBody: maxBody,
		log:     log.With().Str("component", "proxy_handler").Logger(),
	}
}

// Messages godoc
// POST /api/anthropic
// POST /v1/messages
// Forwards the body to the Messages API and streams the reply back verbatim.
func (h *ProxyHandler) Messages(c *gin.Context) {
	apiKey := strings.TrimSpace(c.GetHeader("x-api-key"))
	if apiKey == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrAPIKeyRequired)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrPayloadTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	resp, err := h.relay.Forward(c.Request.Context(), proxy.Request{
		APIKey:  apiKey,
		Version: c.GetHeader("anthropic-version"),
		Beta:    c.GetHeader("anthropic-beta"),
		Body:    body,
	})
	if err != nil {
		response.FailWithDetail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable, err.Error())
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Header("Content-Type", contentType)
	for _, name := range passthroughHeaders {
		if v := resp.Header.Get(name); v != "" {
			c.Header(name, v)
		}
	}
	for name, values := range resp.Header {
		if strings.HasPrefix(strings.ToLower(name), "anthropic-ratelimit-") && len(values) > 0 {
			c.Header(name, values[0])
		}
	}
	c.Status(resp.StatusCode)

	if strings.HasPrefix(contentType, "text/event-stream") {
		h.stream(c, resp.Body)
		return
	}
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		h.log.Warn().Err(err).Msg("Copying upstream body failed")
	}
}

// stream copies an SSE body, flushing after every read so events reach the
// browser as they arrive.
func (h *ProxyHandler) stream(c *gin.Context, body io.Reader) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				h.log.Debug().Err(werr).Msg("Client went away mid-stream")
				return
			}
			c.Writer.Flush()
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			h.log.Warn().Err(err).Msg("Upstream stream ended with error")
			return
		}
	}
}

// Health godoc
// GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
