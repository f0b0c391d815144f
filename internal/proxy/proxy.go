// Package proxy implements the Proxy Engine (C5): a streaming reverse
// proxy that selects an upstream key per request via the rotation engine,
// classifies the upstream response to decide retry/report outcomes, and
// streams the body straight through to the client.
//
// This intentionally does not build on net/http/httputil.ReverseProxy:
// the retry-and-classify loop needs to inspect the upstream status code
// before ever committing to streaming a response back to the client, and
// ReverseProxy's Director/ModifyResponse hooks run too late (after the
// response has already been written) to support choosing a different
// upstream key mid-flight.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openrouter-proxy/gateway/internal/apierr"
	"github.com/openrouter-proxy/gateway/internal/ctxkeys"
	"github.com/openrouter-proxy/gateway/internal/httpapi"
	"github.com/openrouter-proxy/gateway/internal/metrics"
	"github.com/openrouter-proxy/gateway/internal/rotation"
	"github.com/openrouter-proxy/gateway/internal/vault"

	"go.uber.org/zap"
)

// Config tunes the outbound HTTP client and retry behavior.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// defaultRateLimitReset is the fallback rate-limit cooldown applied when
// an upstream 429 carries no usable Retry-After header, matching the
// original rotation service's fixed one-hour cooldown.
const defaultRateLimitReset = time.Hour

// DefaultConfig matches the conventional tuning (3 attempts, 2^attempt
// second backoff up to 10s).
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://openrouter.ai/api/v1",
		RequestTimeout: 2 * time.Minute,
		MaxAttempts:    3,
		BaseBackoff:    1 * time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// hopByHopHeaders are stripped from both the outbound request and the
// inbound response.
var hopByHopHeaders = []string{
	"Host", "Connection", "Upgrade", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Accept-Encoding", "Content-Length",
}

// ClientAPIKeyHeader is the header the auth gate consumes; it must never
// be forwarded upstream.
const ClientAPIKeyHeader = "X-Client-API-Key"

// Engine is the Proxy Engine (C5).
type Engine struct {
	config   Config
	rotation *rotation.Engine
	vault    *vault.Vault
	metrics  *metrics.Collector
	logger   *zap.Logger
	client   *http.Client
}

// New creates a Proxy Engine.
func New(cfg Config, rot *rotation.Engine, v *vault.Vault, m *metrics.Collector, logger *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	return &Engine{
		config:   cfg,
		rotation: rot,
		vault:    v,
		metrics:  m,
		logger: logger.With(zap.String("component", "proxy")),
		client: &http.Client{
			// No blanket client.Timeout: it would cut off long-running
			// streamed completions mid-body. ResponseHeaderTimeout bounds
			// only the wait for the upstream to start responding.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
			},
		},
	}
}

// Proxy forwards r to the upstream, streaming the response into w.
func (e *Engine) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, _ := ctxkeys.RequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		e.writeError(w, apierr.New(apierr.KindUpstreamTransport, "failed to read request body").WithHTTPStatus(http.StatusBadRequest))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		fingerprint, _, ok := e.rotation.SelectUpstream(ctx)
		if !ok {
			e.metrics.RecordProxyRequest("no_upstream_available", false)
			e.writeError(w, apierr.ErrNoUpstreamAvailable)
			return
		}

		outcome, retryAfter, streamErr := e.attempt(ctx, w, r, body, fingerprint, requestID)
		switch outcome {
		case outcomeSuccess:
			e.metrics.RecordProxyRequest("success", true)
			return
		case outcomeClientPassthrough:
			e.metrics.RecordProxyRequest("client_error", false)
			return
		case outcomeCancelled:
			return
		case outcomeRetry:
			lastErr = streamErr
			if attempt == e.config.MaxAttempts {
				break
			}
			e.metrics.RecordRetry(retryReason(streamErr))
			if !e.sleepBackoff(ctx, attempt, retryAfter) {
				return
			}
			continue
		}
	}

	e.logger.Warn("proxy attempts exhausted", zap.String("request_id", requestID), zap.Error(lastErr))
	e.metrics.RecordProxyRequest("exhausted", false)
	e.writeError(w, apierr.New(apierr.KindUpstreamTransport, "upstream request failed after retries").WithHTTPStatus(http.StatusBadGateway).WithCause(lastErr))
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeClientPassthrough
	outcomeCancelled
)

func retryReason(err error) string {
	if apierr.KindOf(err) == apierr.KindUpstreamRateLimited {
		return "rate_limited"
	}
	return "server_error"
}

// attempt issues one upstream call for the given fingerprint and
// classifies its outcome.
func (e *Engine) attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, body []byte, fingerprint, requestID string) (outcome, time.Duration, error) {
	plaintext, err := e.vault.Resolve(ctx, fingerprint)
	if err != nil {
		e.logger.Error("vault resolve failed", zap.String("fingerprint_bucket", truncate(fingerprint)), zap.Error(err))
		e.rotation.ReportFailure(ctx, fingerprint, "vault unavailable", false, time.Time{})
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "vault_unavailable")
		return outcomeRetry, 0, apierr.New(apierr.KindVaultUnavailable, "resolve upstream secret").WithCause(err)
	}

	outReq, err := e.buildOutboundRequest(ctx, r, body, plaintext)
	if err != nil {
		return outcomeRetry, 0, apierr.New(apierr.KindUpstreamTransport, "build outbound request").WithCause(err)
	}

	resp, err := e.client.Do(outReq)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled, 0, nil
		}
		e.rotation.ReportFailure(ctx, fingerprint, err.Error(), false, time.Time{})
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "transport_error")
		return outcomeRetry, 0, apierr.New(apierr.KindUpstreamTransport, "upstream transport error").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resetIn := retryAfter
		if resetIn <= 0 {
			resetIn = defaultRateLimitReset
		}
		e.rotation.ReportFailure(ctx, fingerprint, "rate limited", true, time.Now().Add(resetIn))
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "rate_limited")
		return outcomeRetry, retryAfter, apierr.New(apierr.KindUpstreamRateLimited, "upstream rate limited")

	case resp.StatusCode >= 500:
		e.rotation.ReportFailure(ctx, fingerprint, fmt.Sprintf("upstream status %d", resp.StatusCode), false, time.Time{})
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "server_error")
		return outcomeRetry, 0, apierr.New(apierr.KindUpstreamServerError, "upstream server error")

	case resp.StatusCode >= 400:
		e.rotation.ReportSuccess(ctx, fingerprint)
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "client_error")
		e.streamResponse(w, resp, requestID)
		return outcomeClientPassthrough, 0, nil

	default:
		e.rotation.ReportSuccess(ctx, fingerprint)
		e.metrics.RecordUpstreamAttempt(truncate(fingerprint), "success")
		e.streamResponse(w, resp, requestID)
		return outcomeSuccess, 0, nil
	}
}

func (e *Engine) buildOutboundRequest(ctx context.Context, r *http.Request, body []byte, plaintext string) (*http.Request, error) {
	target, err := e.targetURL(r)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
	default:
		bodyReader = bytes.NewReader(body)
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	copyHeaders(outReq.Header, r.Header)
	outReq.Header.Set("Authorization", "Bearer "+plaintext)
	outReq.Header.Set("X-Forwarded-For", clientIP(r))
	outReq.Header.Set("User-Agent", "openrouter-gateway/1.0 "+r.Header.Get("User-Agent"))

	return outReq, nil
}

func (e *Engine) targetURL(r *http.Request) (string, error) {
	base := strings.TrimSuffix(e.config.BaseURL, "/")
	trailing := strings.TrimPrefix(r.URL.Path, "/")
	u, err := url.Parse(base + "/" + trailing)
	if err != nil {
		return "", err
	}
	u.RawQuery = r.URL.RawQuery
	return u.String(), nil
}

func (e *Engine) streamResponse(w http.ResponseWriter, resp *http.Response, requestID string) {
	dst := w.Header()
	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				e.logger.Debug("upstream stream ended with error", zap.String("request_id", requestID), zap.Error(err))
			}
			return
		}
	}
}

func (e *Engine) sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	delay := retryAfter
	if delay <= 0 {
		delay = time.Duration(1<<uint(attempt)) * time.Second
	}
	if delay > e.config.MaxBackoff {
		delay = e.config.MaxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (e *Engine) writeError(w http.ResponseWriter, err *apierr.Error) {
	if err.HTTPStatus == 0 {
		err = err.WithHTTPStatus(http.StatusBadGateway)
	}
	httpapi.WriteError(w, err, e.logger)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) || strings.EqualFold(k, ClientAPIKeyHeader) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if ip, _ := ctxkeys.ClientIP(r.Context()); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		return host[:i]
	}
	return host
}

func truncate(fp string) string {
	if len(fp) <= 8 {
		return fp
	}
	return fp[:8]
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
