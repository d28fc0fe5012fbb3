// Package proxy implements the single-upstream reverse proxy pipeline:
// identity, rate limiter, circuit breaker, forward, classify, record.
//
// Transport tuning (connection reuse, disabled Nagle, buffer pooling for
// the response body copy) favours long-lived keep-alive connections to one
// fixed upstream over the generality a multi-endpoint discovery layer
// would need. Request/response handling - header forwarding, status
// classification, error bodies - is otherwise unremarkable reverse-proxy
// plumbing.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arvela/resily/internal/core/domain"
	"github.com/arvela/resily/internal/core/ports"
	"github.com/arvela/resily/internal/logger"
	"github.com/arvela/resily/internal/router"
	"github.com/arvela/resily/internal/util"
	"github.com/arvela/resily/pkg/pool"
)

const (
	defaultSetNoDelay       = true
	defaultMaxIdleConns     = 50
	defaultMaxIdleConnsPerH = 10
	defaultIdleConnTimeout  = 90 * time.Second
	defaultTLSHandshakeTime = 10 * time.Second
	defaultStreamBufferSize = 32 * 1024
)

// Config holds the pipeline's tunables.
type Config struct {
	UpstreamURL       string
	ConnectionTimeout time.Duration
	ResponseTimeout   time.Duration
}

// Pipeline is the ports.ProxyPipeline implementation.
type Pipeline struct {
	upstream *url.URL
	config   Config

	limiter ports.RateLimiter
	breaker ports.CircuitBreaker

	transport  *http.Transport
	bufferPool *pool.Pool[*[]byte]
	log        *logger.StyledLogger
}

// New builds a Pipeline bound to a single upstream.
func New(cfg Config, limiter ports.RateLimiter, breaker ports.CircuitBreaker, log *logger.StyledLogger) (*Pipeline, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}

	bufferPool := pool.NewLitePool(func() *[]byte {
		buf := make([]byte, defaultStreamBufferSize)
		return &buf
	})

	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerH,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTime,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: cfg.ConnectionTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(defaultSetNoDelay)
			}
			return conn, nil
		},
	}

	return &Pipeline{
		upstream:   upstream,
		config:     cfg,
		limiter:    limiter,
		breaker:    breaker,
		transport:  transport,
		bufferPool: bufferPool,
		log:        log,
	}, nil
}

// ServeHTTP runs identity -> limiter -> breaker -> forward -> classify -> record -> relay.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := p.deriveIdentity(r)

	admitted, retryAfter, err := p.limiter.Allow(ctx, identity)
	if err != nil {
		// B's store errors are fatal: we cannot make a safe admission
		// decision, so the request is treated as not-admitted.
		p.log.Error("rate limiter unavailable", "error", err, "identity", identity.String())
		writeJSONError(w, http.StatusBadGateway, "Upstream request failed.")
		return
	}
	if !admitted {
		p.log.Info("rate limit block", "identity", identity.String(), "retry_after", retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSONError(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
		return
	}

	cbAdmitted, state, err := p.breaker.BeforeRequest(ctx)
	if err != nil {
		// C's store errors during before_request fail open: blocking all
		// traffic on store flakiness is worse than degraded circuit
		// protection, so the request proceeds as if the circuit admitted it.
		p.log.Error("circuit breaker unavailable, failing open", "error", err)
	} else if !cbAdmitted && state == domain.BreakerOpen {
		p.log.Info("circuit open block", "state", string(state))
		writeJSONError(w, http.StatusServiceUnavailable, "Service temporarily unavailable due to circuit open.")
		return
	}

	resp, err := p.forward(r, identity)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// client hung up; no breaker accounting for a cancelled call
			return
		}
		p.log.Error("upstream unreachable", "error", err)
		if recErr := p.breaker.RecordFailure(ctx); recErr != nil {
			p.log.Error("failed to record breaker failure", "error", recErr)
		}
		writeJSONError(w, http.StatusBadGateway, "Upstream request failed.")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		if err := p.breaker.RecordFailure(ctx); err != nil {
			p.log.Error("failed to record breaker failure", "error", err)
		}
	} else {
		if err := p.breaker.RecordSuccess(ctx); err != nil {
			p.log.Error("failed to record breaker success", "error", err)
		}
	}

	p.relay(w, resp)
}

// deriveIdentity implements spec.md §3's identity rule verbatim: the first
// comma-separated X-Forwarded-For token if present, else the peer socket
// address, else "unknown". This is the key the rate limiter buckets on,
// so it is independent of the trusted-proxy-CIDR hardening
// (util.GetClientIP) used for access-log attribution elsewhere - that
// hardening is about which IP to *trust* for audit purposes, not about
// whether this forwarding rule applies at all.
func (p *Pipeline) deriveIdentity(r *http.Request) domain.Identity {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.SplitN(xff, ",", 2)[0]
		return domain.Identity(strings.TrimSpace(first))
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return domain.Identity(host)
	}
	if r.RemoteAddr != "" {
		return domain.Identity(r.RemoteAddr)
	}
	return domain.Identity("unknown")
}

// forward builds the upstream request, forwards the client's headers and
// body, and appends the client identity to X-Forwarded-For.
func (p *Pipeline) forward(r *http.Request, identity domain.Identity) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), p.config.ResponseTimeout)
	defer cancel()

	path := util.StripRoutePrefix(r.Context(), r.URL.Path, router.ProxyPathPrefixKey)
	upstreamURL := *p.upstream
	upstreamURL.Path = util.NormaliseBaseURL(upstreamURL.Path) + path
	upstreamURL.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	req.Header.Del("Transfer-Encoding")
	req.Header.Del("Connection")

	if existing := req.Header.Get("X-Forwarded-For"); existing != "" {
		req.Header.Set("X-Forwarded-For", existing+", "+identity.String())
	} else {
		req.Header.Set("X-Forwarded-For", identity.String())
	}

	client := &http.Client{Transport: p.transport}
	return client.Do(req)
}

// relay copies the upstream response to the client using a pooled buffer.
func (p *Pipeline) relay(w http.ResponseWriter, resp *http.Response) {
	for k, values := range resp.Header {
		if k == "Transfer-Encoding" || k == "Connection" {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	buf := p.bufferPool.Get()
	defer p.bufferPool.Put(buf)

	_, _ = io.CopyBuffer(w, resp.Body, *buf)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error": "` + message + `"}`))
}
