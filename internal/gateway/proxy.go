// ABOUTME: Reverse proxy forwarding authorized requests to the upstream API
// ABOUTME: Replaces any client-supplied X-Auth-* headers with the resolved identity

package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/config"
)

// Identity headers set on forwarded requests
const (
	HeaderPrincipalID = "X-Auth-Principal-Id"
	HeaderEmail       = "X-Auth-Email"
	HeaderRole        = "X-Auth-Role"
)

var identityHeaders = []string{HeaderPrincipalID, HeaderEmail, HeaderRole}

// newUpstreamProxy returns the handler for every route the gateway does not
// serve itself. Without an upstream it answers 404.
func newUpstreamProxy(cfg config.UpstreamConfig, logger *slog.Logger) (http.Handler, error) {
	if cfg.URL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusNotFound, "no handler for "+r.Method+" "+r.URL.Path)
		}), nil
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	logger = logger.With("component", "proxy", "upstream", target.Host)

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			for _, h := range identityHeaders {
				pr.Out.Header.Del(h)
			}
			if id := auth.FromContext(pr.In.Context()); id != nil {
				pr.Out.Header.Set(HeaderPrincipalID, id.PrincipalID)
				pr.Out.Header.Set(HeaderEmail, id.Email)
				pr.Out.Header.Set(HeaderRole, string(id.Role))
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			writeError(w, r, http.StatusBadGateway, "upstream unavailable")
		},
	}, nil
}
